// Package session wires the host, the script loaders and the addon and
// template managers into one runtime, and implements the startup sequence.
package session

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/kingrea/kpy/internal/addons"
	"github.com/kingrea/kpy/internal/config"
	"github.com/kingrea/kpy/internal/host"
	"github.com/kingrea/kpy/internal/logbook"
	"github.com/kingrea/kpy/internal/module"
	"github.com/kingrea/kpy/internal/templates"
	"github.com/kingrea/kpy/plugins"
)

// ErrorHandler receives every lifecycle failure in the session. Startup
// failures are reported while the session lock is held, so the handler must
// not call back into the Session.
type ErrorHandler func(name string, err error)

// LoadReport summarizes a LoadScripts pass.
type LoadReport struct {
	Startup  []string
	Template string
	Addons   addons.ResetReport
}

// Session is one running set of scripts.
type Session struct {
	cfg       *config.Config
	host      *host.Host
	logger    *log.Logger
	book      *logbook.Logbook
	handler   ErrorHandler
	Addons    *addons.Manager
	Templates *templates.Manager

	mu            sync.Mutex
	startupLoader *plugins.ScriptLoader
	startup       *module.Registry
	order         []string
}

type options struct {
	logger      *log.Logger
	book        *logbook.Logbook
	handler     ErrorHandler
	host        *host.Host
	addonLoader module.Loader
}

// Option customizes a Session.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLogbook journals lifecycle events to book.
func WithLogbook(book *logbook.Logbook) Option {
	return func(o *options) { o.book = book }
}

// WithErrorHandler replaces the default handler, which logs and journals.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(o *options) { o.handler = handler }
}

// WithHost shares an existing host.
func WithHost(h *host.Host) Option {
	return func(o *options) { o.host = h }
}

// WithAddonLoader replaces the yaegi addon loader.
func WithAddonLoader(loader module.Loader) Option {
	return func(o *options) { o.addonLoader = loader }
}

// New builds a session for cfg. Nothing is loaded until LoadScripts.
func New(cfg *config.Config, opts ...Option) *Session {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard)
	}
	if o.host == nil {
		o.host = host.New(cfg.App, host.WithLogger(o.logger.WithPrefix("script")))
	}
	s := &Session{
		cfg:     cfg,
		host:    o.host,
		logger:  o.logger,
		book:    o.book,
		startup: module.NewRegistry(),
	}
	s.handler = o.handler
	if s.handler == nil {
		s.handler = func(name string, err error) {
			s.logger.Error("script failure", "module", name, "err", err)
		}
	}

	addonPaths := func() []plugins.SearchPath { return addons.SearchPaths(cfg.ScriptPaths) }
	addonLoader := o.addonLoader
	if addonLoader == nil {
		addonLoader = plugins.NewScriptLoader(
			func() []string {
				var dirs []string
				for _, sp := range addonPaths() {
					dirs = append(dirs, sp.Dir)
				}
				return dirs
			},
			plugins.RequireManifest(true),
			plugins.WithGoPath(cfg.GoPath),
			plugins.WithLoaderLogger(o.logger.WithPrefix("loader")),
		)
	}
	s.startupLoader = plugins.NewScriptLoader(
		func() []string { return cfg.ScriptPaths(config.StartupDir) },
		plugins.WithGoPath(cfg.GoPath),
		plugins.WithLoaderLogger(o.logger.WithPrefix("loader")),
	)

	s.Addons = addons.NewManager(s.host, addonLoader, addonPaths,
		addons.WithLogger(o.logger.WithPrefix("addons")),
		addons.WithLogbook(o.book),
		addons.WithPreferences(cfg.Prefs),
		addons.WithMigrationFloor(cfg.MigrationFloor),
		addons.WithErrorHandler(addons.ErrorHandler(s.handler)),
	)
	s.Templates = templates.NewManager(s.host, s.startupLoader,
		func() []string { return cfg.ScriptPaths(config.TemplatesDir) },
		templates.WithLogger(o.logger.WithPrefix("templates")),
		templates.WithLogbook(o.book),
		templates.WithPreferences(cfg.Prefs),
		templates.WithErrorHandler(templates.ErrorHandler(s.handler)),
	)
	return s
}

// Host returns the session host.
func (s *Session) Host() *host.Host { return s.host }

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// StartupOwner is the class owner id of a startup module.
func StartupOwner(name string) string {
	return "startup." + name
}

// LoadScripts registers startup modules, activates the stored template and
// reconciles addons with preferences. With reload set, addons stored in
// preferences are disabled and every startup module is unregistered and
// re-imported first.
func (s *Session) LoadScripts(reload bool) LoadReport {
	var report LoadReport
	if reload {
		for _, name := range s.cfg.Prefs.Addons() {
			_ = s.Addons.Disable(name, addons.DisableOptions{})
		}
		s.unregisterStartup()
	}

	s.mu.Lock()
	loaded := make(map[string]bool)
	for _, dir := range s.cfg.ScriptPaths(config.StartupDir) {
		entries, err := plugins.ModuleNames(dir)
		if err != nil {
			s.logger.Warn("startup scan failed", "path", dir, "err", err)
			continue
		}
		for _, entry := range entries {
			if loaded[entry.Name] {
				continue
			}
			loaded[entry.Name] = true
			if err := s.registerStartupLocked(entry); err != nil {
				s.handler(entry.Name, err)
				continue
			}
			report.Startup = append(report.Startup, entry.Name)
		}
	}
	s.mu.Unlock()

	if len(s.cfg.ScriptPaths(config.TemplatesDir)) > 0 {
		if err := s.Templates.Reset(reload); err != nil {
			s.logger.Warn("template activation failed", "template", s.cfg.Prefs.AppTemplate(), "err", err)
		}
	}
	report.Template = s.Templates.Active()
	report.Addons = s.Addons.ResetAll(reload)
	return report
}

func (s *Session) registerStartupLocked(entry plugins.Entry) error {
	mod, src, err := s.startupLoader.LoadEntry(entry)
	if err != nil {
		return fmt.Errorf("session: import %s: %w", entry.Name, err)
	}
	owner := StartupOwner(entry.Name)
	scope := s.host.Scope(owner)
	if err := safeCall(func() error { return mod.Register(scope) }); err != nil {
		s.host.Classes().ReleaseOwner(owner)
		s.book.Record(logbook.LevelError, logbook.EventFailure, owner, err.Error())
		return fmt.Errorf("session: register %s: %w", entry.Name, err)
	}
	s.startup.Put(&module.Loaded{Source: src, Module: mod, Enabled: true})
	s.order = append(s.order, entry.Name)
	s.book.Record(logbook.LevelInfo, logbook.EventStartup, entry.Name, src.Path)
	return nil
}

func (s *Session) unregisterStartup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		entry, ok := s.startup.Get(name)
		if !ok {
			continue
		}
		s.unregisterStartupLocked(entry)
	}
	s.order = nil
}

func (s *Session) unregisterStartupLocked(entry *module.Loaded) {
	owner := StartupOwner(entry.Name)
	scope := s.host.Scope(owner)
	if err := safeCall(func() error { return entry.Module.Unregister(scope) }); err != nil {
		s.handler(entry.Name, fmt.Errorf("session: unregister %s: %w", entry.Name, err))
	}
	s.host.Classes().ReleaseOwner(owner)
	s.startup.Delete(entry.Name)
}

// StartupModules lists the registered startup modules in load order.
func (s *Session) StartupModules() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Reload re-registers whatever changed on disk: enabled addons, startup
// modules and the active template. changed is the batch of paths that
// triggered the call; it is only logged since stamps decide what reloads.
// The names of reloaded modules are returned.
func (s *Session) Reload(changed []string) []string {
	s.logger.Debug("reload requested", "paths", len(changed))
	s.Addons.Refresh()
	reloaded := s.Addons.Changed()

	s.mu.Lock()
	for _, name := range append([]string(nil), s.order...) {
		entry, ok := s.startup.Get(name)
		if !ok {
			continue
		}
		stamp, err := plugins.Stamp(entry.Files...)
		if err == nil && stamp.Equal(entry.ModTime) {
			continue
		}
		s.unregisterStartupLocked(entry)
		s.order = remove(s.order, name)
		if err != nil {
			continue
		}
		located, err := s.startupLoader.Find(name)
		if err != nil {
			s.handler(name, err)
			continue
		}
		if err := s.registerStartupLocked(located); err != nil {
			s.handler(name, err)
			continue
		}
		reloaded = append(reloaded, name)
	}
	s.mu.Unlock()

	if active := s.Templates.Active(); active != "" {
		if entry, ok := s.Templates.Loaded(active); ok {
			stamp, err := plugins.Stamp(entry.Files...)
			if err != nil || !stamp.Equal(entry.ModTime) {
				if err := s.Templates.Activate(active, true); err == nil {
					reloaded = append(reloaded, templates.Owner(active))
				}
			}
		}
	}
	sort.Strings(reloaded)
	return reloaded
}

// Close disables every addon, deactivates the template and unregisters the
// startup modules in reverse load order.
func (s *Session) Close() {
	s.Addons.DisableAll()
	if err := s.Templates.Activate("", false); err != nil {
		s.logger.Warn("template deactivation failed", "err", err)
	}
	s.unregisterStartup()
}

func remove(names []string, target string) []string {
	out := names[:0]
	for _, name := range names {
		if name != target {
			out = append(out, name)
		}
	}
	return out
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

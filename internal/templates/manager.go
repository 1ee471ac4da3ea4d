// Package templates activates application templates. A template is a
// directory under startup/app_templates whose scripts configure the
// application; at most one template is active at a time.
package templates

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/kingrea/kpy/internal/host"
	"github.com/kingrea/kpy/internal/logbook"
	"github.com/kingrea/kpy/internal/module"
	"github.com/kingrea/kpy/plugins"
)

var (
	// ErrNotFound means no template directory carries the requested id.
	ErrNotFound = errors.New("templates: template not found")
	// ErrNoScripts means the template directory holds no Go sources.
	ErrNoScripts = errors.New("templates: template has no scripts")
)

// EntryLoader imports a located module. plugins.ScriptLoader implements it.
type EntryLoader interface {
	LoadEntry(entry plugins.Entry) (module.Module, module.Source, error)
}

// Preferences supplies the stored template id.
type Preferences interface {
	AppTemplate() string
}

// ErrorHandler receives import, register and unregister failures.
type ErrorHandler func(id string, err error)

// Manager tracks the active template and the imported template modules.
// An imported entry may be nil when the template has no scripts.
type Manager struct {
	mu      sync.Mutex
	host    *host.Host
	dirs    func() []string
	loader  EntryLoader
	prefs   Preferences
	active  string
	modules map[string]*module.Loaded
	logger  *log.Logger
	book    *logbook.Logbook
	handler ErrorHandler
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithLogbook journals activations to book.
func WithLogbook(book *logbook.Logbook) Option {
	return func(m *Manager) { m.book = book }
}

// WithPreferences sets the store Reset reads the template id from.
func WithPreferences(prefs Preferences) Option {
	return func(m *Manager) { m.prefs = prefs }
}

// WithErrorHandler replaces the default handler, which logs the failure.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(m *Manager) {
		if handler != nil {
			m.handler = handler
		}
	}
}

// NewManager returns a manager that looks for templates in the directories
// returned by dirs.
func NewManager(h *host.Host, loader EntryLoader, dirs func() []string, opts ...Option) *Manager {
	m := &Manager{
		host:    h,
		dirs:    dirs,
		loader:  loader,
		modules: make(map[string]*module.Loaded),
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.dirs == nil {
		m.dirs = func() []string { return nil }
	}
	if m.handler == nil {
		m.handler = func(id string, err error) {
			m.logger.Error("template failure", "template", id, "err", err)
		}
	}
	return m
}

// Owner is the class owner id used for a template's registrations.
func Owner(id string) string {
	return "app_template." + id
}

// Active returns the active template id, or "" for none.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Loaded returns a copy of the imported entry for id. ok is false when id
// was never imported or has no scripts.
func (m *Manager) Loaded(id string) (module.Loaded, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.modules[id]
	if !ok || entry == nil {
		return module.Loaded{}, false
	}
	return *entry, true
}

// Available lists the template ids found across the template directories.
func (m *Manager) Available() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, dir := range m.dirs() {
		items, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, item := range items {
			name := item.Name()
			if !item.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || seen[name] {
				continue
			}
			seen[name] = true
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids
}

// Path returns the first directory holding template id.
func (m *Manager) Path(id string) (string, bool) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", false
	}
	for _, dir := range m.dirs() {
		candidate := filepath.Join(dir, id)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// ImportFromID imports the template id. With ignoreNotFound, a missing
// template or one without scripts yields a nil module and no error.
func (m *Manager) ImportFromID(id string, ignoreNotFound bool) (module.Module, module.Source, error) {
	dir, ok := m.Path(id)
	if !ok {
		if ignoreNotFound {
			return nil, module.Source{}, nil
		}
		return nil, module.Source{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	entry, ok, err := plugins.DirEntry(dir)
	if err != nil {
		return nil, module.Source{}, err
	}
	if !ok {
		if ignoreNotFound {
			return nil, module.Source{}, nil
		}
		return nil, module.Source{}, fmt.Errorf("%w: %q", ErrNoScripts, id)
	}
	return m.loader.LoadEntry(entry)
}

// Activate makes id the active template. The previous template is disabled
// before the new one is enabled, so two templates are never active
// together. Activating the active id again does nothing unless reload is
// set, which also re-imports the template. An empty id deactivates. The
// active id is updated even when the template has no scripts or fails to
// register.
func (m *Manager) Activate(id string, reload bool) error {
	id = strings.TrimSpace(id)
	var failures []failure
	m.mu.Lock()
	prev := m.active
	if !reload && prev == id {
		m.mu.Unlock()
		return nil
	}
	if prev != "" {
		m.disableLocked(prev, &failures)
	}
	var err error
	if id != "" {
		err = m.enableLocked(id, reload, &failures)
	}
	m.active = id
	m.mu.Unlock()

	for _, f := range failures {
		m.handler(f.id, f.err)
	}
	m.book.Record(logbook.LevelInfo, logbook.EventTemplate, displayID(id), "previous "+displayID(prev))
	return err
}

// Reset activates the template stored in preferences.
func (m *Manager) Reset(reload bool) error {
	id := ""
	if m.prefs != nil {
		id = m.prefs.AppTemplate()
	}
	m.logger.Debug("resetting app template", "template", id)
	return m.Activate(id, reload)
}

func (m *Manager) enableLocked(id string, reload bool, failures *[]failure) error {
	entry, cached := m.modules[id]
	if !cached || entry == nil || reload {
		mod, src, err := m.ImportFromID(id, true)
		if err != nil {
			err = fmt.Errorf("templates: import %s: %w", id, err)
			*failures = append(*failures, failure{id: id, err: err})
			m.book.Record(logbook.LevelError, logbook.EventFailure, Owner(id), err.Error())
			return err
		}
		entry = nil
		if mod != nil {
			entry = &module.Loaded{Source: src, Module: mod}
		}
		m.modules[id] = entry
	}
	if entry == nil {
		m.logger.Debug("template has no scripts", "template", id)
		return nil
	}
	entry.Enabled = false
	owner := Owner(id)
	scope := m.host.Scope(owner)
	if err := safeCall(func() error { return entry.Module.Register(scope) }); err != nil {
		err = fmt.Errorf("templates: register %s: %w", id, err)
		m.host.Classes().ReleaseOwner(owner)
		delete(m.modules, id)
		*failures = append(*failures, failure{id: id, err: err})
		m.book.Record(logbook.LevelError, logbook.EventFailure, owner, err.Error())
		return err
	}
	entry.Enabled = true
	return nil
}

func (m *Manager) disableLocked(id string, failures *[]failure) {
	entry, ok := m.modules[id]
	switch {
	case ok && entry == nil:
		// Nothing to unregister and nothing worth keeping.
		delete(m.modules, id)
	case ok && entry.Enabled:
		entry.Enabled = false
		owner := Owner(id)
		scope := m.host.Scope(owner)
		if err := safeCall(func() error { return entry.Module.Unregister(scope) }); err != nil {
			err = fmt.Errorf("templates: unregister %s: %w", id, err)
			*failures = append(*failures, failure{id: id, err: err})
			m.book.Record(logbook.LevelError, logbook.EventFailure, owner, err.Error())
		}
		m.host.Classes().ReleaseOwner(owner)
	default:
		m.logger.Info("template not loaded", "template", id)
	}
}

type failure struct {
	id  string
	err error
}

func displayID(id string) string {
	if id == "" {
		return "(default)"
	}
	return id
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

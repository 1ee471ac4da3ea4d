// Package addons implements the enable/disable lifecycle of addon modules:
// import through a module.Loader, the host version gate, registration in a
// scope owned by the module, and the enabled-addon preferences.
package addons

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/kingrea/kpy/internal/config"
	"github.com/kingrea/kpy/internal/host"
	"github.com/kingrea/kpy/internal/logbook"
	"github.com/kingrea/kpy/internal/module"
	"github.com/kingrea/kpy/plugins"
)

var (
	// ErrNotLoaded is returned by Disable for modules that are not enabled.
	ErrNotLoaded = errors.New("addons: module not loaded")
	// ErrVersionGated is returned by Enable when the module targets a host
	// version outside the supported range. The error handler is not called.
	ErrVersionGated = errors.New("addons: module skipped by version gate")
)

// DefaultMigrationFloor is the oldest declared host version an addon may
// target and still be enabled.
var DefaultMigrationFloor = host.V(1, 50, 0)

// ErrorHandler receives import, register and unregister failures. It runs
// after the manager has released its lock, so it may call back into the
// manager.
type ErrorHandler func(name string, err error)

// Preferences is the persisted set of addons enabled at startup.
type Preferences interface {
	Addons() []string
	HasAddon(name string) bool
	EnsureAddon(name string) bool
	RemoveAddon(name string) bool
}

// EnableOptions controls a single Enable call.
type EnableOptions struct {
	// DefaultSet stores the addon in preferences. The entry is removed
	// again when enabling fails.
	DefaultSet bool
	// Persistent keeps the addon reported as enabled by default even when
	// it is absent from preferences.
	Persistent bool
	// HandleError overrides the manager error handler for this call.
	HandleError ErrorHandler
}

// DisableOptions controls a single Disable call.
type DisableOptions struct {
	// DefaultSet removes the addon from preferences.
	DefaultSet  bool
	HandleError ErrorHandler
}

// ResetReport lists what ResetAll changed.
type ResetReport struct {
	Enabled  []string
	Disabled []string
	Reloaded []string
}

// Manager owns the loaded-addon registry and drives state transitions.
// Every method is synchronous.
type Manager struct {
	mu       sync.Mutex
	host     *host.Host
	loader   module.Loader
	cache    *plugins.Cache
	registry *module.Registry
	paths    func() []plugins.SearchPath
	prefs    Preferences
	floor    host.Version
	logger   *log.Logger
	book     *logbook.Logbook
	handler  ErrorHandler
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

// WithLogbook journals lifecycle events to book.
func WithLogbook(book *logbook.Logbook) Option {
	return func(m *Manager) { m.book = book }
}

// WithPreferences sets the preference store used by DefaultSet and Check.
func WithPreferences(prefs Preferences) Option {
	return func(m *Manager) {
		if prefs != nil {
			m.prefs = prefs
		}
	}
}

// WithMigrationFloor overrides DefaultMigrationFloor.
func WithMigrationFloor(floor host.Version) Option {
	return func(m *Manager) { m.floor = floor }
}

// WithErrorHandler replaces the default handler, which logs the failure.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(m *Manager) {
		if handler != nil {
			m.handler = handler
		}
	}
}

// WithCache shares a metadata cache.
func WithCache(cache *plugins.Cache) Option {
	return func(m *Manager) {
		if cache != nil {
			m.cache = cache
		}
	}
}

// NewManager returns a manager that imports addons through loader and scans
// the directories returned by paths.
func NewManager(h *host.Host, loader module.Loader, paths func() []plugins.SearchPath, opts ...Option) *Manager {
	m := &Manager{
		host:     h,
		loader:   loader,
		registry: module.NewRegistry(),
		paths:    paths,
		prefs:    config.NewPreferences(),
		floor:    DefaultMigrationFloor,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.paths == nil {
		m.paths = func() []plugins.SearchPath { return nil }
	}
	if m.cache == nil {
		m.cache = plugins.NewCache(h.App(), plugins.WithCacheLogger(m.logger))
	}
	if m.handler == nil {
		m.handler = m.logError
	}
	return m
}

// SearchPaths builds the addon search paths from the script directories:
// every addons directory, then every addons_contrib directory with support
// forced to TESTING.
func SearchPaths(scriptPaths func(subdir string) []string) []plugins.SearchPath {
	var paths []plugins.SearchPath
	for _, dir := range scriptPaths(config.AddonsDir) {
		paths = append(paths, plugins.SearchPath{Dir: dir})
	}
	for _, dir := range scriptPaths(config.AddonsContribDir) {
		paths = append(paths, plugins.SearchPath{Dir: dir, ForceSupport: module.SupportTesting})
	}
	return paths
}

// Paths returns the addon directories in search order.
func (m *Manager) Paths() []string {
	var dirs []string
	for _, sp := range m.paths() {
		dirs = append(dirs, sp.Dir)
	}
	return dirs
}

// Modules returns the discovered addons sorted by category and name.
func (m *Manager) Modules(refresh bool) []plugins.Record {
	return m.cache.Modules(m.paths(), refresh)
}

// Refresh rescans the addon directories and journals new conflicts.
func (m *Manager) Refresh() plugins.RefreshReport {
	report := m.cache.Refresh(m.paths())
	for _, conflict := range report.Conflicts {
		m.book.Record(logbook.LevelWarn, logbook.EventConflict, conflict.Name, conflict.Error())
	}
	return report
}

// Conflicts returns the duplicate names found by the last scan.
func (m *Manager) Conflicts() []plugins.Conflict {
	return m.cache.Conflicts()
}

// Diagnostics returns the per-module problems found by the last scan.
func (m *Manager) Diagnostics() []plugins.Diagnostic {
	return m.cache.Diagnostics()
}

// Enabled lists the enabled addon names.
func (m *Manager) Enabled() []string {
	return m.registry.Enabled()
}

// Loaded returns a copy of the registry entry for name.
func (m *Manager) Loaded(name string) (module.Loaded, bool) {
	entry, ok := m.registry.Get(name)
	if !ok {
		return module.Loaded{}, false
	}
	return *entry, true
}

// Check reports whether name is enabled by default (stored in preferences
// or persistent) and whether it is currently enabled.
func (m *Manager) Check(name string) (loadedDefault, loadedState bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLocked(name)
}

func (m *Manager) checkLocked(name string) (bool, bool) {
	loadedDefault := m.prefs.HasAddon(name)
	entry, ok := m.registry.Get(name)
	if !ok {
		return loadedDefault, false
	}
	if entry.Persistent {
		loadedDefault = true
	}
	return loadedDefault, entry.Enabled
}

// Enable imports and registers name. It returns the registry entry on
// success. Failures are passed to the error handler and leave the module
// unregistered; a version-gated module returns ErrVersionGated without
// calling the handler.
func (m *Manager) Enable(name string, opts EnableOptions) (*module.Loaded, error) {
	var failures failureList
	m.mu.Lock()
	entry, err := m.enableLocked(name, opts, &failures)
	m.mu.Unlock()
	failures.dispatch(m.pick(opts.HandleError))
	return entry, err
}

func (m *Manager) enableLocked(name string, opts EnableOptions, failures *failureList) (*module.Loaded, error) {
	if entry, ok := m.registry.Get(name); ok {
		if _, err := m.loader.Stamp(entry.Source); err != nil {
			// The files are gone; import from scratch.
			m.registry.Delete(name)
		} else {
			if entry.Enabled {
				if err := m.unregister(entry); err != nil {
					err = fmt.Errorf("addons: unregister %s: %w", name, err)
					failures.add(name, err)
					m.book.Record(logbook.LevelError, logbook.EventFailure, name, err.Error())
					return nil, err
				}
			}
			entry.Enabled = false
			stamp, _ := m.loader.Stamp(entry.Source)
			if !stamp.Equal(entry.ModTime) {
				m.logger.Info("module changed on disk, reloading", "module", name, "path", entry.Path)
				m.registry.Delete(name)
				mod, src, err := m.loader.Load(name)
				if err != nil {
					err = fmt.Errorf("addons: reload %s: %w", name, err)
					failures.add(name, err)
					m.book.Record(logbook.LevelError, logbook.EventFailure, name, err.Error())
					return nil, err
				}
				m.registry.Put(&module.Loaded{Source: src, Module: mod})
				m.book.Record(logbook.LevelInfo, logbook.EventReload, name, src.Path)
			}
		}
	}

	if opts.DefaultSet {
		m.prefs.EnsureAddon(name)
	}
	rollback := func() {
		if opts.DefaultSet {
			m.prefs.RemoveAddon(name)
		}
	}

	entry, ok := m.registry.Get(name)
	if !ok {
		mod, src, err := m.loader.Load(name)
		if err != nil {
			rollback()
			if errors.Is(err, module.ErrNotFound) {
				m.logger.Warn("addon not found", "module", name)
				return nil, fmt.Errorf("addons: enable %s: %w", name, err)
			}
			err = fmt.Errorf("addons: import %s: %w", name, err)
			failures.add(name, err)
			m.book.Record(logbook.LevelError, logbook.EventFailure, name, err.Error())
			return nil, err
		}
		entry = &module.Loaded{Source: src, Module: mod}
		m.registry.Put(entry)
	}

	if err := m.gate(entry); err != nil {
		if m.host.App().Debug {
			m.logger.Warn("addon skipped", "module", name, "reason", err)
		}
		return nil, err
	}

	scope := m.host.Scope(name)
	if err := safeCall(func() error { return entry.Module.Register(scope) }); err != nil {
		err = fmt.Errorf("addons: register %s: %w", name, err)
		released := m.host.Classes().ReleaseOwner(name)
		if len(released) > 0 {
			m.logger.Debug("released classes after failed register", "module", name, "count", len(released))
		}
		m.registry.Delete(name)
		rollback()
		failures.add(name, err)
		m.book.Record(logbook.LevelError, logbook.EventFailure, name, err.Error())
		return nil, err
	}

	entry.Enabled = true
	entry.Persistent = opts.Persistent
	m.logger.Debug("addon enabled", "module", name)
	m.book.Record(logbook.LevelInfo, logbook.EventEnable, name, entry.Path)
	return entry, nil
}

// gate rejects modules written for hosts older than the migration floor or
// newer than the running host.
func (m *Manager) gate(entry *module.Loaded) error {
	target := entry.Info.Kraken
	if target.Less(m.floor) {
		return fmt.Errorf("%w: %s targets %s, older than %s", ErrVersionGated, entry.Name, target, m.floor)
	}
	if current := m.host.App().Version; current.Less(target) {
		return fmt.Errorf("%w: %s requires %s, running %s", ErrVersionGated, entry.Name, target, current)
	}
	return nil
}

// Disable unregisters name. Unregister failures are reported to the error
// handler but the module still ends up disabled. Modules that are not
// enabled yield ErrNotLoaded.
func (m *Manager) Disable(name string, opts DisableOptions) error {
	var failures failureList
	m.mu.Lock()
	err := m.disableLocked(name, opts, &failures)
	m.mu.Unlock()
	failures.dispatch(m.pick(opts.HandleError))
	return err
}

func (m *Manager) disableLocked(name string, opts DisableOptions, failures *failureList) error {
	if opts.DefaultSet {
		defer m.prefs.RemoveAddon(name)
	}
	entry, ok := m.registry.Get(name)
	if !ok || !entry.Enabled {
		m.logger.Info("addon not loaded", "module", name, "imported", ok)
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	entry.Enabled = false
	entry.Persistent = false
	if err := m.unregister(entry); err != nil {
		err = fmt.Errorf("addons: unregister %s: %w", name, err)
		failures.add(name, err)
		m.book.Record(logbook.LevelError, logbook.EventFailure, name, err.Error())
	}
	m.book.Record(logbook.LevelInfo, logbook.EventDisable, name, "")
	return nil
}

// unregister calls the module's Unregister and releases whatever classes it
// left behind.
func (m *Manager) unregister(entry *module.Loaded) error {
	scope := m.host.Scope(entry.Name)
	err := safeCall(func() error { return entry.Module.Unregister(scope) })
	if leftover := m.host.Classes().ReleaseOwner(entry.Name); len(leftover) > 0 {
		m.logger.Debug("released leftover classes", "module", entry.Name, "count", len(leftover))
	}
	return err
}

// ResetAll rescans the addon directories and brings the loaded state of
// every discovered addon in line with preferences. With reloadScripts set,
// loaded addons are re-imported first.
func (m *Manager) ResetAll(reloadScripts bool) ResetReport {
	m.Refresh()
	var failures failureList
	var report ResetReport
	m.mu.Lock()
	seen := make(map[string]bool)
	for _, dir := range m.Paths() {
		entries, err := plugins.ModuleNames(dir)
		if err != nil {
			m.logger.Warn("scan failed", "path", dir, "err", err)
			continue
		}
		for _, item := range entries {
			if seen[item.Name] {
				continue
			}
			seen[item.Name] = true
			name := item.Name
			isEnabled, isLoaded := m.checkLocked(name)
			persistent := false
			if reloadScripts {
				if entry, ok := m.registry.Get(name); ok {
					persistent = entry.Persistent
					if entry.Enabled {
						if err := m.unregister(entry); err != nil {
							failures.add(name, fmt.Errorf("addons: unregister %s: %w", name, err))
						}
					}
					m.registry.Delete(name)
					isLoaded = false
					report.Reloaded = append(report.Reloaded, name)
				}
			}
			switch {
			case isEnabled == isLoaded:
			case isEnabled:
				if _, err := m.enableLocked(name, EnableOptions{Persistent: persistent}, &failures); err == nil {
					report.Enabled = append(report.Enabled, name)
				}
			case isLoaded:
				m.logger.Info("unloading addon", "module", name)
				if err := m.disableLocked(name, DisableOptions{}, &failures); err == nil {
					report.Disabled = append(report.Disabled, name)
				}
			}
		}
	}
	m.mu.Unlock()
	failures.dispatch(m.handler)
	sort.Strings(report.Enabled)
	sort.Strings(report.Disabled)
	sort.Strings(report.Reloaded)
	return report
}

// DisableAll disables every enabled addon.
func (m *Manager) DisableAll() []string {
	var failures failureList
	var disabled []string
	m.mu.Lock()
	for _, name := range m.registry.Enabled() {
		// A previous Disable may have taken this one down already.
		if entry, ok := m.registry.Get(name); !ok || !entry.Enabled {
			continue
		}
		if err := m.disableLocked(name, DisableOptions{}, &failures); err == nil {
			disabled = append(disabled, name)
		}
	}
	m.mu.Unlock()
	failures.dispatch(m.handler)
	return disabled
}

// Changed re-enables enabled addons whose files changed on disk. It
// returns the names that were reloaded.
func (m *Manager) Changed() []string {
	var failures failureList
	var reloaded []string
	m.mu.Lock()
	for _, name := range m.registry.Enabled() {
		entry, ok := m.registry.Get(name)
		if !ok {
			continue
		}
		stamp, err := m.loader.Stamp(entry.Source)
		if err == nil && stamp.Equal(entry.ModTime) {
			continue
		}
		if err != nil {
			_ = m.disableLocked(name, DisableOptions{}, &failures)
			m.registry.Delete(name)
			continue
		}
		if _, err := m.enableLocked(name, EnableOptions{Persistent: entry.Persistent}, &failures); err == nil {
			reloaded = append(reloaded, name)
		}
	}
	m.mu.Unlock()
	failures.dispatch(m.handler)
	return reloaded
}

func (m *Manager) pick(handler ErrorHandler) ErrorHandler {
	if handler != nil {
		return handler
	}
	return m.handler
}

func (m *Manager) logError(name string, err error) {
	m.logger.Error("addon failure", "module", name, "err", err)
}

// safeCall runs fn and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

type failure struct {
	name string
	err  error
}

type failureList []failure

func (f *failureList) add(name string, err error) {
	*f = append(*f, failure{name: name, err: err})
}

func (f failureList) dispatch(handler ErrorHandler) {
	if handler == nil {
		return
	}
	for _, item := range f {
		handler(item.name, item.err)
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const defaultPreferencesYAML = `# kpy preferences
version: 1

# Addons enabled at startup, by module name.
addons: []

# Application template activated at startup. Empty selects the default.
app_template: ""

# Extra script roots searched after the local, user and system roots.
script_directories: []
`

// AddonPref is one enabled addon entry.
type AddonPref struct {
	Module string `yaml:"module"`
}

type preferencesDocument struct {
	Version           int         `yaml:"version"`
	Addons            []AddonPref `yaml:"addons"`
	AppTemplate       string      `yaml:"app_template"`
	ScriptDirectories []string    `yaml:"script_directories"`
}

// Preferences is the persisted user state. It is safe for concurrent use;
// changes stay in memory until Save.
type Preferences struct {
	mu   sync.Mutex
	path string
	doc  preferencesDocument
}

// NewPreferences returns in-memory defaults not backed by a file.
func NewPreferences() *Preferences {
	return &Preferences{doc: preferencesDocument{Version: 1}}
}

// LoadPreferences reads path. A missing file yields defaults bound to path.
func LoadPreferences(path string) (*Preferences, error) {
	prefs := NewPreferences()
	prefs.path = path
	if strings.TrimSpace(path) == "" {
		return prefs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return prefs, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var parsed preferencesDocument
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.normalize(filepath.Dir(path))
	if err := parsed.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	prefs.doc = parsed
	return prefs, nil
}

// Path returns the backing file, or "" for in-memory preferences.
func (p *Preferences) Path() string {
	return p.path
}

// Save writes the preferences back to their file.
func (p *Preferences) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == "" {
		return fmt.Errorf("config: preferences have no file")
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("config: ensure config dir: %w", err)
	}
	data, err := yaml.Marshal(p.doc)
	if err != nil {
		return fmt.Errorf("config: encode preferences: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("config: write preferences: %w", err)
	}
	return nil
}

// Addons lists enabled addon module names in stored order.
func (p *Preferences) Addons() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.doc.Addons))
	for i, addon := range p.doc.Addons {
		names[i] = addon.Module
	}
	return names
}

// HasAddon reports whether name is stored as enabled.
func (p *Preferences) HasAddon(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indexLocked(name) >= 0
}

// EnsureAddon stores name as enabled. It reports whether the entry is new.
func (p *Preferences) EnsureAddon(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name == "" || p.indexLocked(name) >= 0 {
		return false
	}
	p.doc.Addons = append(p.doc.Addons, AddonPref{Module: name})
	return true
}

// RemoveAddon drops every entry for name. It reports whether one existed.
func (p *Preferences) RemoveAddon(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.doc.Addons[:0]
	removed := false
	for _, addon := range p.doc.Addons {
		if addon.Module == name {
			removed = true
			continue
		}
		kept = append(kept, addon)
	}
	p.doc.Addons = kept
	return removed
}

// AppTemplate returns the stored template id.
func (p *Preferences) AppTemplate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.AppTemplate
}

// SetAppTemplate stores the template id.
func (p *Preferences) SetAppTemplate(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.AppTemplate = strings.TrimSpace(id)
}

// ScriptDirectories returns the extra script roots.
func (p *Preferences) ScriptDirectories() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.doc.ScriptDirectories...)
}

// SetScriptDirectories replaces the extra script roots.
func (p *Preferences) SetScriptDirectories(dirs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.ScriptDirectories = append([]string(nil), dirs...)
}

func (p *Preferences) indexLocked(name string) int {
	for i, addon := range p.doc.Addons {
		if addon.Module == name {
			return i
		}
	}
	return -1
}

func (doc *preferencesDocument) normalize(base string) {
	if doc.Version == 0 {
		doc.Version = 1
	}
	seen := make(map[string]bool, len(doc.Addons))
	addons := doc.Addons[:0]
	for _, addon := range doc.Addons {
		addon.Module = strings.TrimSpace(addon.Module)
		if addon.Module == "" || seen[addon.Module] {
			continue
		}
		seen[addon.Module] = true
		addons = append(addons, addon)
	}
	doc.Addons = addons
	doc.AppTemplate = strings.TrimSpace(doc.AppTemplate)
	dirs := doc.ScriptDirectories[:0]
	for _, dir := range doc.ScriptDirectories {
		if resolved := resolvePath(base, dir); resolved != "" {
			dirs = append(dirs, resolved)
		}
	}
	doc.ScriptDirectories = dirs
}

func (doc preferencesDocument) validate() error {
	if doc.Version < 1 {
		return fmt.Errorf("preferences version must be >= 1")
	}
	if strings.ContainsAny(doc.AppTemplate, `/\`) {
		return fmt.Errorf("app_template must be a template id, got %q", doc.AppTemplate)
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := cleanPath(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensurePreferences(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultPreferencesYAML), 0o644)
}

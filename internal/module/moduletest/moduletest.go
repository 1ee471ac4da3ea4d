// Package moduletest provides an in-memory module.Loader for lifecycle tests.
package moduletest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kingrea/kpy/internal/host"
	"github.com/kingrea/kpy/internal/module"
)

// Spec configures one fake module.
type Spec struct {
	Info          module.Info
	ModTime       time.Time
	Path          string
	Classes       []string
	LoadErr       error
	RegisterErr   error
	UnregisterErr error
	Panic         bool
	Gone          bool
}

// Loader serves Specs by name and journals every call.
type Loader struct {
	mu     sync.Mutex
	specs  map[string]*Spec
	events []string
	loads  map[string]int
}

// NewLoader returns an empty loader.
func NewLoader() *Loader {
	return &Loader{specs: map[string]*Spec{}, loads: map[string]int{}}
}

// Add installs spec under name and returns it for later mutation.
func (l *Loader) Add(name string, spec Spec) *Spec {
	l.mu.Lock()
	defer l.mu.Unlock()
	if spec.Path == "" {
		spec.Path = "/fake/" + name + ".go"
	}
	if spec.ModTime.IsZero() {
		spec.ModTime = time.Unix(1_700_000_000, 0)
	}
	s := spec
	l.specs[name] = &s
	return &s
}

// Update mutates a spec under the loader lock.
func (l *Loader) Update(name string, fn func(*Spec)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if spec, ok := l.specs[name]; ok {
		fn(spec)
	}
}

// Load implements module.Loader.
func (l *Loader) Load(name string) (module.Module, module.Source, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "load:"+name)
	spec, ok := l.specs[name]
	if !ok {
		return nil, module.Source{}, fmt.Errorf("%w: %s", module.ErrNotFound, name)
	}
	if spec.LoadErr != nil {
		return nil, module.Source{}, spec.LoadErr
	}
	l.loads[name]++
	src := module.Source{
		Name:    name,
		Path:    spec.Path,
		Files:   []string{spec.Path},
		ModTime: spec.ModTime,
		Info:    spec.Info,
		HasInfo: true,
	}
	return &fakeModule{name: name, loader: l, generation: l.loads[name]}, src, nil
}

// Stamp implements module.Loader.
func (l *Loader) Stamp(src module.Source) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	spec, ok := l.specs[src.Name]
	if !ok || spec.Gone {
		return time.Time{}, fmt.Errorf("%w: %s", module.ErrNotFound, src.Name)
	}
	return spec.ModTime, nil
}

// Events returns the call journal.
func (l *Loader) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// ResetEvents clears the journal.
func (l *Loader) ResetEvents() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

// Loads reports how many times name was imported.
func (l *Loader) Loads(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[name]
}

// Names returns the configured module names.
func (l *Loader) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.specs))
	for name := range l.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Loader) record(event string) *Spec {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return l.specs[eventName(event)]
}

func eventName(event string) string {
	for i := 0; i < len(event); i++ {
		if event[i] == ':' {
			return event[i+1:]
		}
	}
	return event
}

type fakeModule struct {
	name       string
	loader     *Loader
	generation int
}

func (m *fakeModule) Register(scope *host.Scope) error {
	spec := m.loader.record("register:" + m.name)
	if spec == nil {
		return nil
	}
	for _, id := range spec.Classes {
		if err := scope.RegisterClass("operator", id); err != nil {
			return err
		}
	}
	if spec.Panic {
		panic("register exploded")
	}
	return spec.RegisterErr
}

func (m *fakeModule) Unregister(scope *host.Scope) error {
	spec := m.loader.record("unregister:" + m.name)
	if spec == nil {
		return nil
	}
	if spec.UnregisterErr != nil {
		return spec.UnregisterErr
	}
	for _, id := range spec.Classes {
		_ = scope.UnregisterClass("operator", id)
	}
	return nil
}

// Generation reports which import of the module m came from.
func Generation(m module.Module) int {
	if fm, ok := m.(*fakeModule); ok {
		return fm.generation
	}
	return 0
}

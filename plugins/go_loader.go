package plugins

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kingrea/kpy/internal/host"
	"github.com/kingrea/kpy/internal/module"
)

const (
	registerFuncName   = "Register"
	unregisterFuncName = "Unregister"
)

// DefaultAllowedPackages is the standard library surface scripts may
// import. Anything touching the process, the filesystem or the network is
// left out.
var DefaultAllowedPackages = []string{
	"bytes",
	"encoding/json",
	"errors",
	"fmt",
	"maps",
	"math",
	"path",
	"regexp",
	"slices",
	"sort",
	"strconv",
	"strings",
	"text/template",
	"time",
	"unicode",
	"unicode/utf8",
}

// ScriptLoader imports Go script modules with the yaegi interpreter. Each
// module gets its own interpreter whose imports are limited to the allowlist
// and the kpy host package.
type ScriptLoader struct {
	dirs            func() []string
	gopath          func() string
	allowed         map[string]bool
	requireManifest bool
	logger          *log.Logger
}

// LoaderOption customizes a ScriptLoader.
type LoaderOption func(*ScriptLoader)

// WithGoPath sets the interpreter GOPATH used to resolve shared script
// libraries under <gopath>/src.
func WithGoPath(fn func() string) LoaderOption {
	return func(l *ScriptLoader) {
		if fn != nil {
			l.gopath = fn
		}
	}
}

// WithAllowedPackages replaces the importable standard library packages.
func WithAllowedPackages(pkgs ...string) LoaderOption {
	return func(l *ScriptLoader) {
		l.allowed = make(map[string]bool, len(pkgs))
		for _, pkg := range pkgs {
			l.allowed[strings.TrimSpace(pkg)] = true
		}
	}
}

// RequireManifest makes Load fail for modules without a sidecar manifest.
func RequireManifest(required bool) LoaderOption {
	return func(l *ScriptLoader) { l.requireManifest = required }
}

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(logger *log.Logger) LoaderOption {
	return func(l *ScriptLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewScriptLoader returns a loader that searches the directories returned
// by dirs, in order, on every Load.
func NewScriptLoader(dirs func() []string, opts ...LoaderOption) *ScriptLoader {
	l := &ScriptLoader{
		dirs:   dirs,
		gopath: func() string { return "" },
		logger: log.New(io.Discard),
	}
	WithAllowedPackages(DefaultAllowedPackages...)(l)
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Find returns the first entry named name across the search directories.
func (l *ScriptLoader) Find(name string) (Entry, error) {
	if l.dirs == nil {
		return Entry{}, fmt.Errorf("%w: %s", module.ErrNotFound, name)
	}
	for _, dir := range l.dirs() {
		entries, err := ModuleNames(dir)
		if err != nil {
			return Entry{}, err
		}
		for _, entry := range entries {
			if entry.Name == name {
				return entry, nil
			}
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", module.ErrNotFound, name)
}

// Load finds and imports the module called name.
func (l *ScriptLoader) Load(name string) (module.Module, module.Source, error) {
	entry, err := l.Find(name)
	if err != nil {
		return nil, module.Source{}, err
	}
	return l.LoadEntry(entry)
}

// LoadEntry imports an already located module.
func (l *ScriptLoader) LoadEntry(entry Entry) (module.Module, module.Source, error) {
	src := module.Source{
		Name:  entry.Name,
		Path:  entry.Path,
		Files: entry.StampFiles(),
	}
	switch {
	case entry.Manifest != "":
		info, err := LoadManifest(entry.Manifest)
		if err != nil {
			return nil, src, err
		}
		src.Info = info
		src.HasInfo = true
	case l.requireManifest:
		return nil, src, fmt.Errorf("%w: %s", ErrManifestMissing, entry.Path)
	}
	stamp, err := Stamp(src.Files...)
	if err != nil {
		return nil, src, err
	}
	src.ModTime = stamp

	i := interp.New(interp.Options{GoPath: l.gopath()})
	if err := i.Use(l.symbols()); err != nil {
		return nil, src, fmt.Errorf("plugins: prepare interpreter for %s: %w", entry.Name, err)
	}
	for _, file := range entry.Files {
		if err := evalFile(i, file); err != nil {
			return nil, src, fmt.Errorf("plugins: interpret %s: %w", file, err)
		}
	}
	register, err := entryPoint(i, registerFuncName)
	if err != nil {
		return nil, src, fmt.Errorf("plugins: %s: %w", entry.Path, err)
	}
	unregister, err := entryPoint(i, unregisterFuncName)
	if err != nil {
		return nil, src, fmt.Errorf("plugins: %s: %w", entry.Path, err)
	}
	l.logger.Debug("imported module", "module", entry.Name, "files", len(entry.Files))
	return &scriptModule{name: entry.Name, register: register, unregister: unregister}, src, nil
}

// Stamp reports the current modification stamp of src.
func (l *ScriptLoader) Stamp(src module.Source) (time.Time, error) {
	return Stamp(src.Files...)
}

func (l *ScriptLoader) symbols() interp.Exports {
	exports := make(interp.Exports, len(l.allowed)+1)
	for key, symbols := range stdlib.Symbols {
		if l.allowed[path.Dir(key)] {
			exports[key] = symbols
		}
	}
	exports[hostPackageKey] = hostSymbols
	return exports
}

func evalFile(i *interp.Interpreter, file string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interpreter panic: %v", r)
		}
	}()
	code, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return errors.New("file is empty")
	}
	_, err = i.EvalPath(file)
	return err
}

var (
	scopeType = reflect.TypeOf((*host.Scope)(nil))
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// entryPoint resolves main.<name> and checks it has one of the accepted
// shapes: func(*kpy.Scope) error, func(*kpy.Scope), func() error or func().
func entryPoint(i *interp.Interpreter, name string) (reflect.Value, error) {
	value, err := i.Eval("main." + name)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("missing %s function: %w", name, err)
	}
	if !value.IsValid() || value.Kind() != reflect.Func {
		return reflect.Value{}, fmt.Errorf("%s is not a function", name)
	}
	fnType := value.Type()
	switch {
	case fnType.NumIn() > 1:
		return reflect.Value{}, fmt.Errorf("%s must take at most one *kpy.Scope argument", name)
	case fnType.NumIn() == 1 && fnType.In(0) != scopeType:
		return reflect.Value{}, fmt.Errorf("%s argument must be *kpy.Scope, got %s", name, fnType.In(0))
	case fnType.NumOut() > 1:
		return reflect.Value{}, fmt.Errorf("%s must return at most an error", name)
	case fnType.NumOut() == 1 && !fnType.Out(0).Implements(errorType):
		return reflect.Value{}, fmt.Errorf("%s must return error, got %s", name, fnType.Out(0))
	}
	return value, nil
}

type scriptModule struct {
	name       string
	register   reflect.Value
	unregister reflect.Value
}

func (m *scriptModule) Register(scope *host.Scope) error {
	return m.call(registerFuncName, m.register, scope)
}

func (m *scriptModule) Unregister(scope *host.Scope) error {
	return m.call(unregisterFuncName, m.unregister, scope)
}

func (m *scriptModule) call(fn string, value reflect.Value, scope *host.Scope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugins: %s.%s panicked: %v", m.name, fn, r)
		}
	}()
	var args []reflect.Value
	if value.Type().NumIn() == 1 {
		args = []reflect.Value{reflect.ValueOf(scope)}
	}
	results := value.Call(args)
	if len(results) == 0 {
		return nil
	}
	if res := results[0]; res.IsValid() && !res.IsNil() {
		if e, ok := res.Interface().(error); ok {
			return e
		}
	}
	return nil
}

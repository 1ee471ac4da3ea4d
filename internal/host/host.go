// Package host models the boundary with the native application: its version,
// the class registration primitive and the context modules may read. Modules never touch
// the host directly; they receive a Scope bound to their owner id.
package host

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// Host bundles the application description with its registries.
type Host struct {
	app     App
	classes *Classes
	logger  *log.Logger
}

// Option customizes Host construction.
type Option func(*Host)

// WithLogger routes script log output through logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New returns a host for app.
func New(app App, opts ...Option) *Host {
	h := &Host{
		app:     app,
		classes: NewClasses(),
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// App returns the application description.
func (h *Host) App() App { return h.app }

// Classes returns the class table.
func (h *Host) Classes() *Classes { return h.classes }

// Scope returns the capability object handed to the module named owner.
func (h *Host) Scope(owner string) *Scope {
	return &Scope{
		owner:   owner,
		app:     h.app,
		classes: h.classes,
		logger:  h.logger.WithPrefix(owner),
	}
}

// Scope is the reduced view of the host a module receives in register and
// unregister. Class registration is bound to the owner and the context is
// restricted.
type Scope struct {
	owner   string
	app     App
	classes *Classes
	logger  *log.Logger
}

// Owner returns the id classes are registered under.
func (s *Scope) Owner() string { return s.owner }

// App returns the host application description.
func (s *Scope) App() App { return s.app }

// Context returns the restricted context.
func (s *Scope) Context() Context { return Restricted{} }

// RegisterClass registers a class owned by this scope.
func (s *Scope) RegisterClass(kind, id string) error {
	return s.classes.Register(s.owner, kind, id)
}

// UnregisterClass removes a class previously registered by this scope.
func (s *Scope) UnregisterClass(kind, id string) error {
	return s.classes.Unregister(s.owner, kind, id)
}

// Classes lists the classes this scope owns.
func (s *Scope) Classes() []string {
	refs := s.classes.Owned(s.owner)
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.String()
	}
	return out
}

// Logf writes an informational line tagged with the owner.
func (s *Scope) Logf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

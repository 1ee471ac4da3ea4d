package module

import "github.com/kingrea/kpy/internal/host"

// Funcs adapts plain functions to Module. Nil functions are no-ops.
type Funcs struct {
	RegisterFunc   func(*host.Scope) error
	UnregisterFunc func(*host.Scope) error
}

// Register implements Module.Register.
func (f Funcs) Register(scope *host.Scope) error {
	if f.RegisterFunc == nil {
		return nil
	}
	return f.RegisterFunc(scope)
}

// Unregister implements Module.Unregister.
func (f Funcs) Unregister(scope *host.Scope) error {
	if f.UnregisterFunc == nil {
		return nil
	}
	return f.UnregisterFunc(scope)
}

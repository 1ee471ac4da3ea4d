package host

import "errors"

// ErrRestricted is returned by every accessor of the context handed to
// modules while they register or unregister.
var ErrRestricted = errors.New("host: context is not available during registration")

// Context exposes live host state to scripts. Modules only ever see it
// through a Scope, which hands out the Restricted form.
type Context interface {
	Stage() (string, error)
	Selection() ([]string, error)
	Frame() (int, error)
}

// Restricted is the context seen by modules during register/unregister.
type Restricted struct{}

func (Restricted) Stage() (string, error)       { return "", ErrRestricted }
func (Restricted) Selection() ([]string, error) { return nil, ErrRestricted }
func (Restricted) Frame() (int, error)          { return 0, ErrRestricted }

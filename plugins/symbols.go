package plugins

import (
	"reflect"

	"github.com/kingrea/kpy/internal/host"
)

// Scripts import the host package as "kpy".
const hostPackageKey = "kpy/kpy"

var hostSymbols = map[string]reflect.Value{
	"App":           reflect.ValueOf((*host.App)(nil)),
	"Context":       reflect.ValueOf((*host.Context)(nil)),
	"ErrRestricted": reflect.ValueOf(&host.ErrRestricted).Elem(),
	"Scope":         reflect.ValueOf((*host.Scope)(nil)),
	"V":             reflect.ValueOf(host.V),
	"Version":       reflect.ValueOf((*host.Version)(nil)),
}

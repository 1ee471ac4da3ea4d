package plugins

import (
	"errors"
	"fmt"
)

// Severity ranks a discovery diagnostic.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic codes emitted while refreshing the cache.
const (
	CodeManifestMissing  = "manifest_missing"
	CodeManifestEncoding = "manifest_encoding"
	CodeManifestSyntax   = "manifest_syntax"
	CodeManifestInvalid  = "manifest_invalid"
	CodeDuplicateModule  = "duplicate_module"
	CodeScanFailed       = "scan_failed"
)

// Diagnostic is a non-fatal problem found while scanning search paths. The
// refresh continues past it.
type Diagnostic struct {
	Severity Severity
	Code     string
	Module   string
	Message  string
	Path     string
	Cause    error
}

func (d Diagnostic) String() string {
	if d.Path == "" {
		return fmt.Sprintf("%s [%s] %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s [%s] %s (%s)", d.Severity, d.Code, d.Message, d.Path)
}

func manifestDiagnostic(name, path string, err error) Diagnostic {
	diag := Diagnostic{
		Severity: SeverityError,
		Code:     CodeManifestInvalid,
		Module:   name,
		Message:  err.Error(),
		Path:     path,
		Cause:    err,
	}
	switch {
	case errors.Is(err, ErrManifestMissing):
		diag.Severity = SeverityWarning
		diag.Code = CodeManifestMissing
		diag.Message = fmt.Sprintf("module %q has no manifest", name)
	case errors.Is(err, ErrManifestEncoding):
		diag.Code = CodeManifestEncoding
	case errors.Is(err, ErrManifestSyntax):
		diag.Code = CodeManifestSyntax
	}
	return diag
}

// Conflict records two modules with the same name in different locations.
// The first one found on the search path wins.
type Conflict struct {
	Name       string
	FirstPath  string
	SecondPath string
}

func (c Conflict) Error() string {
	return fmt.Sprintf("module %q found in %s and %s; using the first", c.Name, c.FirstPath, c.SecondPath)
}

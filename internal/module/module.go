package module

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/kpy/internal/host"
)

// ErrNotFound is returned by loaders when no module with the requested name
// exists on any search path.
var ErrNotFound = errors.New("module: not found")

// Support classifies who maintains an addon.
type Support string

const (
	SupportOfficial  Support = "OFFICIAL"
	SupportCommunity Support = "COMMUNITY"
	SupportTesting   Support = "TESTING"
)

// Valid reports whether s is a known support level.
func (s Support) Valid() bool {
	switch s {
	case SupportOfficial, SupportCommunity, SupportTesting:
		return true
	default:
		return false
	}
}

const manualURLPlaceholder = "{KRAKEN_MANUAL_URL}"

// Info is the metadata block a module declares about itself.
type Info struct {
	Name         string
	Author       string
	Version      host.Tuple
	Kraken       host.Version
	Location     string
	Description  string
	DocURL       string
	Support      Support
	Category     string
	Warning      string
	ShowExpanded bool
}

// Normalized returns a trimmed copy with the support level upper-cased.
func (i Info) Normalized() Info {
	clone := i
	clone.Name = strings.TrimSpace(i.Name)
	clone.Author = strings.TrimSpace(i.Author)
	clone.Location = strings.TrimSpace(i.Location)
	clone.Description = strings.TrimSpace(i.Description)
	clone.DocURL = strings.TrimSpace(i.DocURL)
	clone.Support = Support(strings.ToUpper(strings.TrimSpace(string(i.Support))))
	clone.Category = strings.TrimSpace(i.Category)
	clone.Warning = strings.TrimSpace(i.Warning)
	return clone
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	normalized := i.Normalized()
	if normalized.Support != "" && !normalized.Support.Valid() {
		return fmt.Errorf("module: support must be OFFICIAL, COMMUNITY or TESTING, got %q", i.Support)
	}
	return nil
}

// WithDefaults fills unset fields the way the addon list expects them: the
// display name falls back to the module name, support defaults to
// COMMUNITY and the manual placeholder in doc_url is expanded for app.
func (i Info) WithDefaults(moduleName string, app host.App) Info {
	clone := i.Normalized()
	if clone.Name == "" {
		clone.Name = moduleName
	}
	if clone.Support == "" {
		clone.Support = SupportCommunity
	}
	if strings.Contains(clone.DocURL, manualURLPlaceholder) {
		clone.DocURL = strings.ReplaceAll(clone.DocURL, manualURLPlaceholder, app.ManualURLPrefix())
	}
	return clone
}

// Module is implemented by every loadable unit: addons, startup scripts and
// application templates.
type Module interface {
	Register(scope *host.Scope) error
	Unregister(scope *host.Scope) error
}

// Source describes where a loaded module came from.
type Source struct {
	Name    string
	Path    string
	Files   []string
	ModTime time.Time
	Info    Info
	HasInfo bool
}

// Loader imports modules by name.
type Loader interface {
	// Load imports the module. Errors wrapping ErrNotFound mean the module
	// itself does not exist.
	Load(name string) (Module, Source, error)
	// Stamp reports the current on-disk modification stamp of src. It fails
	// when the module's files are gone.
	Stamp(src Source) (time.Time, error)
}

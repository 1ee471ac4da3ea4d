package host

import (
	"fmt"
	"strings"
)

const manualBaseURL = "https://docs.kraken3d.org/manual/en/"

// Release cycles reported by the host build.
const (
	CycleAlpha   = "alpha"
	CycleBeta    = "beta"
	CycleRC      = "rc"
	CycleRelease = "release"
)

// App describes the running host application.
type App struct {
	Version Version
	Cycle   string
	Debug   bool
}

// ManualURLPrefix returns the manual root matching the host build. Release
// and release-candidate builds point at their versioned manual; everything
// else points at the development manual.
func (a App) ManualURLPrefix() string {
	switch strings.ToLower(strings.TrimSpace(a.Cycle)) {
	case CycleRC, CycleRelease:
		return manualBaseURL + fmt.Sprintf("%d.%d", a.Version.Major, a.Version.Minor)
	default:
		return manualBaseURL + "dev"
	}
}

package plugins

import (
	"errors"
	"fmt"
	"math"

	"github.com/kingrea/kpy/internal/host"
	"github.com/kingrea/kpy/internal/module"
)

// SupportedManifestVersion is the manifest schema revision this build reads.
const SupportedManifestVersion = 1

var (
	// ErrManifestMissing means a module has no sidecar manifest.
	ErrManifestMissing = errors.New("plugins: manifest missing")
	// ErrManifestEncoding means the manifest is not valid UTF-8.
	ErrManifestEncoding = errors.New("plugins: manifest is not valid UTF-8")
	// ErrManifestSyntax means the manifest could not be decoded.
	ErrManifestSyntax = errors.New("plugins: manifest syntax error")
	// ErrManifestInvalid means the manifest decoded but failed validation.
	ErrManifestInvalid = errors.New("plugins: manifest invalid")
)

// manifestDocument mirrors the on-disk sidecar schema shared by the YAML and
// TOML encodings:
//
//	manifest_version: 1
//	addon:
//	  name: Bevel Tools
//	  version: [1, 2, 0]
//	  kraken: [1, 50, 0]
//	  category: Mesh
type manifestDocument struct {
	ManifestVersion int          `yaml:"manifest_version" toml:"manifest_version"`
	Addon           infoDocument `yaml:"addon" toml:"addon"`
}

type infoDocument struct {
	Name         string `yaml:"name,omitempty" toml:"name,omitempty"`
	Author       string `yaml:"author,omitempty" toml:"author,omitempty"`
	Version      any    `yaml:"version,omitempty" toml:"version,omitempty"`
	Kraken       any    `yaml:"kraken,omitempty" toml:"kraken,omitempty"`
	Location     string `yaml:"location,omitempty" toml:"location,omitempty"`
	Description  string `yaml:"description,omitempty" toml:"description,omitempty"`
	DocURL       string `yaml:"doc_url,omitempty" toml:"doc_url,omitempty"`
	Support      string `yaml:"support,omitempty" toml:"support,omitempty"`
	Category     string `yaml:"category,omitempty" toml:"category,omitempty"`
	Warning      string `yaml:"warning,omitempty" toml:"warning,omitempty"`
	ShowExpanded bool   `yaml:"show_expanded,omitempty" toml:"show_expanded,omitempty"`
}

func (doc manifestDocument) toInfo() (module.Info, error) {
	switch {
	case doc.ManifestVersion == 0:
		return module.Info{}, fmt.Errorf("%w: manifest_version is required", ErrManifestInvalid)
	case doc.ManifestVersion > SupportedManifestVersion:
		return module.Info{}, fmt.Errorf("%w: manifest_version %d is newer than supported version %d",
			ErrManifestInvalid, doc.ManifestVersion, SupportedManifestVersion)
	case doc.ManifestVersion < 0:
		return module.Info{}, fmt.Errorf("%w: manifest_version must be positive", ErrManifestInvalid)
	}
	version, err := tupleFrom(doc.Addon.Version)
	if err != nil {
		return module.Info{}, fmt.Errorf("%w: addon.version: %v", ErrManifestInvalid, err)
	}
	kraken, err := versionFrom(doc.Addon.Kraken)
	if err != nil {
		return module.Info{}, fmt.Errorf("%w: addon.kraken: %v", ErrManifestInvalid, err)
	}
	info := module.Info{
		Name:         doc.Addon.Name,
		Author:       doc.Addon.Author,
		Version:      version,
		Kraken:       kraken,
		Location:     doc.Addon.Location,
		Description:  doc.Addon.Description,
		DocURL:       doc.Addon.DocURL,
		Support:      module.Support(doc.Addon.Support),
		Category:     doc.Addon.Category,
		Warning:      doc.Addon.Warning,
		ShowExpanded: doc.Addon.ShowExpanded,
	}.Normalized()
	if err := info.Validate(); err != nil {
		return module.Info{}, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	return info, nil
}

// componentsFrom accepts the tuple forms manifests use: a list of integers,
// a dotted string or a single number. A missing value yields nil.
func componentsFrom(raw any) ([]int, error) {
	switch value := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return host.ParseTuple(value)
	case []any:
		nums := make([]int, 0, len(value))
		for idx, item := range value {
			n, err := intFrom(item)
			if err != nil {
				return nil, fmt.Errorf("component %d: %w", idx, err)
			}
			nums = append(nums, n)
		}
		return nums, nil
	default:
		n, err := intFrom(value)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
}

// tupleFrom decodes the addon's own version, which may have any length.
func tupleFrom(raw any) (host.Tuple, error) {
	nums, err := componentsFrom(raw)
	if err != nil {
		return nil, err
	}
	return host.TupleFrom(nums...)
}

// versionFrom decodes a host version of at most three components.
func versionFrom(raw any) (host.Version, error) {
	nums, err := componentsFrom(raw)
	if err != nil {
		return host.Version{}, err
	}
	return host.FromInts(nums...)
}

func intFrom(raw any) (int, error) {
	switch n := raw.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("%d is out of range", n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}

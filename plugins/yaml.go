package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/kpy/internal/module"
)

// ParseManifestYAML decodes and validates a YAML manifest payload.
func ParseManifestYAML(data []byte) (module.Info, error) {
	if err := checkPayload(data); err != nil {
		return module.Info{}, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc manifestDocument
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return module.Info{}, fmt.Errorf("%w: %v", ErrManifestSyntax, err)
	}
	return doc.toInfo()
}

// ParseManifestTOML decodes and validates a TOML manifest payload.
func ParseManifestTOML(data []byte) (module.Info, error) {
	if err := checkPayload(data); err != nil {
		return module.Info{}, err
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc manifestDocument
	if err := dec.Decode(&doc); err != nil {
		return module.Info{}, fmt.Errorf("%w: %v", ErrManifestSyntax, err)
	}
	return doc.toInfo()
}

// LoadManifest reads a manifest from disk, picking the decoder from the file
// extension.
func LoadManifest(path string) (module.Info, error) {
	info, err := os.Stat(path)
	if err != nil {
		return module.Info{}, fmt.Errorf("plugins: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return module.Info{}, fmt.Errorf("plugins: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return module.Info{}, fmt.Errorf("plugins: read %s: %w", path, err)
	}
	var parsed module.Info
	switch {
	case isYAMLFile(path):
		parsed, err = ParseManifestYAML(data)
	case isTOMLFile(path):
		parsed, err = ParseManifestTOML(data)
	default:
		err = fmt.Errorf("%w: unsupported manifest extension %q", ErrManifestInvalid, filepath.Ext(path))
	}
	if err != nil {
		return module.Info{}, fmt.Errorf("%s: %w", path, err)
	}
	return parsed, nil
}

func checkPayload(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: manifest is empty", ErrManifestInvalid)
	}
	if !utf8.Valid(data) {
		return ErrManifestEncoding
	}
	return nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

func isTOMLFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(name)), ".toml")
}

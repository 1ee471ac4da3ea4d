package plugins

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/kpy/internal/host"
	"github.com/kingrea/kpy/internal/module"
)

func TestParseManifestYAML(t *testing.T) {
	payload := []byte(`manifest_version: 1
addon:
  name: " Bevel Tools "
  author: Kraken Foundation
  version: [1, 2]
  kraken: "1.52.0"
  description: Extra bevel operators
  doc_url: "{KRAKEN_MANUAL_URL}/addons/bevel.html"
  support: official
  category: Mesh
  show_expanded: true
`)
	info, err := ParseManifestYAML(payload)
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if info.Name != "Bevel Tools" {
		t.Fatalf("expected trimmed name, got %q", info.Name)
	}
	if info.Version.Compare(host.T(1, 2, 0)) != 0 || info.Kraken != host.V(1, 52, 0) {
		t.Fatalf("unexpected versions: %s / %s", info.Version, info.Kraken)
	}
	if info.Support != module.SupportOfficial {
		t.Fatalf("expected OFFICIAL support, got %q", info.Support)
	}
	if !info.ShowExpanded {
		t.Fatalf("expected show_expanded to be set")
	}
}

func TestParseManifestTOML(t *testing.T) {
	payload := []byte(`manifest_version = 1

[addon]
name = "Snap Utils"
version = [0, 3, 1]
kraken = [1, 50, 0]
category = "Object"
`)
	info, err := ParseManifestTOML(payload)
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if info.Name != "Snap Utils" || info.Category != "Object" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Version.Compare(host.T(0, 3, 1)) != 0 || info.Kraken != host.V(1, 50, 0) {
		t.Fatalf("unexpected versions: %s / %s", info.Version, info.Kraken)
	}
}

func TestParseManifestLongVersionTuple(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    host.Tuple
	}{
		{name: "list", payload: "version: [1, 0, 3, 1]", want: host.T(1, 0, 3, 1)},
		{name: "dotted", payload: "version: \"2.4.0.7.1\"", want: host.T(2, 4, 0, 7, 1)},
		{name: "single", payload: "version: 3", want: host.T(3)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := "manifest_version: 1\naddon:\n  name: Long\n  " + tc.payload + "\n  kraken: [1, 50, 0]\n"
			info, err := ParseManifestYAML([]byte(payload))
			if err != nil {
				t.Fatalf("parse manifest: %v", err)
			}
			if diff := cmp.Diff(tc.want, info.Version); diff != "" {
				t.Fatalf("version mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseManifestKrakenKeepsThreeComponents(t *testing.T) {
	_, err := ParseManifestYAML([]byte("manifest_version: 1\naddon:\n  kraken: [1, 50, 0, 1]\n"))
	if !errors.Is(err, ErrManifestInvalid) {
		t.Fatalf("expected ErrManifestInvalid for a four part kraken version, got %v", err)
	}
	info, err := ParseManifestYAML([]byte("manifest_version: 1\naddon:\n  kraken: [1, 50]\n"))
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if info.Kraken != host.V(1, 50, 0) {
		t.Fatalf("expected short kraken tuple padded with zero, got %s", info.Kraken)
	}
}

func TestParseManifestErrors(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    error
	}{
		{name: "empty", payload: "  \n", want: ErrManifestInvalid},
		{name: "not utf8", payload: "manifest_version: 1\naddon:\n  name: \xff\xfe\n", want: ErrManifestEncoding},
		{name: "syntax", payload: "manifest_version: [1\n", want: ErrManifestSyntax},
		{name: "unknown field", payload: "manifest_version: 1\naddon:\n  blender: [2, 80]\n", want: ErrManifestSyntax},
		{name: "missing version", payload: "addon:\n  name: x\n", want: ErrManifestInvalid},
		{name: "future version", payload: "manifest_version: 2\naddon:\n  name: x\n", want: ErrManifestInvalid},
		{name: "bad support", payload: "manifest_version: 1\naddon:\n  support: vendor\n", want: ErrManifestInvalid},
		{name: "fractional tuple", payload: "manifest_version: 1\naddon:\n  version: [1.5, 0]\n", want: ErrManifestInvalid},
		{name: "long tuple", payload: "manifest_version: 1\naddon:\n  version: [1, 0, 0, 4]\n", want: ErrManifestInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseManifestYAML([]byte(tc.payload))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadManifestByExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "a.yml")
	writeFile(t, yamlPath, manifestYAML("A", "Mesh"))
	tomlPath := filepath.Join(dir, "b.toml")
	writeFile(t, tomlPath, "manifest_version = 1\n[addon]\nname = \"B\"\n")
	if info, err := LoadManifest(yamlPath); err != nil || info.Name != "A" {
		t.Fatalf("load yaml manifest: %+v %v", info, err)
	}
	if info, err := LoadManifest(tomlPath); err != nil || info.Name != "B" {
		t.Fatalf("load toml manifest: %+v %v", info, err)
	}
	other := filepath.Join(dir, "c.json")
	writeFile(t, other, "{}")
	if _, err := LoadManifest(other); !errors.Is(err, ErrManifestInvalid) {
		t.Fatalf("expected invalid extension error, got %v", err)
	}
}

package plugins

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestModuleNames(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "alpha", manifestYAML("Alpha", "Mesh"))
	writeModule(t, dir, "beta", "")
	writeFile(t, filepath.Join(dir, "alpha_test.go"), "package main\n")
	writeFile(t, filepath.Join(dir, "not-ident.go"), emptyScript)
	writeFile(t, filepath.Join(dir, "_hidden.go"), emptyScript)
	writeFile(t, filepath.Join(dir, "notes.txt"), "hi")
	writeFile(t, filepath.Join(dir, "gamma", "main.go"), emptyScript)
	writeFile(t, filepath.Join(dir, "gamma", "ops.go"), "package main\n")
	writeFile(t, filepath.Join(dir, "gamma", "addon.toml"), "manifest_version = 1\n[addon]\n")
	writeFile(t, filepath.Join(dir, "assets", "icon.png"), "png")

	entries, err := ModuleNames(dir)
	if err != nil {
		t.Fatalf("module names: %v", err)
	}
	want := []Entry{
		{
			Name:     "alpha",
			Path:     filepath.Join(dir, "alpha.go"),
			Files:    []string{filepath.Join(dir, "alpha.go")},
			Manifest: filepath.Join(dir, "alpha.yaml"),
		},
		{
			Name:  "beta",
			Path:  filepath.Join(dir, "beta.go"),
			Files: []string{filepath.Join(dir, "beta.go")},
		},
		{
			Name:     "gamma",
			Path:     filepath.Join(dir, "gamma"),
			Package:  true,
			Files:    []string{filepath.Join(dir, "gamma", "main.go"), filepath.Join(dir, "gamma", "ops.go")},
			Manifest: filepath.Join(dir, "gamma", "addon.toml"),
		},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestModuleNamesMissingDir(t *testing.T) {
	entries, err := ModuleNames(filepath.Join(t.TempDir(), "missing"))
	if err != nil || entries != nil {
		t.Fatalf("expected no entries and no error, got %v %v", entries, err)
	}
}

func TestStampMissingFile(t *testing.T) {
	if _, err := Stamp(filepath.Join(t.TempDir(), "gone.go")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestModuleNamesSameNameOrdersByPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "foo.go"), emptyScript)
	writeFile(t, filepath.Join(dir, "foo", "main.go"), emptyScript)
	writeFile(t, filepath.Join(dir, "bar.go"), emptyScript)

	want := []string{
		filepath.Join(dir, "bar.go"),
		filepath.Join(dir, "foo"),
		filepath.Join(dir, "foo.go"),
	}
	for range 3 {
		entries, err := ModuleNames(dir)
		if err != nil {
			t.Fatalf("module names: %v", err)
		}
		var paths []string
		for _, entry := range entries {
			paths = append(paths, entry.Path)
		}
		if diff := cmp.Diff(want, paths); diff != "" {
			t.Fatalf("order mismatch (-want +got):\n%s", diff)
		}
	}
}

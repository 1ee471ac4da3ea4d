package plugins

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const helloScript = `package main

import "kpy"

func Register(scope *kpy.Scope) error {
	return scope.RegisterClass("operator", "OBJECT_OT_hello")
}

func Unregister(scope *kpy.Scope) error {
	return scope.UnregisterClass("operator", "OBJECT_OT_hello")
}
`

const emptyScript = `package main

func Register()   {}
func Unregister() {}
`

func manifestYAML(name, category string) string {
	return "manifest_version: 1\naddon:\n  name: " + name + "\n  category: " + category + "\n  version: [1, 0, 0]\n  kraken: [1, 50, 0]\n"
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeModule writes name.go and, when manifest is non-empty, name.yaml.
func writeModule(t *testing.T, dir, name, manifest string) string {
	t.Helper()
	path := filepath.Join(dir, name+".go")
	writeFile(t, path, emptyScript)
	if manifest != "" {
		writeFile(t, filepath.Join(dir, name+".yaml"), manifest)
	}
	return path
}

func touch(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	stamp := info.ModTime().Add(offset)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

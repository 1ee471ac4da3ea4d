package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/kpy/internal/config"
	"github.com/kingrea/kpy/internal/host"
	"github.com/kingrea/kpy/internal/templates"
)

func classScript(kind, id string) string {
	return `package main

import "kpy"

func Register(scope *kpy.Scope) error {
	return scope.RegisterClass("` + kind + `", "` + id + `")
}

func Unregister(scope *kpy.Scope) error {
	return scope.UnregisterClass("` + kind + `", "` + id + `")
}
`
}

const addonManifest = `manifest_version: 1
addon:
  name: Bevel Tools
  category: Mesh
  kraken: [1, 50, 0]
`

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

type failures struct {
	names []string
}

func newTestSession(t *testing.T) (*Session, string, *failures) {
	t.Helper()
	root := t.TempDir()
	write(t, filepath.Join(root, config.StartupDir, "hello.go"), classScript("operator", "WM_OT_hello"))
	write(t, filepath.Join(root, config.AddonsDir, "bevel.go"), classScript("operator", "MESH_OT_bevel"))
	write(t, filepath.Join(root, config.AddonsDir, "bevel.yaml"), addonManifest)
	write(t, filepath.Join(root, config.AddonsDir, "idle.go"), classScript("operator", "MESH_OT_idle"))
	write(t, filepath.Join(root, config.AddonsDir, "idle.yaml"), addonManifest)
	write(t, filepath.Join(root, config.TemplatesDir, "Sculpting", "template.go"), classScript("workspace", "Sculpting"))

	prefs := config.NewPreferences()
	prefs.EnsureAddon("bevel")
	prefs.SetAppTemplate("Sculpting")
	cfg := &config.Config{
		Settings:       config.Settings{LocalScripts: root},
		App:            host.App{Version: host.V(1, 52, 0), Cycle: host.CycleRelease},
		MigrationFloor: host.V(1, 50, 0),
		Prefs:          prefs,
	}
	failed := &failures{}
	s := New(cfg, WithErrorHandler(func(name string, err error) {
		t.Logf("failure in %s: %v", name, err)
		failed.names = append(failed.names, name)
	}))
	return s, root, failed
}

func owners(s *Session) map[string]int {
	counts := map[string]int{}
	for _, ref := range s.Host().Classes().All() {
		counts[ref.Owner]++
	}
	return counts
}

func TestLoadScriptsStartupTemplateAddons(t *testing.T) {
	s, _, failed := newTestSession(t)
	report := s.LoadScripts(false)
	if len(failed.names) != 0 {
		t.Fatalf("unexpected failures: %v", failed.names)
	}
	if diff := cmp.Diff([]string{"hello"}, report.Startup); diff != "" {
		t.Fatalf("startup mismatch (-want +got):\n%s", diff)
	}
	if report.Template != "Sculpting" {
		t.Fatalf("template = %q, want Sculpting", report.Template)
	}
	if diff := cmp.Diff([]string{"bevel"}, report.Addons.Enabled); diff != "" {
		t.Fatalf("addons mismatch (-want +got):\n%s", diff)
	}
	want := map[string]int{
		StartupOwner("hello"):        1,
		templates.Owner("Sculpting"): 1,
		"bevel":                      1,
	}
	if diff := cmp.Diff(want, owners(s)); diff != "" {
		t.Fatalf("class owners mismatch (-want +got):\n%s", diff)
	}

	s.Close()
	if n := s.Host().Classes().Len(); n != 0 {
		t.Fatalf("expected every class released on close, %d left", n)
	}
	if len(s.StartupModules()) != 0 || len(s.Addons.Enabled()) != 0 || s.Templates.Active() != "" {
		t.Fatalf("expected an empty session after close")
	}
}

func TestLoadScriptsReloadKeepsState(t *testing.T) {
	s, _, failed := newTestSession(t)
	s.LoadScripts(false)
	report := s.LoadScripts(true)
	if len(failed.names) != 0 {
		t.Fatalf("unexpected failures: %v", failed.names)
	}
	if diff := cmp.Diff([]string{"hello"}, report.Startup); diff != "" {
		t.Fatalf("startup mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bevel"}, s.Addons.Enabled()); diff != "" {
		t.Fatalf("enabled mismatch (-want +got):\n%s", diff)
	}
	if n := s.Host().Classes().Len(); n != 3 {
		t.Fatalf("expected 3 classes after reload, got %d", n)
	}
}

func TestReloadPicksUpChangedFiles(t *testing.T) {
	s, root, failed := newTestSession(t)
	s.LoadScripts(false)

	addon := filepath.Join(root, config.AddonsDir, "bevel.go")
	write(t, addon, classScript("operator", "MESH_OT_bevel_v2"))
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(addon, future, future); err != nil {
		t.Fatal(err)
	}

	reloaded := s.Reload([]string{addon})
	if len(failed.names) != 0 {
		t.Fatalf("unexpected failures: %v", failed.names)
	}
	if diff := cmp.Diff([]string{"bevel"}, reloaded); diff != "" {
		t.Fatalf("reloaded mismatch (-want +got):\n%s", diff)
	}
	var ids []string
	for _, ref := range s.Host().Classes().Owned("bevel") {
		ids = append(ids, ref.ID)
	}
	if diff := cmp.Diff([]string{"MESH_OT_bevel_v2"}, ids); diff != "" {
		t.Fatalf("bevel classes mismatch (-want +got):\n%s", diff)
	}
}

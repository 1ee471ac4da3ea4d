package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kingrea/kpy/internal/config"
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

const bevelManifest = `manifest_version: 1
addon:
  name: Bevel Tools
  category: Mesh
  version: [1, 2, 0]
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

type testEnv struct {
	local     string
	user      string
	configDir string
	cfgFile   string
}

// newTestEnv lays out a local script root with one addon and one template
// and a kpy.yaml pointing every setting into temp directories.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	env := &testEnv{
		local:     filepath.Join(base, "local"),
		user:      filepath.Join(base, "user"),
		configDir: filepath.Join(base, "config"),
		cfgFile:   filepath.Join(base, "kpy.yaml"),
	}
	write(t, filepath.Join(env.local, config.AddonsDir, "bevel.go"), classScript("operator", "MESH_OT_bevel"))
	write(t, filepath.Join(env.local, config.AddonsDir, "bevel.yaml"), bevelManifest)
	write(t, filepath.Join(env.local, config.TemplatesDir, "Sculpting", "template.go"), classScript("workspace", "Sculpting"))
	write(t, env.cfgFile, strings.Join([]string{
		"local_scripts: " + env.local,
		"user_scripts: " + env.user,
		"system_scripts: \"\"",
		"config_dir: " + env.configDir,
		"log_dir: " + filepath.Join(base, "logs"),
		"host_version: 1.52.0",
		"",
	}, "\n"))
	return env
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, child := range cmd.Commands() {
		resetFlags(child)
	}
}

func (e *testEnv) run(t *testing.T, args ...string) string {
	t.Helper()
	viper.Reset()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", e.cfgFile}, args...))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("kpy %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func (e *testEnv) prefs(t *testing.T) *config.Preferences {
	t.Helper()
	prefs, err := config.LoadPreferences(filepath.Join(e.configDir, config.PreferencesFile))
	if err != nil {
		t.Fatalf("load preferences: %v", err)
	}
	return prefs
}

func TestListShowsDiscoveredAddons(t *testing.T) {
	env := newTestEnv(t)
	out := env.run(t, "list")
	for _, want := range []string{"bevel", "Bevel Tools", "Mesh", "1.2.0", "COMMUNITY"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestEnableSaveThenDisableSave(t *testing.T) {
	env := newTestEnv(t)
	out := env.run(t, "enable", "bevel", "--save")
	if !strings.Contains(out, "enabled bevel") || !strings.Contains(out, "operator:MESH_OT_bevel") {
		t.Fatalf("unexpected enable output:\n%s", out)
	}
	if !env.prefs(t).HasAddon("bevel") {
		t.Fatalf("expected bevel stored in preferences")
	}

	out = env.run(t, "check", "bevel")
	if !strings.Contains(out, "bevel default=true loaded=true") {
		t.Fatalf("unexpected check output:\n%s", out)
	}

	out = env.run(t, "disable", "bevel", "--save")
	if !strings.Contains(out, "disabled bevel") {
		t.Fatalf("unexpected disable output:\n%s", out)
	}
	if env.prefs(t).HasAddon("bevel") {
		t.Fatalf("expected bevel removed from preferences")
	}
}

func TestEnableWithoutSaveLeavesPreferences(t *testing.T) {
	env := newTestEnv(t)
	env.run(t, "enable", "bevel")
	if _, err := os.Stat(filepath.Join(env.configDir, config.PreferencesFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no preferences file, stat err = %v", err)
	}
}

func TestConflictsReportsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	write(t, filepath.Join(env.user, config.AddonsDir, "bevel.go"), classScript("operator", "MESH_OT_bevel"))
	write(t, filepath.Join(env.user, config.AddonsDir, "bevel.yaml"), bevelManifest)
	out := env.run(t, "conflicts")
	if !strings.Contains(out, "duplicate bevel") {
		t.Fatalf("expected duplicate report:\n%s", out)
	}
	if !strings.Contains(out, filepath.Join(env.local, config.AddonsDir, "bevel.go")) {
		t.Fatalf("expected local copy kept:\n%s", out)
	}
}

func TestTemplateActivateSave(t *testing.T) {
	env := newTestEnv(t)
	out := env.run(t, "template")
	if !strings.Contains(out, "Sculpting") {
		t.Fatalf("expected template listed:\n%s", out)
	}
	out = env.run(t, "template", "Sculpting", "--save")
	if !strings.Contains(out, "active template: Sculpting") {
		t.Fatalf("unexpected template output:\n%s", out)
	}
	if got := env.prefs(t).AppTemplate(); got != "Sculpting" {
		t.Fatalf("stored template = %q, want Sculpting", got)
	}
}

func TestLogShowsLifecycleEntries(t *testing.T) {
	env := newTestEnv(t)
	env.run(t, "enable", "bevel")
	out := env.run(t, "log", "-n", "50")
	if !strings.Contains(out, "enable") || !strings.Contains(out, "bevel") {
		t.Fatalf("expected enable entry in journal:\n%s", out)
	}
}

func TestInitCreatesUserLayout(t *testing.T) {
	env := newTestEnv(t)
	env.run(t, "init")
	for _, dir := range []string{config.AddonsDir, config.ModulesDir, config.TemplatesDir} {
		if info, err := os.Stat(filepath.Join(env.user, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s created: %v", dir, err)
		}
	}
	if _, err := os.Stat(filepath.Join(env.configDir, config.PreferencesFile)); err != nil {
		t.Fatalf("expected preferences file: %v", err)
	}
}

func TestWatchLoopReloadsBatches(t *testing.T) {
	batches := make(chan []string, 2)
	batches <- []string{"/scripts/addons/bevel.go"}
	batches <- []string{"/scripts/addons/notes.txt"}
	close(batches)

	var seen [][]string
	var reported []string
	reload := func(paths []string) []string {
		seen = append(seen, paths)
		if strings.HasSuffix(paths[0], ".go") {
			return []string{"bevel"}
		}
		return nil
	}
	err := watchLoop(context.Background(), batches, reload, func(names []string) {
		reported = append(reported, names...)
	})
	if err != nil {
		t.Fatalf("watch loop: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(seen))
	}
	if len(reported) != 1 || reported[0] != "bevel" {
		t.Fatalf("unexpected reports %v", reported)
	}
}

func TestWatchLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := watchLoop(ctx, make(chan []string), func([]string) []string {
		t.Fatalf("reload must not run")
		return nil
	}, func([]string) {})
	if err != nil {
		t.Fatalf("watch loop: %v", err)
	}
}

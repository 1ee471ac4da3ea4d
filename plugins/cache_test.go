package plugins

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/kpy/internal/host"
	"github.com/kingrea/kpy/internal/module"
)

func testApp() host.App {
	return host.App{Version: host.V(1, 52, 0), Cycle: host.CycleRelease}
}

func recordNames(records []Record) []string {
	names := make([]string, len(records))
	for i, record := range records {
		names[i] = record.Name
	}
	return names
}

func TestCacheDuplicateKeepsFirst(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	firstPath := writeModule(t, first, "dup", manifestYAML("Dup", "Mesh"))
	secondPath := writeModule(t, second, "dup", manifestYAML("Dup Copy", "Mesh"))

	cache := NewCache(testApp())
	report := cache.Refresh([]SearchPath{{Dir: first}, {Dir: second}})
	if len(report.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", report.Conflicts)
	}
	want := Conflict{Name: "dup", FirstPath: firstPath, SecondPath: secondPath}
	if diff := cmp.Diff(want, report.Conflicts[0]); diff != "" {
		t.Fatalf("conflict mismatch (-want +got):\n%s", diff)
	}
	record, ok := cache.Get("dup")
	if !ok || record.Path != firstPath || record.Info.Name != "Dup" {
		t.Fatalf("expected first module to win, got %+v", record)
	}

	again := cache.Refresh([]SearchPath{{Dir: first}, {Dir: second}})
	if len(again.Conflicts) != 1 {
		t.Fatalf("expected exactly one conflict on repeated refresh, got %+v", again.Conflicts)
	}
	if len(cache.Conflicts()) != 1 {
		t.Fatalf("expected stored conflicts to be replaced, got %+v", cache.Conflicts())
	}
}

func TestCacheRefreshIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "one", manifestYAML("One", "Mesh"))
	writeModule(t, dir, "two", manifestYAML("Two", "Animation"))
	paths := []SearchPath{{Dir: dir}}

	cache := NewCache(testApp())
	first := cache.Modules(paths, true)
	report := cache.Refresh(paths)
	if report.Changed() {
		t.Fatalf("expected no changes on second refresh, got %+v", report)
	}
	second := cache.Modules(paths, true)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("module list changed (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"two", "one"}, recordNames(second)); diff != "" {
		t.Fatalf("expected category ordering (-want +got):\n%s", diff)
	}
}

func TestCacheTouchReloadsOnlyThatModule(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "keep", manifestYAML("Keep", "Mesh"))
	touched := writeModule(t, dir, "touched", manifestYAML("Touched", "Mesh"))
	paths := []SearchPath{{Dir: dir}}

	cache := NewCache(testApp())
	cache.Refresh(paths)
	writeFile(t, filepath.Join(dir, "touched.yaml"), manifestYAML("Touched Again", "Mesh"))
	touch(t, touched, 2*time.Second)

	report := cache.Refresh(paths)
	if diff := cmp.Diff([]string{"touched"}, report.Reloaded); diff != "" {
		t.Fatalf("reloaded mismatch (-want +got):\n%s", diff)
	}
	if len(report.Added) != 0 || len(report.Removed) != 0 {
		t.Fatalf("unexpected churn: %+v", report)
	}
	record, _ := cache.Get("touched")
	if record.Info.Name != "Touched Again" {
		t.Fatalf("expected reparsed metadata, got %q", record.Info.Name)
	}
}

func TestCacheDropsStaleModules(t *testing.T) {
	dir := t.TempDir()
	gone := writeModule(t, dir, "gone", manifestYAML("Gone", "Mesh"))
	writeModule(t, dir, "stays", manifestYAML("Stays", "Mesh"))
	paths := []SearchPath{{Dir: dir}}

	cache := NewCache(testApp())
	cache.Refresh(paths)
	if err := os.Remove(gone); err != nil {
		t.Fatalf("remove module: %v", err)
	}
	report := cache.Refresh(paths)
	if diff := cmp.Diff([]string{"gone"}, report.Removed); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	if _, ok := cache.Get("gone"); ok {
		t.Fatalf("expected stale module to be dropped")
	}
}

func TestCacheDeletedFirstCopyHandsNameToNext(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	firstPath := writeModule(t, first, "dup", manifestYAML("Dup", "Mesh"))
	secondPath := writeModule(t, second, "dup", manifestYAML("Dup Copy", "Mesh"))
	paths := []SearchPath{{Dir: first}, {Dir: second}}

	cache := NewCache(testApp())
	cache.Refresh(paths)
	for _, path := range []string{firstPath, filepath.Join(first, "dup.yaml")} {
		if err := os.Remove(path); err != nil {
			t.Fatalf("remove %s: %v", path, err)
		}
	}

	report := cache.Refresh(paths)
	if len(report.Conflicts) != 0 {
		t.Fatalf("expected no conflict against the deleted copy, got %+v", report.Conflicts)
	}
	if diff := cmp.Diff([]string{"dup"}, report.Added); diff != "" {
		t.Fatalf("added mismatch (-want +got):\n%s", diff)
	}
	if len(report.Removed) != 0 {
		t.Fatalf("expected nothing removed, got %v", report.Removed)
	}
	record, ok := cache.Get("dup")
	if !ok || record.Path != secondPath || record.Info.Name != "Dup Copy" {
		t.Fatalf("expected surviving copy to take the name, got %+v", record)
	}

	listed := cache.Modules(paths, false)
	again := cache.Refresh(paths)
	if again.Changed() {
		t.Fatalf("expected no changes on an unchanged refresh, got %+v", again)
	}
	if diff := cmp.Diff(recordNames(listed), recordNames(cache.Modules(paths, false))); diff != "" {
		t.Fatalf("module list changed (-first +second):\n%s", diff)
	}
}

func TestCacheDeletedFirstCopyWithBrokenNextIsRemoved(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	firstPath := writeModule(t, first, "dup", manifestYAML("Dup", "Mesh"))
	writeModule(t, second, "dup", "manifest_version: [\n")
	paths := []SearchPath{{Dir: first}, {Dir: second}}

	cache := NewCache(testApp())
	cache.Refresh(paths)
	if err := os.Remove(firstPath); err != nil {
		t.Fatalf("remove %s: %v", firstPath, err)
	}

	report := cache.Refresh(paths)
	if diff := cmp.Diff([]string{"dup"}, report.Removed); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	if len(report.Diagnostics) != 1 || report.Diagnostics[0].Code != CodeManifestSyntax {
		t.Fatalf("expected syntax diagnostic for the remaining copy, got %+v", report.Diagnostics)
	}
	if _, ok := cache.Get("dup"); ok {
		t.Fatalf("expected dup to be gone")
	}
}

func TestCacheNewEarlierCopyConflictsWithCached(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	secondPath := writeModule(t, second, "dup", manifestYAML("Dup", "Mesh"))
	paths := []SearchPath{{Dir: first}, {Dir: second}}

	cache := NewCache(testApp())
	cache.Refresh(paths)
	firstPath := writeModule(t, first, "dup", manifestYAML("Dup Early", "Mesh"))

	for i := 0; i < 2; i++ {
		report := cache.Refresh(paths)
		want := []Conflict{{Name: "dup", FirstPath: secondPath, SecondPath: firstPath}}
		if diff := cmp.Diff(want, report.Conflicts); diff != "" {
			t.Fatalf("refresh %d conflicts mismatch (-want +got):\n%s", i, diff)
		}
		if record, ok := cache.Get("dup"); !ok || record.Path != secondPath {
			t.Fatalf("refresh %d: expected cached copy to keep the name, got %+v", i, record)
		}
	}
}

func TestCacheDiagnosticsDoNotAbort(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "good", manifestYAML("Good", "Mesh"))
	writeModule(t, dir, "bare", "")
	writeModule(t, dir, "broken", "manifest_version: [\n")
	writeModule(t, dir, "latin", "manifest_version: 1\naddon:\n  name: caf\xe9\n")

	cache := NewCache(testApp())
	report := cache.Refresh([]SearchPath{{Dir: dir}})
	if diff := cmp.Diff([]string{"good"}, report.Added); diff != "" {
		t.Fatalf("added mismatch (-want +got):\n%s", diff)
	}
	codes := map[string]string{}
	for _, diag := range report.Diagnostics {
		codes[diag.Module] = diag.Code
	}
	want := map[string]string{
		"bare":   CodeManifestMissing,
		"broken": CodeManifestSyntax,
		"latin":  CodeManifestEncoding,
	}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Fatalf("diagnostic codes mismatch (-want +got):\n%s", diff)
	}
}

func TestCacheBrokenDuplicateLetsLaterCopyIn(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeModule(t, first, "dup", "manifest_version: [\n")
	secondPath := writeModule(t, second, "dup", manifestYAML("Dup", "Mesh"))

	cache := NewCache(testApp())
	report := cache.Refresh([]SearchPath{{Dir: first}, {Dir: second}})
	if len(report.Conflicts) != 0 {
		t.Fatalf("expected no conflict, got %+v", report.Conflicts)
	}
	if record, ok := cache.Get("dup"); !ok || record.Path != secondPath {
		t.Fatalf("expected second copy to be cached, got %+v", record)
	}
}

func TestCacheForcedSupportAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "contrib_tool", "manifest_version: 1\naddon:\n  support: OFFICIAL\n  doc_url: \"{KRAKEN_MANUAL_URL}/tool.html\"\n")

	cache := NewCache(testApp())
	records := cache.Modules([]SearchPath{{Dir: dir, ForceSupport: module.SupportTesting}}, false)
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	info := records[0].Info
	if info.Support != module.SupportTesting {
		t.Fatalf("expected TESTING support, got %q", info.Support)
	}
	if info.Name != "contrib_tool" {
		t.Fatalf("expected module name fallback, got %q", info.Name)
	}
	if info.DocURL != "https://docs.kraken3d.org/manual/en/1.52/tool.html" {
		t.Fatalf("unexpected doc url %q", info.DocURL)
	}
}

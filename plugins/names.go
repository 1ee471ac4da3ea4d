package plugins

import (
	"errors"
	"fmt"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// PackageManifestBase is the manifest file name inside a package directory.
const PackageManifestBase = "addon"

var manifestExts = []string{".yaml", ".yml", ".toml"}

// Entry is one importable module found in a search directory. File modules
// are a single name.go with an optional name.yaml sidecar; package modules
// are a directory of .go files with an optional addon.yaml inside.
type Entry struct {
	Name     string
	Path     string
	Package  bool
	Files    []string
	Manifest string
}

// StampFiles lists every file whose modification time contributes to the
// entry stamp.
func (e Entry) StampFiles() []string {
	files := append([]string(nil), e.Files...)
	if e.Manifest != "" {
		files = append(files, e.Manifest)
	}
	return files
}

// ModuleNames lists the modules in dir sorted by name. A missing directory
// yields no entries.
func ModuleNames(dir string) ([]Entry, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	items, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugins: read %s: %w", trimmed, err)
	}
	var entries []Entry
	for _, item := range items {
		name := item.Name()
		if skipName(name) {
			continue
		}
		full := filepath.Join(trimmed, name)
		if item.IsDir() {
			entry, ok, err := PackageEntry(full)
			if err != nil {
				return nil, err
			}
			if ok {
				entries = append(entries, entry)
			}
			continue
		}
		stem, ok := goSourceStem(name)
		if !ok || !token.IsIdentifier(stem) {
			continue
		}
		entries = append(entries, Entry{
			Name:     stem,
			Path:     full,
			Files:    []string{full},
			Manifest: firstExisting(filepath.Join(trimmed, stem)),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

// PackageEntry describes dir as a package module. ok is false when dir holds
// no Go sources or its base name is not a valid identifier.
func PackageEntry(dir string) (Entry, bool, error) {
	name := filepath.Base(dir)
	if skipName(name) || !token.IsIdentifier(name) {
		return Entry{}, false, nil
	}
	return DirEntry(dir)
}

// DirEntry describes dir as a package module named after its base name,
// which need not be an identifier. Application template ids such as
// "2D_Animation" are loaded this way.
func DirEntry(dir string) (Entry, bool, error) {
	name := filepath.Base(dir)
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("plugins: read %s: %w", dir, err)
	}
	var files []string
	for _, item := range items {
		if item.IsDir() || skipName(item.Name()) {
			continue
		}
		if _, ok := goSourceStem(item.Name()); ok {
			files = append(files, filepath.Join(dir, item.Name()))
		}
	}
	if len(files) == 0 {
		return Entry{}, false, nil
	}
	sort.Strings(files)
	return Entry{
		Name:     name,
		Path:     dir,
		Package:  true,
		Files:    files,
		Manifest: firstExisting(filepath.Join(dir, PackageManifestBase)),
	}, true, nil
}

// Stamp returns the newest modification time across paths. It fails when
// any path is missing.
func Stamp(paths ...string) (time.Time, error) {
	if len(paths) == 0 {
		return time.Time{}, fmt.Errorf("plugins: nothing to stamp")
	}
	var newest time.Time
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return time.Time{}, fmt.Errorf("plugins: stat %s: %w", path, err)
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, nil
}

func goSourceStem(name string) (string, bool) {
	if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
		return "", false
	}
	return strings.TrimSuffix(name, ".go"), true
}

func skipName(name string) bool {
	return name == "" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

func firstExisting(base string) string {
	for _, ext := range manifestExts {
		candidate := base + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

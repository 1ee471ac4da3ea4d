package plugins

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kingrea/kpy/internal/host"
	"github.com/kingrea/kpy/internal/module"
)

// SearchPath is a directory scanned for modules. ForceSupport, when set,
// overrides the support level every module in the directory declares.
type SearchPath struct {
	Dir          string
	ForceSupport module.Support
}

// Record is the cached metadata of one discovered module.
type Record struct {
	Name     string
	Path     string
	Manifest string
	Files    []string
	Package  bool
	Info     module.Info
	ModTime  time.Time
	Dir      string
}

func (r Record) clone() Record {
	out := r
	out.Files = append([]string(nil), r.Files...)
	return out
}

// RefreshReport summarizes one Cache.Refresh pass.
type RefreshReport struct {
	Added       []string
	Reloaded    []string
	Removed     []string
	Conflicts   []Conflict
	Diagnostics []Diagnostic
}

// Changed reports whether the pass altered the cached set.
func (r RefreshReport) Changed() bool {
	return len(r.Added) > 0 || len(r.Reloaded) > 0 || len(r.Removed) > 0
}

// Cache holds parsed module metadata keyed by module name. Entries are only
// re-parsed when their on-disk stamp changes.
type Cache struct {
	mu          sync.Mutex
	app         host.App
	logger      *log.Logger
	records     map[string]*Record
	conflicts   []Conflict
	diagnostics []Diagnostic
	refreshed   bool
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithCacheLogger routes discovery warnings to logger.
func WithCacheLogger(logger *log.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache returns an empty cache. app supplies the values used when
// filling metadata defaults.
func NewCache(app host.App, opts ...CacheOption) *Cache {
	c := &Cache{
		app:     app,
		logger:  log.New(io.Discard),
		records: make(map[string]*Record),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Refresh rescans paths in order. The first directory that provides a name
// wins; later duplicates are reported as conflicts. Problems with individual
// modules become diagnostics and never abort the scan.
func (c *Cache) Refresh(paths []SearchPath) RefreshReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(paths)
}

func (c *Cache) refreshLocked(paths []SearchPath) RefreshReport {
	var report RefreshReport
	type found struct {
		sp    SearchPath
		entry Entry
	}
	var all []found
	present := make(map[string]bool)
	for _, sp := range paths {
		entries, err := ModuleNames(sp.Dir)
		if err != nil {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				Severity: SeverityError,
				Code:     CodeScanFailed,
				Message:  err.Error(),
				Path:     sp.Dir,
				Cause:    err,
			})
			continue
		}
		for _, entry := range entries {
			all = append(all, found{sp: sp, entry: entry})
			present[entry.Name+"\x00"+entry.Path] = true
		}
	}

	// claimed maps each name to the path that owns it in this pass.
	claimed := make(map[string]string, len(c.records))
	encodingWarned := false
	for _, f := range all {
		entry, sp := f.entry, f.sp
		if first, ok := claimed[entry.Name]; ok {
			report.Conflicts = append(report.Conflicts, Conflict{
				Name:       entry.Name,
				FirstPath:  first,
				SecondPath: entry.Path,
			})
			continue
		}
		cached, ok := c.records[entry.Name]
		moved := false
		if ok && cached.Path != entry.Path {
			if present[entry.Name+"\x00"+cached.Path] {
				// The cached module keeps the name while it is still on disk.
				report.Conflicts = append(report.Conflicts, Conflict{
					Name:       entry.Name,
					FirstPath:  cached.Path,
					SecondPath: entry.Path,
				})
				continue
			}
			delete(c.records, entry.Name)
			ok, moved = false, true
		}
		if ok {
			stamp, err := Stamp(entry.StampFiles()...)
			if err == nil && stamp.Equal(cached.ModTime) && entry.Manifest == cached.Manifest {
				claimed[entry.Name] = entry.Path
				continue
			}
			delete(c.records, entry.Name)
			record, diag := c.parse(entry, sp)
			if diag != nil {
				c.warn(*diag, &encodingWarned)
				report.Diagnostics = append(report.Diagnostics, *diag)
				report.Removed = append(report.Removed, entry.Name)
				continue
			}
			c.records[entry.Name] = record
			claimed[entry.Name] = entry.Path
			report.Reloaded = append(report.Reloaded, entry.Name)
			continue
		}
		record, diag := c.parse(entry, sp)
		if diag != nil {
			c.warn(*diag, &encodingWarned)
			report.Diagnostics = append(report.Diagnostics, *diag)
			if moved {
				report.Removed = append(report.Removed, entry.Name)
			}
			continue
		}
		c.records[entry.Name] = record
		claimed[entry.Name] = entry.Path
		report.Added = append(report.Added, entry.Name)
	}
	for name := range c.records {
		if _, ok := claimed[name]; !ok {
			delete(c.records, name)
			report.Removed = append(report.Removed, name)
		}
	}
	for _, conflict := range report.Conflicts {
		c.logger.Warn("duplicate module", "module", conflict.Name, "first", conflict.FirstPath, "second", conflict.SecondPath)
	}
	sort.Strings(report.Added)
	sort.Strings(report.Reloaded)
	sort.Strings(report.Removed)
	c.conflicts = report.Conflicts
	c.diagnostics = report.Diagnostics
	c.refreshed = true
	return report
}

func (c *Cache) warn(diag Diagnostic, encodingWarned *bool) {
	if diag.Code != CodeManifestEncoding {
		c.logger.Warn("skipping module", "module", diag.Module, "reason", diag.Message)
		return
	}
	if !*encodingWarned {
		c.logger.Warn("skipping manifests that are not UTF-8", "path", diag.Path)
	}
	*encodingWarned = true
}

func (c *Cache) parse(entry Entry, sp SearchPath) (*Record, *Diagnostic) {
	if entry.Manifest == "" {
		diag := manifestDiagnostic(entry.Name, entry.Path, ErrManifestMissing)
		return nil, &diag
	}
	stamp, err := Stamp(entry.StampFiles()...)
	if err != nil {
		diag := Diagnostic{
			Severity: SeverityError,
			Code:     CodeScanFailed,
			Module:   entry.Name,
			Message:  err.Error(),
			Path:     entry.Path,
			Cause:    err,
		}
		return nil, &diag
	}
	info, err := LoadManifest(entry.Manifest)
	if err != nil {
		diag := manifestDiagnostic(entry.Name, entry.Manifest, err)
		return nil, &diag
	}
	if sp.ForceSupport != "" {
		info.Support = sp.ForceSupport
	}
	return &Record{
		Name:     entry.Name,
		Path:     entry.Path,
		Manifest: entry.Manifest,
		Files:    append([]string(nil), entry.Files...),
		Package:  entry.Package,
		Info:     info.WithDefaults(entry.Name, c.app),
		ModTime:  stamp,
		Dir:      sp.Dir,
	}, nil
}

// Modules returns cached records sorted by category then display name. The
// cache is refreshed first when refresh is set or nothing has been scanned
// yet.
func (c *Cache) Modules(paths []SearchPath, refresh bool) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if refresh || !c.refreshed {
		c.refreshLocked(paths)
	}
	out := make([]Record, 0, len(c.records))
	for _, record := range c.records {
		out = append(out, record.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Info.Category != b.Info.Category {
			return a.Info.Category < b.Info.Category
		}
		if a.Info.Name != b.Info.Name {
			return a.Info.Name < b.Info.Name
		}
		return a.Name < b.Name
	})
	return out
}

// Get returns the cached record for name.
func (c *Cache) Get(name string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.records[name]
	if !ok {
		return Record{}, false
	}
	return record.clone(), true
}

// Conflicts returns the duplicates found by the last refresh.
func (c *Cache) Conflicts() []Conflict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Conflict(nil), c.conflicts...)
}

// Diagnostics returns the problems found by the last refresh.
func (c *Cache) Diagnostics() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Diagnostic(nil), c.diagnostics...)
}

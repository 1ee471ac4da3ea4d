// Package config resolves runtime settings and the preferences file.
//
// Settings come from kpy.yaml, KPY_* environment variables and CLI flags
// through viper. Preferences (enabled addons, the active application
// template, extra script roots) live in prefs.yaml inside the config
// directory and are read and written with yaml.v3.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/kingrea/kpy/internal/host"
)

const (
	// AppName names the per-user directories.
	AppName = "kpy"

	// PreferencesFile is the preferences file name inside the config dir.
	PreferencesFile = "prefs.yaml"

	defaultHostVersion     = "1.52.0"
	defaultMinAddonVersion = "1.50.0"
)

// Script subdirectories searched under every script root.
const (
	AddonsDir        = "addons"
	AddonsContribDir = "addons_contrib"
	StartupDir       = "startup"
	ModulesDir       = "modules"
)

// TemplatesDir is the application template directory relative to a script
// root.
var TemplatesDir = filepath.Join(StartupDir, "app_templates")

// Settings holds runtime configuration.
type Settings struct {
	LocalScripts    string `mapstructure:"local_scripts"`
	UserScripts     string `mapstructure:"user_scripts"`
	SystemScripts   string `mapstructure:"system_scripts"`
	ConfigDir       string `mapstructure:"config_dir"`
	HostVersion     string `mapstructure:"host_version"`
	VersionCycle    string `mapstructure:"version_cycle"`
	Debug           bool   `mapstructure:"debug"`
	MinAddonVersion string `mapstructure:"min_addon_version"`
	LogDir          string `mapstructure:"log_dir"`
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	base := userBaseDir()
	v.SetDefault("local_scripts", localScriptsDir())
	v.SetDefault("user_scripts", filepath.Join(base, "scripts"))
	v.SetDefault("system_scripts", "")
	v.SetDefault("config_dir", filepath.Join(base, "config"))
	v.SetDefault("host_version", defaultHostVersion)
	v.SetDefault("version_cycle", host.CycleRelease)
	v.SetDefault("debug", false)
	v.SetDefault("min_addon_version", defaultMinAddonVersion)
	v.SetDefault("log_dir", filepath.Join(base, "logs"))
}

// Load reads settings from the global viper instance.
func Load() (Settings, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads settings from v, applying defaults for anything not set by
// the config file, environment or flags.
func LoadFrom(v *viper.Viper) (Settings, error) {
	SetDefaults(v)
	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("config: decode settings: %w", err)
	}
	settings.normalize()
	return settings, nil
}

func (s *Settings) normalize() {
	s.LocalScripts = cleanPath(s.LocalScripts)
	s.UserScripts = cleanPath(s.UserScripts)
	s.SystemScripts = cleanPath(s.SystemScripts)
	s.ConfigDir = cleanPath(s.ConfigDir)
	s.LogDir = cleanPath(s.LogDir)
	s.HostVersion = strings.TrimSpace(s.HostVersion)
	s.VersionCycle = strings.ToLower(strings.TrimSpace(s.VersionCycle))
	s.MinAddonVersion = strings.TrimSpace(s.MinAddonVersion)
}

// Config is the resolved runtime configuration plus loaded preferences.
type Config struct {
	Settings       Settings
	App            host.App
	MigrationFloor host.Version
	Prefs          *Preferences
}

// New resolves settings and loads the preferences file. A missing
// preferences file yields defaults.
func New(settings Settings) (*Config, error) {
	settings.normalize()
	version, err := host.ParseVersion(settings.HostVersion)
	if err != nil {
		return nil, fmt.Errorf("config: host_version: %w", err)
	}
	floor, err := host.ParseVersion(settings.MinAddonVersion)
	if err != nil {
		return nil, fmt.Errorf("config: min_addon_version: %w", err)
	}
	prefs, err := LoadPreferences(filepath.Join(settings.ConfigDir, PreferencesFile))
	if err != nil {
		return nil, err
	}
	return &Config{
		Settings:       settings,
		App:            host.App{Version: version, Cycle: settings.VersionCycle, Debug: settings.Debug},
		MigrationFloor: floor,
		Prefs:          prefs,
	}, nil
}

// InitUserDir creates the per-user directory layout and a default
// preferences file.
//
// Structure created:
//
//	<config_dir>/prefs.yaml
//	<log_dir>/
//	<user_scripts>/
//	├── addons/
//	├── modules/
//	└── startup/
//	    └── app_templates/
func InitUserDir(settings Settings) error {
	settings.normalize()
	var dirs []string
	if settings.ConfigDir != "" {
		dirs = append(dirs, settings.ConfigDir)
	}
	if settings.LogDir != "" {
		dirs = append(dirs, settings.LogDir)
	}
	if settings.UserScripts != "" {
		dirs = append(dirs,
			filepath.Join(settings.UserScripts, AddonsDir),
			filepath.Join(settings.UserScripts, ModulesDir),
			filepath.Join(settings.UserScripts, TemplatesDir),
		)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	if settings.ConfigDir == "" {
		return nil
	}
	return ensurePreferences(filepath.Join(settings.ConfigDir, PreferencesFile))
}

// Roots returns the script roots in search order: local, user, system, then
// the preference script_directories. Missing directories are skipped.
func (c *Config) Roots() []string {
	candidates := []string{c.Settings.LocalScripts, c.Settings.UserScripts, c.Settings.SystemScripts}
	if c.Prefs != nil {
		candidates = append(candidates, c.Prefs.ScriptDirectories()...)
	}
	seen := make(map[string]bool, len(candidates))
	var roots []string
	for _, candidate := range candidates {
		dir := cleanPath(candidate)
		if dir == "" || seen[dir] || !isDir(dir) {
			continue
		}
		seen[dir] = true
		roots = append(roots, dir)
	}
	return roots
}

// ScriptPaths returns subdir under every root, in root order, keeping only
// directories that exist.
func (c *Config) ScriptPaths(subdir string) []string {
	var paths []string
	for _, root := range c.Roots() {
		candidate := filepath.Join(root, subdir)
		if isDir(candidate) {
			paths = append(paths, candidate)
		}
	}
	return paths
}

// GoPath returns the first modules directory, used to resolve shared
// script libraries, or "" when none exists.
func (c *Config) GoPath() string {
	if paths := c.ScriptPaths(ModulesDir); len(paths) > 0 {
		return paths[0]
	}
	return ""
}

// LogPath returns the log file location.
func (c *Config) LogPath() string {
	if c.Settings.LogDir == "" {
		return ""
	}
	return filepath.Join(c.Settings.LogDir, AppName+".log")
}

// JournalPath returns the lifecycle journal location.
func (c *Config) JournalPath() string {
	if c.Settings.LogDir == "" {
		return ""
	}
	return filepath.Join(c.Settings.LogDir, "lifecycle.log")
}

func userBaseDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(".", "."+AppName)
}

func localScriptsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "scripts")
}

func cleanPath(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "~"+string(filepath.Separator)) {
		if home, err := os.UserHomeDir(); err == nil {
			trimmed = filepath.Join(home, trimmed[2:])
		}
	}
	return filepath.Clean(trimmed)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "kpy",
	Short: "Addon, startup script and app template runtime",
	Long: `kpy discovers Go script modules under the configured script roots,
registers startup modules, activates the stored application template and
enables the addons listed in preferences.`,
	SilenceUsage: true,
	RunE:         runRootDefault,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// settingFlags maps persistent flags onto viper keys.
var settingFlags = map[string]string{
	"local-scripts":  "local_scripts",
	"user-scripts":   "user_scripts",
	"system-scripts": "system_scripts",
	"config-dir":     "config_dir",
	"log-dir":        "log_dir",
	"host-version":   "host_version",
	"debug":          "debug",
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default kpy.yaml)")
	flags.BoolP("verbose", "v", false, "also log to stderr")
	flags.String("local-scripts", "", "scripts directory shipped next to the executable")
	flags.String("user-scripts", "", "per-user scripts directory")
	flags.String("system-scripts", "", "system-wide scripts directory")
	flags.String("config-dir", "", "directory holding prefs.yaml")
	flags.String("log-dir", "", "directory for kpy.log and lifecycle.log")
	flags.String("host-version", "", "host version addons are checked against")
	flags.Bool("debug", false, "enable debug logging")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("kpy")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(dir, "kpy"))
		}
	}

	viper.SetEnvPrefix("KPY")
	viper.AutomaticEnv()

	for flag, key := range settingFlags {
		_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
	}

	// A missing config file is fine; defaults apply.
	_ = viper.ReadInConfig()
}

// runRootDefault starts the TUI when stdout is a terminal and prints help
// otherwise.
func runRootDefault(cmd *cobra.Command, _ []string) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return cmd.Help()
	}
	return runTUI(tuiCmd, nil)
}

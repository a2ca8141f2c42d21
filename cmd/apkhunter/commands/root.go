// Package commands implements the CLI commands for apkhunter.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/apkhunter/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "apkhunter",
	Short: "Fetch an installable package from a download page that fights back",
	Long: `apkhunter opens a download page in a real browser, works out which of the
many download buttons is the genuine one, gets through popups, redirects and
bot checks, and stops once the package has actually arrived on disk.

Examples:
  # Hunt a target from the catalog
  apkhunter hunt --id myapp --targets targets.yaml

  # Hunt an ad-hoc URL with a 90 second deadline
  apkhunter hunt --id myapp --url "https://apps.example.org/myapp" --wait 90s

  # Plain HTTP download, no browser
  apkhunter hunt --id myapp --url "https://cdn.example.org/myapp.apk" --mode direct`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(*cobra.Command, []string) { _ = logger.Close() },
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default $HOME/.apkhunter.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "only log errors")
	flags.Bool("log-json", false, "log as JSON")
	flags.String("log-file", "", "also write a rotating debug log to this file")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("log.debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("log.quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("log.json", flags.Lookup("log-json"))
	_ = viper.BindPFlag("log.file.path", flags.Lookup("log-file"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".apkhunter")
		viper.SetConfigType("yaml")
	}

	// APKHUNTER_HUNT_GRACE -> hunt.grace
	viper.SetEnvPrefix("APKHUNTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("log.file.max_size_mb", 10)
	viper.SetDefault("log.file.max_backups", 3)
	viper.SetDefault("log.file.max_age_days", 14)

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

func setupLogging(*cobra.Command, []string) error {
	opts := logger.Options{
		Debug: viper.GetBool("log.debug"),
		Quiet: viper.GetBool("log.quiet"),
		JSON:  viper.GetBool("log.json"),
	}
	if path := viper.GetString("log.file.path"); path != "" {
		opts.File = &logger.FileOptions{
			Path:       path,
			MaxSizeMB:  viper.GetInt("log.file.max_size_mb"),
			MaxBackups: viper.GetInt("log.file.max_backups"),
			MaxAgeDays: viper.GetInt("log.file.max_age_days"),
			Compress:   viper.GetBool("log.file.compress"),
		}
	}
	logger.Init(opts)
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug("config loaded", "path", used)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		logError("%v", err)
		return err
	}
	return nil
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crm-backup/internal/config"
	"crm-backup/internal/logging"
)

var cfgFile string

// Global flag variables
var (
	verbose bool
	quiet   bool
	noColor bool
	logFile string
	theme   string
)

var vp *viper.Viper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "crm-backup",
	Short: "Encrypted backup and restore of the CRM database",
	Long: `crm-backup takes encrypted, checksummed snapshots of every governed CRM table
and restores them atomically: a restore either replaces all tables or changes nothing.

Artifacts are sealed with a secret read from the environment variable named by
backup.encryption_key_env (BACKUP_ENCRYPTION_KEY by default). Backups, restores and
inspections refuse to run without it.

Examples:
  # Write a backup next to the configured store
  crm-backup backup create --store

  # Check an artifact without the key
  crm-backup backup verify crm-backup-20240305-140709.htb

  # Restore from a file after confirmation
  crm-backup restore crm-backup-20240305-140709.htb

  # Serve the admin HTTP endpoints
  crm-backup serve`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./crm-backup.yaml or $HOME/.config/crm-backup/crm-backup.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "dark", "color theme (dark, light, plain)")

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// initConfig prepares viper for the file and environment of this run
func initConfig() {
	vp = config.NewViper(cfgFile)
	vp.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
}

// loadConfig reads the configuration and applies the global flags
func loadConfig() (*config.Config, error) {
	if verbose && quiet {
		return nil, errors.New("--verbose and --quiet flags are mutually exclusive")
	}
	if vp == nil {
		initConfig()
	}

	cfg, err := config.Load(vp)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	switch {
	case quiet:
		cfg.Logging.Level = string(logging.LogLevelQuiet)
	case verbose && cfg.Logging.Level != string(logging.LogLevelDebug):
		cfg.Logging.Level = string(logging.LogLevelVerbose)
	}
	return cfg, nil
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for crm-backup",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "crm-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand for generating sample config
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

Examples:
  crm-backup config > crm-backup.yaml`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.Template)
		},
	}
}

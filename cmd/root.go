package cmd

import (
	"context"
	"fmt"
	"os"

	"custodia/internal/application"
	"custodia/internal/backup"
	"custodia/internal/display"
	"custodia/internal/logging"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	verbose      bool
	quiet        bool
	logFile      string
	logFormat    string
	outputFormat string
	noColor      bool
	skipDatabase bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "custodia",
	Short: "Tiered backup and restore engine for regulated data",
	Long: `Custodia runs tiered, multi-component backups of a regulated system:
its database, its user files, and its configuration. Artifacts are
compressed, encrypted, checksummed, and described by manifests stored
beside them, on local disk or in S3, Azure, or GCS object storage.

Restores run behind a safety gate: pre-flight checks, an automatic
rollback snapshot, and post-restore validation with rollback on failure.

Examples:
  # Run the daily backup job against the configured storage backend
  custodia backup run daily-full --config=custodia.yaml

  # Preview which artifacts a cleanup pass would delete
  custodia cleanup --dry-run

  # Restore a database backup, keeping all safety checks on
  custodia restore run --type=DATABASE_FULL --source=<artifact-id>`,
	SilenceUsage: true,
}

// SetVersionInfo wires build-time version details into the root command
func SetVersionInfo(version, buildTime, gitCommit string) {
	rootCmd.Version = fmt.Sprintf("%s (built %s, commit %s)", version, buildTime, gitCommit)
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.custodia.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file as well as stdout")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().BoolVar(&skipDatabase, "skip-database", false, "run without a database connection")

	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("format", rootCmd.PersistentFlags().Lookup("format"))
}

// initConfig resolves the configuration file location
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".custodia")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CUSTODIA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		cfgFile = viper.ConfigFileUsed()
	}

	if noColor {
		color.NoColor = true
	}
}

// logLevel maps the verbosity flags onto a log level
func logLevel() logging.LogLevel {
	switch {
	case quiet:
		return logging.LogLevelQuiet
	case verbose:
		return logging.LogLevelVerbose
	default:
		return logging.LogLevelNormal
	}
}

// buildApplication assembles the engine from the resolved configuration
func buildApplication(ctx context.Context) (*application.Application, error) {
	config, err := backup.LoadSystemConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	return application.New(ctx, config, application.Options{
		LogLevel:     logLevel(),
		LogFile:      logFile,
		LogFormat:    logFormat,
		SkipDatabase: skipDatabase,
	})
}

// newDisplay creates the terminal output service
func newDisplay() *display.Service {
	theme := display.DefaultColorTheme()
	if noColor {
		theme = display.PlainTheme()
	}

	format := display.FormatTable
	if outputFormat == "json" {
		format = display.FormatJSON
	}
	return display.NewService(theme, format)
}

// findJob resolves a job ID against the default tier jobs
func findJob(jobID string) (*backup.BackupJob, error) {
	for _, job := range backup.DefaultTierJobs() {
		if job.ID == jobID {
			return &job, nil
		}
	}
	return nil, fmt.Errorf("unknown backup job %q, see 'custodia backup list'", jobID)
}

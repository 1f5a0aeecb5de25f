package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/imishinist/mlflow-recorder/internal/config"
	"github.com/imishinist/mlflow-recorder/internal/logger"
)

var (
	appConfig *config.Config
	appLogger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "mlflow-recorder",
	Short: "Record experiment runs to an MLflow tracking server",
	Long: `A command line recorder for MLflow tracking.
Starts and ends runs, logs parameters, metrics, tags and artifacts, and
stores serialized objects that can be loaded back later.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = appLogger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.String("tracking-uri", "", "MLflow tracking URI (overrides MLFLOW_TRACKING_URI)")
	flags.String("experiment-id", "", "Experiment ID (overrides MLFLOW_EXPERIMENT_ID)")
	flags.String("staging-dir", "", "Parent directory for staging areas (default: system temp dir)")
	flags.String("log-level", "", "Log level (debug/info/warn/error)")
	flags.String("log-format", "", "Log format (console/json)")
	flags.String("env-file", ".env", "Load environment variables from this file if it exists")
	viper.BindPFlag("tracking_uri", flags.Lookup("tracking-uri"))
	viper.BindPFlag("experiment_id", flags.Lookup("experiment-id"))
	viper.BindPFlag("staging_dir", flags.Lookup("staging-dir"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
}

func initConfig() {
	// .env never overrides variables already set in the environment
	if envFile, _ := rootCmd.PersistentFlags().GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
		}
	}

	// Environment variables
	viper.SetEnvPrefix("MLFLOW")
	viper.AutomaticEnv()

	// Also bind Databricks environment variables
	viper.BindEnv("databricks_host", "DATABRICKS_HOST")
	viper.BindEnv("databricks_token", "DATABRICKS_TOKEN")

	config.SetDefaults(viper.GetViper())
}

func setup(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	appConfig = cfg
	appLogger = l
	return nil
}

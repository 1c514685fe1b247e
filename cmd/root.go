package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/spectra/internal/config"
	"github.com/andresmejia3/spectra/internal/logtail"
	"github.com/andresmejia3/spectra/internal/metrics"
	"github.com/andresmejia3/spectra/internal/store"
)

// dbAnnotation marks how a command uses the database.
const dbAnnotation = "database"

const (
	dbRequired = "required"
	dbOptional = "optional"
)

var (
	// DB is the shared database connection. It stays nil for commands that do not
	// use the database or when an optional connection failed.
	DB *store.Store
	// Cfg is the loaded configuration.
	Cfg *config.Config
	// Logs fans log lines out to websocket clients.
	Logs *logtail.Broadcaster
	// Metrics is the process-wide metrics registry.
	Metrics *metrics.Metrics

	cfgPath string
	dbURL   string
	noDB    bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "spectra",
	Short:   "Spectral frame analysis pipeline around the native image engine",
	Version: Version,
	// Errors are reported through utils.Die in the commands.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if dbURL != "" {
			Cfg.Database.URL = dbURL
		}

		Metrics = metrics.New()
		Logs = logtail.NewBroadcaster(0, Metrics)
		base, err := Cfg.Log.NewHandler(os.Stderr)
		if err != nil {
			return fmt.Errorf("invalid log configuration: %w", err)
		}
		level, _ := config.ParseLevel(Cfg.Log.Level)
		slog.SetDefault(slog.New(logtail.NewHandler(base, Logs, level)))

		return connectDB(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
			DB = nil
		}
		if Logs != nil {
			Logs.Close()
		}
	},
}

// connectDB opens the database for commands that ask for it. A failed optional
// connection is logged and the command runs without persistence.
func connectDB(cmd *cobra.Command) error {
	mode := cmd.Annotations[dbAnnotation]
	if mode == "" || (mode == dbOptional && noDB) {
		return nil
	}
	url := Cfg.DatabaseURL(os.Getenv)
	var err error
	DB, err = store.New(cmd.Context(), url)
	if err == nil {
		return nil
	}
	if mode == dbRequired {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Warn("database unavailable, continuing without it", "error", err)
	DB = nil
	return nil
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (overrides config and POSTGRES_* variables)")
	rootCmd.PersistentFlags().BoolVar(&noDB, "no-db", false, "Run without the database where it is optional")
}

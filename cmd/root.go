package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/mapit-go/internal/config"
	"github.com/wegman-software/mapit-go/internal/logger"
	"github.com/wegman-software/mapit-go/internal/store/postgis"
)

var cfg = config.DefaultConfig()

var rootCmd = &cobra.Command{
	Use:   "mapit",
	Short: "Administrative boundary store with generation tracking",
	Long: `mapit builds administrative boundaries from OpenStreetMap data and keeps
them in PostGIS, versioned by generation.

Features:
  - Reconstructs boundary polygons from relation way members
  - Repairs invalid polygons, skipping those that cannot be fixed
  - Keeps area ids stable across imports when boundaries are unchanged
  - Spatial relationship and point/postcode lookups against a generation
  - Simplified GeoJSON, WKT and Parquet export

Settings can also be given as MAPIT_* environment variables or in a .env file.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfg.LogFile != "" {
			logger.InitWithFile(cfg.Verbose, cfg.LogFile)
		} else {
			logger.Init(cfg.Verbose)
		}
	},
	SilenceUsage: true,
}

// Execute applies .env and environment overrides, then runs the CLI. Flags
// given on the command line take precedence over both.
func Execute() error {
	if err := cfg.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		return err
	}
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose output")
	rootCmd.PersistentFlags().IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel workers")
	rootCmd.PersistentFlags().BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Report what would change without writing")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (e.g., 10s, 1m)")
	rootCmd.PersistentFlags().StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write Prometheus metrics to this textfile when done")

	// Element cache flags
	rootCmd.PersistentFlags().StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "Directory for cached OSM elements")
	rootCmd.PersistentFlags().StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "OSM API used to fetch missing elements")
	rootCmd.PersistentFlags().BoolVar(&cfg.Offline, "offline", cfg.Offline, "Never fetch missing elements")

	// Database flags (persistent so they're available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	rootCmd.PersistentFlags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	rootCmd.PersistentFlags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")

	// Lookup cache flags
	rootCmd.PersistentFlags().StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the lookup cache (empty disables it)")
	rootCmd.PersistentFlags().StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "Redis password")
	rootCmd.PersistentFlags().IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")
	rootCmd.PersistentFlags().DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Lookup cache entry lifetime")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	os.Exit(1)
}

// openStore validates the configuration and connects to the database
func openStore(ctx context.Context) *postgis.Store {
	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}
	s, err := postgis.Open(ctx, cfg)
	if err != nil {
		exitWithError("failed to connect to database", err)
	}
	return s
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Get().Info("Received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deportes-escolares/inscripciones/internal/app"
	"github.com/deportes-escolares/inscripciones/internal/cache"
	"github.com/deportes-escolares/inscripciones/internal/config"
	"github.com/deportes-escolares/inscripciones/internal/logging"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configFile string
	dataDir    string
	dataFile   string
	cacheFile  string
	logMode    string
	httpAddr   string
	grpcAddr   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "inscripciones",
		Short: "School sports enrollment dashboard",
		Long: `Loads the enrollment spreadsheet, caches the processed snapshot as JSON and
serves the dashboard data over HTTP (and optionally gRPC).

Environment variables (INSCRIPCIONES_DATA_DIR, INSCRIPCIONES_DATA_FILE, ...)
override the config file; flags override both.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "Base directory for derived files")
	pf.StringVar(&flags.dataFile, "data-file", "", "Enrollment spreadsheet (.xlsx)")
	pf.StringVar(&flags.cacheFile, "cache-file", "", "JSON snapshot cache file")
	pf.StringVar(&flags.logMode, "log-mode", "", "Log mode: development or production")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
	serve.Flags().StringVar(&flags.httpAddr, "http-addr", "", "HTTP listen address")
	serve.Flags().StringVar(&flags.grpcAddr, "grpc-addr", "", "gRPC listen address (enables gRPC)")

	var asJSON bool
	build := &cobra.Command{
		Use:   "build",
		Short: "Rebuild the snapshot from the spreadsheet and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				snap, err := a.Manager().Rebuild(ctx)
				if err != nil {
					return err
				}
				return printSummary(cmd, snap, false)
			})
		},
	}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Print the summary of the current snapshot, building it if stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				snap, err := a.Manager().GetOrBuild(ctx)
				if err != nil {
					return err
				}
				return printSummary(cmd, snap, asJSON)
			})
		},
	}
	summary.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "inscripciones version %s (commit: %s)\n", version, commit)
		},
	}

	root.AddCommand(serve, build, summary, versionCmd)
	return root
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if flags.configFile != "" {
		cfg, err = config.LoadFromFile(flags.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.dataFile != "" {
		cfg.DataFile = flags.dataFile
	}
	if flags.cacheFile != "" {
		cfg.CacheFile = flags.cacheFile
	}
	if flags.logMode != "" {
		cfg.Log.Mode = flags.logMode
	}
	if flags.httpAddr != "" {
		cfg.HTTP.Addr = flags.httpAddr
	}
	if flags.grpcAddr != "" {
		cfg.GRPC.Addr = flags.grpcAddr
		cfg.GRPC.Enabled = true
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, flags *globalFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(cmd, flags, func(_ context.Context, a *app.App) error {
		return a.Run(ctx)
	})
}

// withApp builds the application, runs fn and releases it.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printSummary(cmd *cobra.Command, snap *cache.Snapshot, asJSON bool) error {
	out := cmd.OutOrStdout()
	if !asJSON {
		return cache.WriteSummary(out, snap)
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(snap.Summary())
}

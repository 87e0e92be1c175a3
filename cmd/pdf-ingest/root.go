package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"

	"github.com/Lllllllleong/pdfingest/internal/amazon"
	"github.com/Lllllllleong/pdfingest/internal/config"
	"github.com/Lllllllleong/pdfingest/internal/gcp"
	"github.com/Lllllllleong/pdfingest/internal/services"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
)

type rootOpts struct {
	configFile string
	provider   string
	container  string
	baseDir    string
	dryRun     bool
	debug      bool
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	cmd := &cobra.Command{
		Use:   "pdf-ingest",
		Short: "Ingest archives of PDF documents from an object store",
		Long: `pdf-ingest downloads archives that have not been processed yet, extracts their
documents, quarantines badly named documents, corrects piece counts and moves
the results into the finished directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.logFormat, opts.debug)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.provider, "provider", "", "object store provider: s3 or gcs")
	cmd.PersistentFlags().StringVar(&opts.container, "container", "", "bucket holding the archives")
	cmd.PersistentFlags().StringVar(&opts.baseDir, "base-dir", "", "root of the local directory tree")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log format: json or text")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), opts, opts.dryRun)
		},
	}
	runCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "only list and plan, do not fetch")

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the archives the next run would fetch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), opts, true)
		},
	}

	cmd.AddCommand(runCmd, planCmd)
	cmd.Args = cobra.NoArgs
	cmd.RunE = runCmd.RunE
	cmd.Flags().AddFlagSet(runCmd.Flags())
	return cmd
}

func setupLogging(format string, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig applies command line overrides on top of file and environment configuration.
func loadConfig(opts *rootOpts, dryRun bool) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, errors.Errorf("loading config: %w", err)
	}
	if opts.provider != "" {
		cfg.Provider = opts.provider
	}
	if opts.container != "" {
		cfg.Container = opts.container
	}
	if opts.baseDir != "" {
		cfg.BaseDir = opts.baseDir
	}
	if dryRun {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func newArchiveStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.ArchiveStore, func() error, error) {
	switch cfg.Provider {
	case config.ProviderGCS:
		store, err := gcp.NewStore(ctx, gcp.StoreConfig{
			Prefix:                cfg.Prefix,
			ArchiveGlob:           cfg.ArchiveGlob,
			CredentialsFile:       cfg.GCS.CredentialsFile,
			Endpoint:              cfg.GCS.Endpoint,
			WithoutAuthentication: cfg.GCS.WithoutAuthentication,
			MaxListPages:          cfg.MaxListPages,
			DownloadRetries:       cfg.GCS.DownloadRetries,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store, err := amazon.NewStore(ctx, amazon.StoreConfig{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			Prefix:       cfg.Prefix,
			ArchiveGlob:  cfg.ArchiveGlob,
			MaxListPages: cfg.MaxListPages,
			MaxAttempts:  cfg.S3.MaxAttempts,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	}
}

func runPipeline(ctx context.Context, opts *rootOpts, dryRun bool) error {
	cfg, err := loadConfig(opts, dryRun)
	if err != nil {
		return err
	}
	pattern, err := cfg.CompileNamePattern()
	if err != nil {
		return err
	}

	logger := slog.Default()
	store, closeStore, err := newArchiveStore(ctx, cfg, logger)
	if err != nil {
		return errors.Errorf("creating archive store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("Failed to close archive store.", "error", err)
		}
	}()

	pipeline, err := services.NewPipeline(services.PipelineConfig{
		Container:    cfg.Container,
		BaseDir:      cfg.BaseDir,
		NamePattern:  pattern,
		DocumentGlob: cfg.DocumentGlob,
		ArchiveGlob:  cfg.ArchiveGlob,
		DirMode:      fs.FileMode(cfg.DirMode),
		DryRun:       cfg.DryRun,
	}, store, logger)
	if err != nil {
		return errors.Errorf("creating pipeline: %w", err)
	}

	report, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("Run summary.",
		"dryRun", report.DryRun,
		"planned", report.Planned,
		"quarantined", len(report.Quarantined),
		"renamed", len(report.Renamed),
		"finalized", len(report.Finalized),
		"archived", report.Archived,
	)
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gocloud.dev/blob"

	"github.com/ligustah/nhanes/internal/catalog"
	"github.com/ligustah/nhanes/internal/config"
	"github.com/ligustah/nhanes/internal/convert"
	"github.com/ligustah/nhanes/internal/downloader"
	nhttp "github.com/ligustah/nhanes/internal/http"
	"github.com/ligustah/nhanes/internal/metrics"
	"github.com/ligustah/nhanes/internal/pipeline"
	"github.com/ligustah/nhanes/internal/scrape"
	"github.com/ligustah/nhanes/internal/storage"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath    string
	envFile       string
	logLevel      string
	destination   string
	layout        string
	workers       int
	progress      bool
	metricsFile   string
	catalogBucket string
	catalogObject string
}

func (f *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	pf.StringVar(&f.envFile, "env-file", ".env", "Path to dotenv file with NHANES_* variables")
	pf.StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVarP(&f.destination, "destination", "d", "", "Destination directory or bucket URL")
	pf.StringVar(&f.layout, "layout", "", "Destination layout: flat or category")
	pf.IntVar(&f.workers, "workers", 0, "Maximum concurrent downloads")
	pf.BoolVar(&f.progress, "progress", false, "Show progress output")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
	pf.StringVar(&f.catalogBucket, "catalog-bucket", "", "Directory or bucket URL holding the catalog")
	pf.StringVar(&f.catalogObject, "catalog-object", "", "Catalog object name")
}

// override returns the config values set on the command line.
func (f *globalFlags) override() config.Config {
	return config.Config{
		Destination: f.destination,
		Layout:      f.layout,
		Workers:     f.workers,
		Progress:    f.progress,
		MetricsFile: f.metricsFile,
		Catalog: config.CatalogConfig{
			Bucket: f.catalogBucket,
			Object: f.catalogObject,
		},
	}
}

// app holds everything a command needs for one run.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	stderr  io.Writer
}

// newApp resolves configuration from defaults, file, environment and flags,
// in increasing order of precedence.
func newApp(flags *globalFlags, override config.Config, stderr io.Writer) (*app, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(flags.logLevel)); err != nil {
		return nil, withCode(ExitInvalidArgs, fmt.Errorf("invalid log level %q", flags.logLevel))
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})).
		With("run_id", uuid.NewString())

	if err := config.LoadEnvFile(flags.envFile); err != nil {
		return nil, withCode(ExitConfigError, err)
	}

	cfg := config.Default()
	if flags.configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(flags.configPath)
		if err != nil {
			return nil, withCode(ExitConfigError, err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, withCode(ExitConfigError, err)
	}

	cfg = cfg.Merge(flags.override()).Merge(override)
	if err := cfg.Validate(); err != nil {
		return nil, withCode(ExitConfigError, err)
	}

	a := &app{cfg: cfg, logger: logger, stderr: stderr}
	if cfg.MetricsFile != "" {
		a.metrics = metrics.New()
	}
	return a, nil
}

// openDestination opens the download destination, creating local
// directories as needed.
func (a *app) openDestination(ctx context.Context) (*blob.Bucket, error) {
	bucket, err := storage.Open(ctx, a.cfg.Destination)
	if err != nil {
		return nil, withCode(ExitStorageError, err)
	}
	return bucket, nil
}

// provider builds the catalog provider. The returned bucket must be closed
// by the caller.
func (a *app) provider(ctx context.Context) (*catalog.Provider, *blob.Bucket, error) {
	bucket, err := storage.Open(ctx, a.cfg.Catalog.Bucket)
	if err != nil {
		return nil, nil, withCode(ExitStorageError, err)
	}

	client := nhttp.NewClient(nhttp.Options{
		UserAgent:         a.cfg.HTTP.UserAgent,
		Timeout:           a.cfg.HTTP.Timeout,
		RequestsPerSecond: a.cfg.Catalog.RequestsPerSecond,
	})
	scraper, err := scrape.New(client, scrape.Options{
		SourceURL: a.cfg.Catalog.SourceURL,
		BaseURL:   a.cfg.Catalog.BaseURL,
		Retry:     a.cfg.Retry.Policy(),
		Logger:    a.logger,
	})
	if err != nil {
		bucket.Close()
		return nil, nil, withCode(ExitConfigError, err)
	}

	store := catalog.NewStore(bucket, a.cfg.Catalog.Object)
	return catalog.NewProvider(store, scraper, catalog.ProviderOptions{
		Logger:  a.logger,
		Metrics: a.metrics,
	}), bucket, nil
}

// pipeline builds the full pipeline. The returned function closes the
// buckets it opened.
func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, func(), error) {
	provider, catalogBucket, err := a.provider(ctx)
	if err != nil {
		return nil, nil, err
	}

	dest, err := a.openDestination(ctx)
	if err != nil {
		catalogBucket.Close()
		return nil, nil, err
	}

	client := nhttp.NewClient(nhttp.Options{
		MaxIdleConnsPerHost: a.cfg.Workers,
		UserAgent:           a.cfg.HTTP.UserAgent,
		Timeout:             a.cfg.HTTP.Timeout,
	})
	dl := downloader.New(client, downloader.Options{
		Workers:        a.cfg.Workers,
		Retry:          a.cfg.Retry.Policy(),
		Progress:       a.cfg.Progress,
		ProgressOutput: a.stderr,
		Logger:         a.logger,
		Metrics:        a.metrics,
	})
	conv := a.converter()

	p := pipeline.New(provider, dl, conv, dest, pipeline.Options{
		Layout: a.cfg.Layout,
		Logger: a.logger,
	})
	cleanup := func() {
		dest.Close()
		catalogBucket.Close()
	}
	return p, cleanup, nil
}

func (a *app) converter() *convert.Converter {
	return convert.New(convert.XPORT, convert.Options{
		Logger:  a.logger,
		Metrics: a.metrics,
	})
}

// finish exports metrics if configured.
func (a *app) finish() {
	if a.metrics == nil {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		a.logger.Warn("writing metrics failed", "path", a.cfg.MetricsFile, "error", err)
	}
}

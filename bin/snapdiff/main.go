package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"snapdiff/internal/metrics"
	"snapdiff/internal/notify"
	"snapdiff/internal/publish"
	"snapdiff/internal/resultstore"
	"snapdiff/internal/runner"
	"snapdiff/internal/schedule"
	"snapdiff/internal/storage"
	"snapdiff/internal/telemetry"
)

func envOrDefaultValue[T any](key string, defaultValue T) T {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case string:
		return any(value).(T)
	case int:
		if intValue, err := strconv.Atoi(value); err == nil {
			return any(intValue).(T)
		}
	case uint:
		if uintValue, err := strconv.ParseUint(value, 10, 0); err == nil {
			return any(uint(uintValue)).(T)
		}
	case float64:
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return any(floatValue).(T)
		}
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return any(boolValue).(T)
		}
	case time.Duration:
		if durationValue, err := time.ParseDuration(value); err == nil {
			return any(durationValue).(T)
		}
	}

	return defaultValue
}

type options struct {
	config          runner.Config
	resultsDB       string
	metricsTextfile string
	publishBackend  string
	publishDir      string
	publishPrefix   string
	callbackURL     string
	schedule        string
	json            bool
	debug           bool
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("failed to load .env: %v", err)
	}

	defaults := runner.DefaultConfig()
	var opts options
	var extensions string
	flag.StringVar(&opts.config.Output, "output", envOrDefaultValue("OUTPUT", defaults.Output), "Report file, or - for standard output")
	flag.Float64Var(&opts.config.Fuzz, "fuzz", envOrDefaultValue("FUZZ", defaults.Fuzz), "Per pixel tolerance in [0, 1]")
	flag.BoolVar(&opts.config.Overwrite, "overwrite", envOrDefaultValue("OVERWRITE", defaults.Overwrite), "Regenerate diffs and thumbnails even when they are fresh")
	flag.BoolVar(&opts.config.Alpha, "alpha", envOrDefaultValue("ALPHA", defaults.Alpha), "Compare the alpha channel")
	flag.IntVar(&opts.config.Workers, "workers", envOrDefaultValue("WORKERS", defaults.Workers), "Number of pairs compared in parallel")
	flag.UintVar(&opts.config.ThumbnailSize, "thumbnail-size", envOrDefaultValue("THUMBNAIL_SIZE", defaults.ThumbnailSize), "Bounding box of thumbnails in pixels")
	flag.StringVar(&extensions, "extensions", envOrDefaultValue("EXTENSIONS", ".png"), "Comma separated image extensions to locate")
	flag.StringVar(&opts.resultsDB, "results-db", envOrDefaultValue("RESULTS_DB", ""), "SQLite database keeping run history and metrics of cached diffs")
	flag.StringVar(&opts.metricsTextfile, "metrics-textfile", envOrDefaultValue("METRICS_TEXTFILE", ""), "Write run metrics in the Prometheus text format to this file")
	flag.StringVar(&opts.publishBackend, "publish-backend", envOrDefaultValue("PUBLISH_BACKEND", "none"), "Where to publish the report (none, file or s3)")
	flag.StringVar(&opts.publishDir, "publish-directory", envOrDefaultValue("PUBLISH_DIRECTORY", ""), "Destination directory for the file backend")
	flag.StringVar(&opts.publishPrefix, "publish-prefix", envOrDefaultValue("PUBLISH_PREFIX", ""), "Key prefix for the s3 backend")
	flag.StringVar(&opts.callbackURL, "callback-url", envOrDefaultValue("CALLBACK_URL", ""), "URL the JSON run summary is POSTed to")
	flag.StringVar(&opts.schedule, "schedule", envOrDefaultValue("SCHEDULE", ""), "Cron expression to rerun the comparison on")
	flag.BoolVar(&opts.json, "json", envOrDefaultValue("JSON", false), "Print the run summary as JSON to standard output")
	flag.BoolVar(&opts.debug, "debug", envOrDefaultValue("DEBUG", false), "Human readable logs")

	flag.Parse()
	opts.config.Extensions = runner.ParseExtensions(extensions)

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <reference prefix> <candidate prefix>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(os.Stderr, opts.debug)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, telemetry.Logr(logger), opts, args[0], args[1]); err != nil {
		logger.Error("snapdiff failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger logr.Logger, opts options, referencePrefix string, candidatePrefix string) error {
	if err := opts.config.Validate(); err != nil {
		return xerrors.Errorf("invalid configuration: %w", err)
	}
	if opts.json && opts.config.Output == runner.StdoutOutput {
		return xerrors.New("-json cannot be combined with -output -")
	}

	t, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:       "snapdiff",
		PyroscopeEndpoint: os.Getenv("PYROSCOPE_ENDPOINT"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error(err, "Failed to shutdown telemetry")
		}
	}()

	r := &runner.Runner{
		Config:  opts.config,
		Log:     logger.WithName("runner"),
		Metrics: metrics.New(),
	}

	if opts.resultsDB != "" {
		store, err := resultstore.Open(opts.resultsDB)
		if err != nil {
			return err
		}
		defer store.Close()
		r.Store = store
	}

	publisher, err := newPublisher(ctx, logger, opts)
	if err != nil {
		return err
	}

	var notifier *notify.Notifier
	if opts.callbackURL != "" {
		notifier = notify.NewNotifier(opts.callbackURL)
	}

	job := func(ctx context.Context) error {
		summary, err := r.Run(ctx, referencePrefix, candidatePrefix)
		if err != nil {
			return err
		}

		if opts.metricsTextfile != "" {
			if err := r.Metrics.WriteTextfile(opts.metricsTextfile); err != nil {
				logger.Error(err, "Failed to write metrics textfile")
			}
		}

		if publisher != nil {
			if _, err := publisher.Publish(ctx, summary.Files); err != nil {
				return xerrors.Errorf("failed to publish report: %w", err)
			}
		}

		if notifier != nil {
			if err := notifier.Send(ctx, summary); err != nil {
				return xerrors.Errorf("failed to send callback: %w", err)
			}
		}

		if opts.json {
			if err := json.NewEncoder(os.Stdout).Encode(summary); err != nil {
				return xerrors.Errorf("failed to encode summary: %w", err)
			}
		}
		return nil
	}

	if opts.schedule == "" {
		return job(ctx)
	}

	s, err := schedule.Parse(opts.schedule)
	if err != nil {
		return err
	}
	loop := &schedule.Loop{
		Schedule: s,
		Run:      job,
		Log:      logger.WithName("schedule"),
	}
	return loop.Start(ctx)
}

func newPublisher(ctx context.Context, logger logr.Logger, opts options) (*publish.Publisher, error) {
	var (
		s   storage.Storage
		err error
	)
	switch opts.publishBackend {
	case "", "none":
		return nil, nil
	case "file":
		if opts.publishDir == "" {
			return nil, xerrors.New("-publish-directory is required for the file backend")
		}
		s, err = storage.NewFileStorage(ctx, storage.FileConfig{
			Directory: opts.publishDir,
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to create file storage backend: %w", err)
		}
	case "s3":
		s, err = storage.NewS3Storage(ctx, storage.S3Config{
			Bucket: os.Getenv("S3_BUCKET"),
			Prefix: opts.publishPrefix,
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to create S3 storage backend: %w", err)
		}
	default:
		return nil, xerrors.Errorf("unknown publish backend: %s", opts.publishBackend)
	}

	return &publish.Publisher{
		Storage: s,
		Log:     logger.WithName("publish"),
	}, nil
}

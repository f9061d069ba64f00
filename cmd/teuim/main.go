package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/teu-im/teuim/pkg/audio"
	"github.com/teu-im/teuim/pkg/config"
	"github.com/teu-im/teuim/pkg/configutil"
	"github.com/teu-im/teuim/pkg/credential"
	"github.com/teu-im/teuim/pkg/interpreter"
	"github.com/teu-im/teuim/pkg/logging"
	"github.com/teu-im/teuim/pkg/metrics"
	"github.com/teu-im/teuim/pkg/recorder"
	"github.com/teu-im/teuim/pkg/resilience"
	"github.com/teu-im/teuim/pkg/runner"
	"github.com/teu-im/teuim/pkg/session"
	"github.com/teu-im/teuim/pkg/status"
	"github.com/teu-im/teuim/pkg/storage"
)

func main() {
	configPath := flag.String("config", "teuim.yaml", "path to config file")
	listDevices := flag.Bool("list-devices", false, "print capture devices and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("teuim %s\n", runner.Version)
		return
	}
	if *listDevices {
		if err := printDevices(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	sessionID := uuid.NewString()
	retry := resilience.Options{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay(),
		MaxDelay:   cfg.Retry.MaxDelay(),
	}

	creds, err := credential.NewClient(credential.Config{
		Endpoint:    cfg.Credential.Endpoint,
		ProjectID:   cfg.Credential.ProjectID,
		BearerToken: cfg.Credential.BearerToken,
	}, retry, logger)
	if err != nil {
		return err
	}

	var statusReporter interpreter.StatusReporter
	if cfg.Status.Endpoint != "" {
		st, err := status.NewClient(status.Config{Endpoint: cfg.Status.Endpoint}, sessionID, retry, logger)
		if err != nil {
			return err
		}
		statusReporter = st
	}

	observer, flush, err := buildObserver(cfg)
	if err != nil {
		return err
	}
	defer flush()

	rec, err := buildRecorder(cfg, sessionID, logger, observer)
	if err != nil {
		return err
	}

	source, err := buildSource(cfg, logger)
	if err != nil {
		return err
	}

	pool, err := interpreter.New(interpreter.Config{
		SessionID:       sessionID,
		StreamURL:       cfg.Stream.URL,
		Model:           cfg.Stream.Model,
		LanguageHints:   cfg.Stream.LanguageHints,
		IncludeNonFinal: cfg.Stream.IncludeNonFinal,
		ConnectTimeout:  cfg.Stream.ConnectTimeout(),
		Source:          source,
		Credentials:     creds,
		Status:          statusReporter,
		Recorder:        rec,
		OnResult:        printResult,
		OnError: func(target string, err error) {
			logger.Error("interpretation stopped",
				slog.String("target_language", target),
				slog.String("error", err.Error()))
		},
		Logger:  logger,
		Metrics: observer,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pool.Start(ctx, cfg.Stream.TargetLanguages); err != nil {
		return err
	}
	logger.Info("interpreting",
		slog.String("session_id", sessionID),
		slog.String("targets", strings.Join(cfg.Stream.TargetLanguages, ",")))

	lr := runner.NewLifecycleRunner(poolDrainer{pool}, runner.Hooks{}, 0)
	return lr.Run(ctx)
}

// poolDrainer finishes the pool gracefully during runner drain.
type poolDrainer struct {
	pool *interpreter.Coordinator
}

func (d poolDrainer) Drain() error {
	return d.pool.Stop(context.Background())
}

func printResult(r session.Result) {
	marker := "…"
	if r.IsFinal {
		marker = fmt.Sprintf("#%d", r.Sequence)
	}
	fmt.Printf("[%s %s] %s ⇒ %s\n", r.TargetLanguage, marker, r.OriginalText, r.TranslatedText)
}

func printDevices() error {
	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		suffix := ""
		if d.Default {
			suffix = " (default)"
		}
		fmt.Printf("%-12s %s%s\n", d.ID, d.Name, suffix)
	}
	return nil
}

func buildSource(cfg config.Config, logger *slog.Logger) (audio.Source, error) {
	var deviceCfg audio.DeviceConfig
	if err := configutil.DecodeSettings(cfg.Audio.Settings, &deviceCfg); err != nil {
		return nil, fmt.Errorf("audio.settings: %w", err)
	}
	deviceCfg.DeviceID = cfg.Audio.DeviceID
	return audio.NewDeviceSource(deviceCfg, logger), nil
}

func buildUploader(cfg config.Config) (storage.Uploader, error) {
	switch cfg.Storage.Provider {
	case "s3":
		var opts storage.S3Options
		if err := configutil.DecodeSettings(cfg.Storage.Settings, &opts); err != nil {
			return nil, fmt.Errorf("storage.settings: %w", err)
		}
		bucket, _ := cfg.Storage.Settings["bucket"].(string)
		return storage.NewS3Uploader(context.Background(), bucket, opts)
	case "memory":
		return storage.NewMemoryUploader(), nil
	default:
		return nil, fmt.Errorf("storage.provider %q is not supported", cfg.Storage.Provider)
	}
}

func buildRecorder(cfg config.Config, sessionID string, logger *slog.Logger, observer metrics.Observer) (recorder.Recorder, error) {
	if !cfg.Recording.Enabled {
		return nil, nil
	}
	uploader, err := buildUploader(cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Recording.Mode {
	case "chunked":
		return recorder.NewChunked(recorder.ChunkedConfig{
			SessionID:       sessionID,
			SegmentDuration: cfg.Recording.SegmentDuration(),
			Uploader:        uploader,
			Logger:          logger,
			Metrics:         observer,
		}), nil
	default:
		return recorder.NewWholeFile(sessionID, uploader, logger), nil
	}
}

func buildObserver(cfg config.Config) (metrics.Observer, func(), error) {
	if cfg.Metrics.Path == "" {
		return metrics.NoopObserver{}, func() {}, nil
	}
	f, err := os.OpenFile(cfg.Metrics.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open metrics sink: %w", err)
	}
	obs := metrics.NewJSONLObserver(f)
	return obs, func() {
		_ = obs.Flush()
		_ = f.Close()
	}, nil
}

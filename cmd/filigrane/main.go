package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/filigrane/internal/config"
	"github.com/aliskhannn/filigrane/internal/infra/kafka/producer"
	"github.com/aliskhannn/filigrane/internal/model"
	"github.com/aliskhannn/filigrane/internal/orchestrator"
	"github.com/aliskhannn/filigrane/internal/report"
	"github.com/aliskhannn/filigrane/internal/scanner"
	"github.com/aliskhannn/filigrane/internal/storage/file"
	"github.com/aliskhannn/filigrane/internal/storage/s3"
	"github.com/aliskhannn/filigrane/internal/watermark"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Context & signals: an interrupt abandons the run and still prints the summary.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// Initialize logger and load application configuration.
	zlog.Init()

	cfg, err := config.Load("filigrane", args, stderr)
	switch {
	case errors.Is(err, config.ErrHelp):
		return report.ExitOK
	case errors.Is(err, config.ErrVersion):
		fmt.Fprintf(stdout, "filigrane %s\n", version)
		return report.ExitOK
	case err != nil:
		fmt.Fprintf(stderr, "filigrane: %v\n", err)
		return report.ExitUsage
	}

	zlog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}).
		Level(cfg.Level()).
		With().
		Timestamp().
		Logger()

	// Select the candidate documents.
	found, err := scanner.Scan(cfg.Folder, scanner.Options{Recursive: cfg.Recursive, Exclude: cfg.OutputDir})
	if err != nil {
		zlog.Logger.Error().Err(err).Str("folder", cfg.Folder).Msg("failed to scan folder")
		return report.ExitUsage
	}
	for _, s := range found.Skipped {
		zlog.Logger.Warn().Str("file", s.RelPath).Err(s.Reason).Msg("skipping file")
	}

	if len(found.Documents) == 0 {
		fmt.Fprintf(stdout, "No supported documents (pdf, jpg, jpeg, png, heic) in %s.\n", cfg.Folder)
		if len(found.Skipped) > 0 {
			report.Print(stdout, model.BatchResult{Mode: cfg.Mode(), Skipped: found.Skipped})
		}
		return report.ExitOK
	}

	// Initialize output storage and the watermarking client.
	storage, err := file.NewStorage(cfg.OutputDir)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("output_dir", cfg.OutputDir).Msg("failed to prepare output directory")
		return report.ExitFailure
	}

	client := watermark.NewClient(cfg.API.BaseURL, cfg.API.Key, cfg.API.HTTPTimeout)

	orch := orchestrator.New(client, storage, orchestrator.Options{
		Mode:            cfg.Mode(),
		Watermark:       cfg.Watermark,
		AggregateOutput: cfg.AggregateOutput,
		Concurrency:     cfg.Concurrency,
		Timeout:         cfg.Timeout,
		Poll: orchestrator.PollPolicy{
			Interval:    cfg.Poll.Interval,
			MaxInterval: cfg.Poll.MaxInterval,
			MaxWait:     cfg.Poll.MaxWait,
		},
		Retry: cfg.Strategy(),
	})

	// Optional result mirror (MinIO / S3).
	if cfg.MirrorEnabled() {
		mirror, err := s3.NewStorage(ctx, s3.Options{
			Endpoint:   cfg.Storage.Endpoint,
			AccessKey:  cfg.Storage.AccessKey,
			SecretKey:  cfg.Storage.SecretKey,
			BucketName: cfg.Storage.BucketName,
			UseSSL:     cfg.Storage.UseSSL,
			Prefix:     cfg.Storage.Prefix,
		}, cfg.Strategy())
		if err != nil {
			zlog.Logger.Warn().Err(err).Msg("result mirror disabled")
		} else {
			orch.WithMirror(mirror)
		}
	}

	// Optional outcome events (Kafka).
	if cfg.EventsEnabled() {
		p := producer.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Strategy())
		defer func() {
			if err := p.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close kafka producer")
			}
		}()
		orch.WithPublisher(p)
	}

	result := orch.Run(ctx, found.Documents, found.Skipped)

	report.Print(stdout, result)

	return report.ExitCode(result)
}

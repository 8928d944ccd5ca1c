// Package bootstrap provides dependency initialization for the LongTrack API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/longtrack-api/internal/acestep"
	"github.com/maauso/longtrack-api/internal/audio"
	"github.com/maauso/longtrack-api/internal/config"
	"github.com/maauso/longtrack-api/internal/generator"
	"github.com/maauso/longtrack-api/internal/job"
	"github.com/maauso/longtrack-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	TrackService *job.GenerateTrackService
	// HealthCheck probes the generation backend.
	HealthCheck func(ctx context.Context) error
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize ACE-Step client
	clientOpts := []acestep.ClientOption{acestep.WithAPIKey(cfg.ACEStepAPIKey)}
	if cfg.ACEStepOutputDir != "" {
		clientOpts = append(clientOpts, acestep.WithOutputDir(cfg.ACEStepOutputDir))
	}
	client, err := acestep.NewClient(cfg.ACEStepAPIURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create ACE-Step client: %w", err)
	}

	codec := audio.NewFFmpegCodec("")

	submit := acestep.DefaultSubmitOptions()
	if cfg.ACEStepSteps > 0 {
		submit.InferenceSteps = cfg.ACEStepSteps
	}
	backend := generator.NewACEStepBackend(client, codec, cfg.SampleRate, cfg.Channels,
		generator.WithMaxDuration(cfg.MaxSegmentDuration),
		generator.WithPollInterval(cfg.ACEStepPollInterval),
		generator.WithSegmentTimeout(cfg.SegmentTimeout),
		generator.WithLengthTolerance(cfg.LengthTolerance),
		generator.WithTempDir(cfg.TempDir),
		generator.WithSubmitOptions(submit),
		generator.WithLogger(logger),
	)

	// Initialize job repository
	repo := job.NewMemoryRepository()

	svc := job.NewGenerateTrackService(
		repo,
		backend,
		codec,
		store,
		cfg.Generation(0),
		logger,
		job.WithOutputFormat(cfg.OutputFormat),
		job.WithJobTimeout(cfg.JobTimeout),
	)

	return &Dependencies{
		TrackService: svc,
		HealthCheck:  client.Health,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			KeyPrefix:       cfg.S3KeyPrefix,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}

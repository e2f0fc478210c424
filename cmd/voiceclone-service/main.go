// main package for the voiceclone-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/artifact"
	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/httpapi"
	"github.com/book-expert/voiceclone-service/internal/model"
	"github.com/book-expert/voiceclone-service/internal/objectstore"
	"github.com/book-expert/voiceclone-service/internal/refaudio"
	"github.com/book-expert/voiceclone-service/internal/refcache"
	"github.com/book-expert/voiceclone-service/internal/tts"
	"github.com/book-expert/voiceclone-service/internal/tts/spectrogram"
	"github.com/book-expert/voiceclone-service/internal/tts/ttsutils"
	"github.com/book-expert/voiceclone-service/internal/tts/whisper"
	"github.com/book-expert/voiceclone-service/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	artifactDownloadTimeout = 30 * time.Minute
	janitorInterval         = 5 * time.Minute
)

var errUnknownBackend = errors.New("unknown generator backend")

func setupLogger(logPath, name string) (*logger.Logger, error) {
	log, err := logger.New(logPath, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// runtime holds the long-lived connections opened during startup.
type runtime struct {
	natsConnection *nats.Conn
	jetstream      nats.JetStreamContext
	redisClient    *redis.Client
}

func (r *runtime) close() {
	if r.natsConnection != nil {
		r.natsConnection.Close()
	}

	if r.redisClient != nil {
		_ = r.redisClient.Close()
	}
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), "voiceclone-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	log, err := setupLogger(cfg.Paths.BaseLogsDir, "voiceclone-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := &runtime{}
	defer rt.close()

	err = connectNATS(cfg, rt, log)
	if err != nil {
		return err
	}

	generator, err := newGenerator(cfg.Generator, log)
	if err != nil {
		return err
	}

	fetcher, err := newFetcher(cfg, rt, log)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStartup, err)
	}

	handles, err := model.Load(ctx, cfg.Model, fetcher, generator, log)
	if err != nil {
		log.Error("Startup failed: %v", err)

		return err
	}

	for i, example := range cfg.Examples {
		missing := handles.Vocab.Coverage(example.Text)
		if len(missing) > 0 {
			log.Warn("Example %d uses characters outside the vocabulary: %q", i, missing)
		}
	}

	cache, err := newCache(ctx, cfg.Cache, rt)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStartup, err)
	}

	transcriber := whisper.NewClient(whisper.Config{
		BaseURL:  cfg.Transcriber.BaseURL,
		APIKey:   cfg.Transcriber.APIKey,
		Model:    cfg.Transcriber.Model,
		Language: cfg.Transcriber.Language,
	})

	err = ttsutils.EnsureDir(cfg.Paths.SpectrogramDir)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStartup, err)
	}

	service, err := tts.NewService(tts.Dependencies{
		Preprocessor: refaudio.New(transcriber, cache, handles.Vocoder.SampleRate, log),
		Pipeline:     tts.NewPipeline(generator, log),
		Spectrograms: spectrogram.NewWriter(cfg.Paths.SpectrogramDir),
		Model:        handles.Model,
		Vocoder:      handles.Vocoder,
		Log:          log,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStartup, err)
	}

	api, err := httpapi.New(httpapi.Options{
		Synthesizer:        service,
		Checks:             readinessChecks(generator, rt),
		Examples:           cfg.Examples,
		MaxConcurrent:      cfg.Server.MaxConcurrent,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		MaxUploadBytes:     int64(cfg.Server.MaxUploadMB) << 20,
		Log:                log,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStartup, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return httpapi.ListenAndServe(groupCtx, cfg.Addr(), api.Handler(), cfg.Server)
	})

	janitor := spectrogram.NewJanitor(cfg.Paths.SpectrogramDir,
		time.Duration(cfg.Paths.SpectrogramTTLMinutes)*time.Minute, janitorInterval, log)
	group.Go(func() error {
		return janitor.Run(groupCtx)
	})

	if rt.natsConnection != nil {
		store, storeErr := objectstore.New(rt.jetstream, cfg.NATS.ObjectStoreBucket)
		if storeErr != nil {
			return fmt.Errorf("%w: %w", core.ErrStartup, storeErr)
		}

		natsWorker := worker.NewNatsWorker(rt.natsConnection, cfg.NATS.SynthesizeSubject, store, service,
			time.Duration(cfg.Generator.TimeoutSeconds)*time.Second, log)
		log.Info("NATS worker on subject %s, object store bucket %s",
			cfg.NATS.SynthesizeSubject, store.Bucket())

		group.Go(func() error {
			return natsWorker.Run(groupCtx)
		})
	}

	log.System("Voiceclone-Service initialized with model %s (%s vocoder). Listening on %s",
		handles.Model.Name, handles.Vocoder.Name, cfg.Addr())

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service stopped with error: %v", err)

		return err
	}

	log.System("Voiceclone-Service shut down.")

	return nil
}

func connectNATS(cfg *config.Config, rt *runtime, log *logger.Logger) error {
	if !cfg.NATS.Enabled {
		return nil
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("%w: failed to connect to NATS at %s: %w", core.ErrStartup, cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return fmt.Errorf("%w: failed to create JetStream context: %w", core.ErrStartup, err)
	}

	rt.natsConnection = natsConnection
	rt.jetstream = jetstreamContext

	log.Info("Connected to NATS at %s", cfg.NATS.URL)

	return nil
}

func newGenerator(cfg config.GeneratorConfig, log *logger.Logger) (core.Generator, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return tts.NewHTTPGenerator(cfg.ServiceURL, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	case config.BackendExec:
		return tts.NewExecGenerator(cfg.BinaryPath, log), nil
	default:
		return nil, fmt.Errorf("%w: %w: %s", core.ErrStartup, errUnknownBackend, cfg.Backend)
	}
}

func newFetcher(cfg *config.Config, rt *runtime, log *logger.Logger) (*artifact.Fetcher, error) {
	fetcher := artifact.NewFetcher(ttsutils.GetCacheDir(cfg.Paths.CacheDir), log).
		WithSource(artifact.SchemeHuggingFace, artifact.NewHuggingFaceSource(
			"", cfg.Model.HFRevision, os.Getenv(artifact.EnvHFToken), artifactDownloadTimeout))

	if cfg.S3.Endpoint != "" {
		s3Source, err := artifact.NewS3Source(artifact.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			Secure:    cfg.S3.Secure,
		})
		if err != nil {
			return nil, err
		}

		fetcher.WithSource(artifact.SchemeS3, s3Source)
	}

	if rt.jetstream != nil {
		fetcher.WithSource(artifact.SchemeNATS, artifact.NewNATSSource(
			func(bucket string) (artifact.BlobDownloader, error) {
				return objectstore.New(rt.jetstream, bucket)
			}))
	}

	return fetcher, nil
}

func newCache(ctx context.Context, cfg config.CacheConfig, rt *runtime) (refcache.Cache, error) {
	ttl := time.Duration(cfg.TTLHours) * time.Hour

	if cfg.Backend != config.CacheRedis {
		return refcache.NewMemory(ttl), nil
	}

	rt.redisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	cache := refcache.NewRedis(rt.redisClient, ttl)

	err := cache.Ping(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}

	return cache, nil
}

func readinessChecks(generator core.Generator, rt *runtime) map[string]httpapi.Checker {
	checks := map[string]httpapi.Checker{"generator": generator}

	if rt.redisClient != nil {
		checks["redis"] = httpapi.CheckerFunc(func(ctx context.Context) error {
			return rt.redisClient.Ping(ctx).Err()
		})
	}

	if rt.natsConnection != nil {
		checks["nats"] = httpapi.CheckerFunc(func(context.Context) error {
			if !rt.natsConnection.IsConnected() {
				return nats.ErrConnectionClosed
			}

			return nil
		})
	}

	return checks
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

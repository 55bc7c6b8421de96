package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/config"
	"github.com/oralhistory/backend/internal/contacts"
	"github.com/oralhistory/backend/internal/content"
	"github.com/oralhistory/backend/internal/db"
	"github.com/oralhistory/backend/internal/events"
	"github.com/oralhistory/backend/internal/friends"
	"github.com/oralhistory/backend/internal/handlers"
	"github.com/oralhistory/backend/internal/middleware"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/pipeline"
	"github.com/oralhistory/backend/internal/processing"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/storage"
	"github.com/oralhistory/backend/internal/webhooks"
)

const maxPosterBytes = 10 << 20

// application holds the wired services and the background components serve
// has to start and stop.
type application struct {
	Router     handlers.Dependencies
	Pipeline   *pipeline.Service
	Relay      *events.Relay
	Sink       events.Sink
	Broker     notify.Broker
	URLs       *storage.SignedURLCache
	Classifier *processing.NSFWClassifier
}

// closer is implemented by brokers that hold connections.
type closer interface {
	Close() error
}

func closeBroker(b notify.Broker, logger *slog.Logger) {
	c, ok := b.(closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("close notification broker", slog.Any("error", err))
	}
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers and the background workers.
func buildDependencies(ctx context.Context, pool db.Pool, sqlDB *sqlx.DB, cfg config.Config, logger *slog.Logger) (_ *application, err error) {
	users := repositories.NewPostgresUserRepository(pool)

	store, err := storage.NewS3Storage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	urls := storage.NewSignedURLCache(store, cfg.Storage.SignedURLTTL)
	cdn := storage.NewCDNPurger(cfg.Storage.CDNEndpointID, cfg.Storage.CDNAPIToken, cfg.Storage.CDNPurgeTimeout)

	broker, err := newBroker(ctx, cfg.Notify)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			closeBroker(broker, logger)
		}
	}()
	notifications := notify.NewService(repositories.NewPostgresNotificationRepository(pool), users, broker)

	friendService := friends.NewService(
		repositories.NewPostgresFriendRepository(pool),
		repositories.NewPostgresInviteRepository(pool),
		users,
		notifications,
		friends.NewResendMailer(cfg.Mail.ResendAPIKey, cfg.Mail.From),
		cfg.AppURL,
	)

	ffmpeg := processing.NewFFmpeg(cfg.Pipeline.FFmpegPath, cfg.Pipeline.FFprobePath)
	classifier := processing.NewNSFWClassifier(cfg.Pipeline.PythonPath, cfg.Pipeline.NSFWModel)
	whisper := processing.NewWhisper(
		cfg.Pipeline.WhisperPath,
		cfg.Pipeline.WhisperModel,
		cfg.Pipeline.WhisperDevice,
		cfg.Pipeline.WhisperLanguage,
	)
	whisper.DiarizeCommand = cfg.Pipeline.DiarizePath
	whisper.WorkDir = cfg.Pipeline.WorkDir

	pipelineDeps := pipeline.Dependencies{
		Media:       repositories.NewPostgresMediaRepository(pool),
		Transcripts: repositories.NewPostgresTranscriptRepository(pool),
		Jobs:        repositories.NewPostgresJobRepository(pool),
		Friends:     friendService,
		Storage:     store,
		URLs:        urls,
		CDN:         cdn,
		Moderator: &processing.Moderator{
			Frames:     ffmpeg,
			Classifier: classifier,
			Samples:    cfg.Pipeline.ModerationFrames,
			Threshold:  cfg.Pipeline.NSFWThreshold,
			WorkDir:    cfg.Pipeline.WorkDir,
		},
		Audio:       ffmpeg,
		Transcriber: whisper,
		Notifier:    notifications,
	}
	if analyzer := processing.NewCommandAnalyzer(cfg.Pipeline.SpeakerAnalyzerPath); analyzer != nil {
		pipelineDeps.Analyzer = analyzer
	}
	media := pipeline.NewService(pipelineDeps, pipeline.Config{
		MaxUploadBytes:      cfg.Pipeline.MaxUploadBytes,
		BufferedUploadLimit: cfg.Pipeline.BufferedUploadLimit,
		MaxPosterBytes:      maxPosterBytes,
		WorkDir:             cfg.Pipeline.WorkDir,
	})

	pages, err := content.Load()
	if err != nil {
		return nil, fmt.Errorf("load content pages: %w", err)
	}

	sink, err := newSink(cfg.Events, logger)
	if err != nil {
		return nil, err
	}
	relay, err := events.NewRelay(events.RelayConfig{
		Store:     repositories.NewOutboxRepository(sqlDB),
		Sink:      sink,
		Interval:  cfg.Events.RelayInterval,
		BatchSize: cfg.Events.RelayBatch,
		Logger:    logger,
	})
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("create outbox relay: %w", err)
	}

	router := handlers.Dependencies{
		Users:           users,
		Sessions:        auth.NewManager(cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, repositories.NewPostgresSessionStore(pool)),
		BridgeSecret:    cfg.Auth.BridgeSecret,
		Media:           media,
		Friends:         friendService,
		Notifications:   notifications,
		Contacts:        contacts.NewService(repositories.NewPostgresContactRepository(pool)),
		Pages:           pages,
		CORSOrigins:     cfg.CORSOrigins,
		MaxUploadBytes:  cfg.Pipeline.MaxUploadBytes,
		MaxPosterBytes:  maxPosterBytes,
		Heartbeat:       cfg.Notify.HeartbeatInterval,
		Sensitive:       middleware.NewKeyedLimiter(middleware.RatePolicy{Events: 10, Per: time.Minute, Burst: 5, Idle: 10 * time.Minute}),
		SensitiveWindow: time.Minute,
	}
	if pinger, ok := pool.(handlers.Pinger); ok {
		router.DB = pinger
	}
	if cfg.Auth.WebhookSecret != "" {
		verifier, err := webhooks.NewVerifier(cfg.Auth.WebhookSecret)
		if err != nil {
			_ = sink.Close()
			return nil, fmt.Errorf("configure webhook verifier: %w", err)
		}
		router.Webhooks = webhooks.NewProcessor(verifier, users)
	} else {
		logger.Warn("webhook secret not configured; identity webhooks are disabled")
	}

	return &application{
		Router:     router,
		Pipeline:   media,
		Relay:      relay,
		Sink:       sink,
		Broker:     broker,
		URLs:       urls,
		Classifier: classifier,
	}, nil
}

func newBroker(ctx context.Context, cfg config.NotifyConfig) (notify.Broker, error) {
	if cfg.RedisURL == "" {
		return notify.NewLocalBroker(cfg.SubscriberBuffer), nil
	}
	client, err := notify.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	broker, err := notify.NewRedisBroker(ctx, client, cfg.SubscriberBuffer)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return broker, nil
}

func newSink(cfg config.EventsConfig, logger *slog.Logger) (events.Sink, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.LogSink{Logger: logger}, nil
	}
	sink, err := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("create kafka sink: %w", err)
	}
	return sink, nil
}

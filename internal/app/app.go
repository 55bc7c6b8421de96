package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/oralhistory/backend/internal/config"
	"github.com/oralhistory/backend/internal/db"
	"github.com/oralhistory/backend/internal/handlers"
	"github.com/oralhistory/backend/internal/httpserver"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/middleware"
	"github.com/oralhistory/backend/internal/pipeline"
	"github.com/oralhistory/backend/internal/storage"
)

type command func(ctx context.Context, args []string) error

var commands = map[string]command{
	"serve":   func(ctx context.Context, _ []string) error { return serve(ctx) },
	"migrate": runMigrations,
	"seed":    runSeed,
}

// Run executes one of serve, migrate or seed.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, or seed")
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd(ctx, args[1:])
}

// setup loads configuration and installs the process logger.
func setup(ctx context.Context) (config.Config, *slog.Logger, context.Context, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, ctx, err
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, logging.WithLogger(ctx, logger), nil
}

func serve(ctx context.Context) error {
	cfg, logger, ctx, err := setup(ctx)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	sqlDB := sqlx.NewDb(db.OpenSQL(pool), "pgx")
	defer sqlDB.Close()

	svc, err := buildDependencies(ctx, pool, sqlDB, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroker(svc.Broker, logger)

	handler := middleware.RequestLogger(logger)(handlers.NewRouter(svc.Router))
	srv := httpserver.New(cfg.AppPort, handler, httpserver.Options{
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		Base:              context.WithoutCancel(ctx),
	})

	svc.Pipeline.Start(pipeline.WorkerConfig{
		QueueSize:            cfg.Pipeline.QueueSize,
		ModerationWorkers:    cfg.Pipeline.ModerationWorkers,
		TranscriptionWorkers: cfg.Pipeline.TranscriptionWorkers,
		ModerationTimeout:    cfg.Pipeline.ModerationTimeout,
		TranscriptionTimeout: cfg.Pipeline.TranscriptionTimeout,
	}, logger)
	if err := svc.Pipeline.Resume(ctx); err != nil {
		logger.Error("resume pipeline jobs", slog.Any("error", err))
	}

	background, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := svc.Relay.Run(background); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox relay stopped", slog.Any("error", err))
		}
	}()
	go sweepSignedURLs(background, svc.URLs, cfg.Storage.SignedURLTTL)
	if cfg.Pipeline.ModerationWarmup {
		go func() {
			if err := svc.Classifier.Warmup(background); err != nil {
				logger.Warn("moderation model warmup failed", slog.Any("error", err))
			}
		}()
	}

	logger.Info("starting http server", slog.Int("port", cfg.AppPort))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
	case runErr = <-srvErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.Grace())
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := svc.Pipeline.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	stopBackground()
	select {
	case <-relayDone:
	case <-shutdownCtx.Done():
		logger.Warn("outbox relay did not stop before shutdown deadline")
	}
	if err := svc.Sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event sink: %w", err))
	}

	return errors.Join(errs...)
}

// sweepSignedURLs evicts expired signed URLs until ctx is done.
func sweepSignedURLs(ctx context.Context, urls *storage.SignedURLCache, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			urls.Sweep()
		}
	}
}

const (
	migrationAttempts    = 3
	migrationBaseBackoff = 100 * time.Millisecond
	migrationMaxBackoff  = 3 * time.Second
)

func runMigrations(ctx context.Context, args []string) error {
	cfg, _, ctx, err := setup(ctx)
	if err != nil {
		return err
	}
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	return migrateWithRetry(ctx, direction, func(ctx context.Context) error {
		return db.Migrate(ctx, pool, direction)
	})
}

// migrationBackoff doubles from migrationBaseBackoff for each retry.
func migrationBackoff(retry int) time.Duration {
	return min(migrationBaseBackoff<<(retry-1), migrationMaxBackoff)
}

// migrateWithRetry runs apply up to migrationAttempts times while it fails
// with contention errors.
func migrateWithRetry(ctx context.Context, direction string, apply func(context.Context) error) error {
	logger := logging.FromContext(ctx)
	for attempt := 1; ; attempt++ {
		err := apply(ctx)
		if err == nil {
			return nil
		}
		if attempt >= migrationAttempts || !shouldRetryMigration(err) {
			return fmt.Errorf("migrate %s: %w", direction, err)
		}

		wait := migrationBackoff(attempt)
		logger.Warn("transient migration error",
			slog.String("direction", direction),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
			slog.Any("error", err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func runSeed(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected seed name (e.g. dev)")
	}
	cfg, logger, ctx, err := setup(ctx)
	if err != nil {
		return err
	}

	file := args[0]
	if !strings.HasSuffix(file, ".sql") {
		file += "_seed.sql"
	}
	contents, err := db.Seed(file)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := applySeed(ctx, pool, contents); err != nil {
		return fmt.Errorf("apply seed %s: %w", file, err)
	}
	logger.Info("applied seed", slog.String("seed", file))
	return nil
}

// applySeed runs the seed script on one connection so multi-statement
// files execute in order.
func applySeed(ctx context.Context, pool *pgxpool.Pool, contents string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	_, err = conn.Exec(ctx, contents)
	return err
}

// shouldRetryMigration reports contention and timeout errors worth another
// attempt: serialization failures, deadlocks, lock timeouts and closed
// transactions.
func shouldRetryMigration(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, pgx.ErrTxClosed) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

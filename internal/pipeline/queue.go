package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oralhistory/backend/internal/logging"
)

// JobHandler processes one queued media asset.
type JobHandler func(ctx context.Context, mediaID string) error

// AbortHandler records a job that ended in a panic.
type AbortHandler func(ctx context.Context, mediaID string, cause error)

// QueueConfig controls the concurrency characteristics of a stage queue.
type QueueConfig struct {
	Name      string
	QueueSize int
	Workers   int
	Timeout   time.Duration
	// OnPanic settles the asset when the handler panics.
	OnPanic   AbortHandler
}

// Enqueuer schedules background work for a media asset.
type Enqueuer interface {
	Enqueue(ctx context.Context, mediaID string) error
}

// Queue is a bounded worker pool for one pipeline stage.
type Queue struct {
	name    string
	timeout time.Duration
	handler JobHandler
	onPanic AbortHandler
	logger  *slog.Logger

	jobs   chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// ErrQueueClosed is returned when enqueueing after Shutdown.
var ErrQueueClosed = errors.New("pipeline queue closed")

// NewQueue starts cfg.Workers goroutines consuming jobs with handler.
func NewQueue(cfg QueueConfig, handler JobHandler, logger *slog.Logger) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		name:    cfg.Name,
		timeout: cfg.Timeout,
		handler: handler,
		onPanic: cfg.OnPanic,
		logger:  logger.With(slog.String("queue", cfg.Name)),
		jobs:    make(chan string, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.worker()
	}

	return q
}

// Enqueue schedules mediaID, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, mediaID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrQueueClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrQueueClosed
	case q.jobs <- mediaID:
		return nil
	}
}

// Shutdown stops accepting jobs and waits for running jobs to finish.
// Jobs still buffered are left for the startup resume pass.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.once.Do(func() {
		q.cancel()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case mediaID := <-q.jobs:
			q.handleJob(mediaID)
		}
	}
}

func (q *Queue) handleJob(mediaID string) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	ctx = logging.WithLogger(ctx, q.logger)
	ctx, span := logging.StartSpan(ctx, q.name, slog.String("media_id", mediaID))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s job panicked: %v", q.name, r)
			span.Fail(err)
			q.abort(ctx, mediaID, err)
		}
	}()

	if err := q.handler(ctx, mediaID); err != nil {
		span.Fail(err)
		return
	}
	span.End()
}

func (q *Queue) abort(ctx context.Context, mediaID string, cause error) {
	if q.onPanic == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error("settle panicked job", slog.Any("panic", r))
		}
	}()
	q.onPanic(ctx, mediaID, cause)
}

package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span times one unit of work, such as a moderation or transcription job,
// and logs its outcome with the job's correlation ids.
type Span struct {
	logger *slog.Logger
	start  time.Time
}

// StartSpan opens a span named name below whatever span ctx carries. A
// context without a trace starts a new one, which is how each background
// job gets its own trace id.
func StartSpan(ctx context.Context, name string, attrs ...slog.Attr) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	tags := TagsFromContext(ctx)
	logger := FromContext(ctx)

	args := make([]any, 0, len(attrs)+4)
	if tags.TraceID == "" {
		tags.TraceID = uuid.NewString()
		ctx = WithTraceID(ctx, tags.TraceID)
		args = append(args, slog.String("trace_id", tags.TraceID))
	}
	spanID := uuid.NewString()
	args = append(args, slog.String("span_id", spanID), slog.String("span_name", name))
	if tags.SpanID != "" {
		args = append(args, slog.String("parent_span_id", tags.SpanID))
	}
	for _, attr := range attrs {
		args = append(args, attr)
	}

	logger = logger.With(args...)
	ctx = WithSpanID(WithLogger(ctx, logger), spanID)
	return ctx, &Span{logger: logger, start: time.Now()}
}

// End logs a successful completion.
func (s *Span) End() {
	s.finish(slog.LevelInfo, "span completed")
}

// Fail logs the span at error level with err.
func (s *Span) Fail(err error) {
	s.finish(slog.LevelError, "span failed", slog.Any("error", err))
}

func (s *Span) finish(level slog.Level, msg string, extra ...any) {
	if s == nil {
		return
	}
	args := append([]any{slog.Duration("duration", time.Since(s.start))}, extra...)
	s.logger.Log(context.Background(), level, msg, args...)
}

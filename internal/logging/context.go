package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	tagsKey
)

// Tags are the correlation identifiers that travel with a request or a
// pipeline job next to its logger.
type Tags struct {
	RequestID string
	TraceID   string
	SpanID    string
	UserID    string
}

// TagsFromContext returns the identifiers recorded on ctx.
func TagsFromContext(ctx context.Context) Tags {
	if ctx == nil {
		return Tags{}
	}
	tags, _ := ctx.Value(tagsKey).(Tags)
	return tags
}

func withTag(ctx context.Context, value string, set func(*Tags)) context.Context {
	if ctx == nil || value == "" {
		return ctx
	}
	tags := TagsFromContext(ctx)
	set(&tags)
	return context.WithValue(ctx, tagsKey, tags)
}

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger attached to ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return withTag(ctx, id, func(t *Tags) { t.RequestID = id })
}

func RequestIDFromContext(ctx context.Context) string { return TagsFromContext(ctx).RequestID }

func WithTraceID(ctx context.Context, id string) context.Context {
	return withTag(ctx, id, func(t *Tags) { t.TraceID = id })
}

func TraceIDFromContext(ctx context.Context) string { return TagsFromContext(ctx).TraceID }

func WithSpanID(ctx context.Context, id string) context.Context {
	return withTag(ctx, id, func(t *Tags) { t.SpanID = id })
}

func SpanIDFromContext(ctx context.Context) string { return TagsFromContext(ctx).SpanID }

// WithUserID records the authenticated user and adds user_id to the logger.
// Services still take the caller as an explicit argument.
func WithUserID(ctx context.Context, id string) context.Context {
	if ctx == nil || id == "" {
		return ctx
	}
	ctx = withTag(ctx, id, func(t *Tags) { t.UserID = id })
	return WithLogger(ctx, FromContext(ctx).With(slog.String("user_id", id)))
}

func UserIDFromContext(ctx context.Context) string { return TagsFromContext(ctx).UserID }

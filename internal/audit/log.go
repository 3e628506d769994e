package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"hospital.org/internal/auth"
)

type ctxKey struct{}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger writes security-relevant events as structured "audit" records.
type Logger struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Str("type", "audit").Logger()}
}

// Event writes an audit entry enriched with the request id and the
// authenticated account, when present.
func (l *Logger) Event(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if l == nil {
		return nil
	}
	entry := l.log.Info().Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = entry.Str("request_id", rid)
	}
	if sc, ok := auth.SecurityFromContext(ctx); ok && sc.Authenticated() {
		entry = entry.Int64("user_id", sc.AccountID()).Strs("authorities", sc.Authorities.List())
	}
	if fields == nil {
		fields = map[string]any{}
	}
	entry.Interface("fields", fields).Send()
	return nil
}

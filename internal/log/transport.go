package log

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
	// RequestIDKey is the context key for the outbound request ID
	RequestIDKey ContextKey = "request_id"
)

// RequestIDHeader carries the request ID to the server for correlation.
const RequestIDHeader = "X-Request-ID"

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// Transport is an http.RoundTripper that tags every outbound request with a
// request ID and logs its start and completion.
type Transport struct {
	Base   http.RoundTripper
	Logger *Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: logger.WithComponent(ComponentGateway)}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	requestID := RequestID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
	r = r.Clone(ctx)
	r.Header.Set(RequestIDHeader, requestID)

	fields := NewFields().
		WithRequestID(requestID).
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery)
	t.Logger.DebugContext(ctx, "HTTP request started", fields.ToSlice()...)

	resp, err := t.Base.RoundTrip(r)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		t.Logger.WarnContext(ctx, "HTTP request failed", fields.WithError(err).ToSlice()...)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 500 {
		level = slog.LevelError
	} else if resp.StatusCode >= 400 {
		level = slog.LevelInfo
	}
	fields = fields.WithHTTPResponse(resp.StatusCode, durationMs, resp.StatusCode < 400)
	t.Logger.Logger.Log(ctx, level, "HTTP request completed",
		append([]any{FieldComponent, t.Logger.component}, fields.ToSlice()...)...)
	return resp, nil
}

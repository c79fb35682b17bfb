package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/portdesk/internal/config"
	"github.com/pitabwire/portdesk/model"
)

type loggerKey struct{}

// NewLogger builds the process logger from cfg.
//
// Levels are used as follows:
//   - error: draft store or backend outages, panics
//   - warn:  5xx responses, breaker transitions, unreadable drafts
//   - info:  request completion, workspace lifecycle, submits
//   - debug: draft traffic, refreshes, redacted backend payloads
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	switch strings.ToLower(cfg.LogFormat) {
	case "", "json":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
		zc.Sampling = nil
	case "console":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("observability: unknown log format %q", cfg.LogFormat)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stdout"}

	return zc.Build(zap.Fields(
		zap.String("service", "portdesk"),
		zap.String("version", Version),
	))
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger tagged with the request's
// subject, correlation id, trace id and, once resolved, its workspace.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := make([]zap.Field, 0, 4)
	fields = append(fields, zap.String("correlation_id", rctx.CorrelationID))
	for _, f := range []struct{ key, val string }{
		{"subject_id", rctx.SubjectID},
		{"workspace_id", rctx.WorkspaceID},
		{"trace_id", rctx.TraceID},
	} {
		if f.val != "" {
			fields = append(fields, zap.String(f.key, f.val))
		}
	}
	return logger.With(fields...)
}

const redacted = "[REDACTED]"

// sensitiveKeys are field names never written to logs. Vendor and invoice
// documents carry contact details alongside the usual credentials.
var sensitiveKeys = []string{
	"password", "secret", "token", "access_token", "refresh_token",
	"authorization", "api_key",
	"email", "emails", "phone", "contact_numbers",
	"bank_account", "iban", "tin",
}

// RedactDocument returns a deep copy of doc with every value stored under a
// sensitive key replaced. Keys match case-insensitively; extra extends the
// built-in list. Nested groups and table rows are walked.
func RedactDocument(doc any, extra ...string) any {
	keys := make(map[string]struct{}, len(sensitiveKeys)+len(extra))
	for _, k := range sensitiveKeys {
		keys[k] = struct{}{}
	}
	for _, k := range extra {
		keys[strings.ToLower(k)] = struct{}{}
	}
	return redactValue(doc, keys)
}

func redactValue(v any, keys map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, hit := keys[strings.ToLower(k)]; hit {
				out[k] = redacted
				continue
			}
			out[k] = redactValue(val, keys)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val, keys)
		}
		return out
	default:
		return v
	}
}

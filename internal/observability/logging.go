// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// SetGlobalLogger replaces the logger used by the view and upstream loggers.
func SetGlobalLogger(l *slog.Logger) {
	GlobalLogger = &Logger{Logger: l}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
)

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableViewLogging     bool
	EnableUpstreamLogging bool
}

var (
	// Config holds the current logging configuration.
	Config = LoggingConfig{
		EnableViewLogging:     true,
		EnableUpstreamLogging: true,
	}
)

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// ViewLogger provides structured logging for post view lifecycle and actions.
type ViewLogger struct {
	logger *Logger
}

// NewViewLogger creates a ViewLogger on the global logger.
func NewViewLogger() *ViewLogger {
	return &ViewLogger{logger: GlobalLogger}
}

func (l *ViewLogger) enabled() bool {
	return Config.EnableViewLogging && l.logger != nil
}

// LogOpen logs a post view being opened.
func (l *ViewLogger) LogOpen(ctx context.Context, viewID, postID, userID string, comments int) {
	if !l.enabled() {
		return
	}
	l.logger.InfoContext(ctx, "post view opened",
		slog.String("view_id", viewID),
		slog.String("post_id", postID),
		slog.String("user_id", userID),
		slog.Int("top_level_comments", comments),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogClose logs a post view being discarded.
func (l *ViewLogger) LogClose(ctx context.Context, viewID, reason string) {
	if !l.enabled() {
		return
	}
	l.logger.InfoContext(ctx, "post view closed",
		slog.String("view_id", viewID),
		slog.String("reason", reason),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogAction logs a completed view action such as a toggle or a mutation.
func (l *ViewLogger) LogAction(ctx context.Context, viewID, action string, fields map[string]interface{}) {
	if !l.enabled() {
		return
	}
	attrs := []any{
		slog.String("view_id", viewID),
		slog.String("action", action),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "post view action", attrs...)
}

// LogError logs a failed view action. Index chain defects are logged at error
// level, forum failures as warnings.
func (l *ViewLogger) LogError(ctx context.Context, viewID, action string, err error, defect bool) {
	if !l.enabled() {
		return
	}
	attrs := []any{
		slog.String("view_id", viewID),
		slog.String("action", action),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	if defect {
		l.logger.ErrorContext(ctx, "post view defect", attrs...)
		return
	}
	l.logger.WarnContext(ctx, "post view action failed", attrs...)
}

// LogUpstreamCall logs a finished call to the forum server.
func LogUpstreamCall(ctx context.Context, operation string, status int, err error, fields map[string]interface{}) {
	if !Config.EnableUpstreamLogging {
		return
	}
	attrs := []any{
		slog.String("operation", operation),
		slog.Int("status", status),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		GlobalLogger.WarnContext(ctx, "forum call failed", attrs...)
		return
	}
	GlobalLogger.DebugContext(ctx, "forum call", attrs...)
}

// LogAsyncOperationStart logs the start of an asynchronous operation.
func LogAsyncOperationStart(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_start"),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "async operation started", attrs...)
}

// LogAsyncOperationEnd logs the completion of an asynchronous operation.
func LogAsyncOperationEnd(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_end"),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "async operation completed", attrs...)
}

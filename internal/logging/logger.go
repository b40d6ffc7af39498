package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents the logging level
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
	FatalLevel LogLevel = "fatal"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userKey
)

// Logger holds the zerolog logger instance and an optional pipeline journal
type Logger struct {
	logger  zerolog.Logger
	journal *Journal
}

// LogContext holds contextual information for logging
type LogContext struct {
	RequestID string `json:"req_id,omitempty"`
	User      string `json:"user,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	SpanID    string `json:"span_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	Route     string `json:"route,omitempty"`
	Queue     string `json:"queue,omitempty"`
	JobType   string `json:"job_type,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	UploadID  int64  `json:"upload_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
	RowNumber int    `json:"row_number,omitempty"`
	Module    string `json:"module,omitempty"`
}

// NewLogger creates a new logger instance with the specified log level
func NewLogger(logLevel LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	level, err := zerolog.ParseLevel(string(logLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: logger}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// AttachJournal makes stage events persist to the pipeline journal
func (l *Logger) AttachJournal(j *Journal) {
	l.journal = j
}

// Journal returns the attached journal, if any
func (l *Logger) Journal() *Journal {
	return l.journal
}

// Zerolog exposes the underlying zerolog logger
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.logger
}

// WithRequestID stores the request ID in ctx for later log enrichment
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithUser stores the acting username in ctx
func WithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userKey, username)
}

// GetRequestID extracts the request ID from ctx
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// GetUser extracts the acting username from ctx
func GetUser(ctx context.Context) string {
	u, _ := ctx.Value(userKey).(string)
	return u
}

// WithContext adds request, trace and user fields found in ctx
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logCtx := l.logger.With()

	if reqID := GetRequestID(ctx); reqID != "" {
		logCtx = logCtx.Str("req_id", reqID)
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		logCtx = logCtx.Str("trace_id", spanCtx.TraceID().String())
		logCtx = logCtx.Str("span_id", spanCtx.SpanID().String())
	}
	if user := GetUser(ctx); user != "" {
		logCtx = logCtx.Str("user", user)
	}

	contextualLogger := logCtx.Logger()
	return &contextualLogger
}

// WithField adds a single field to the logger
func (l *Logger) WithField(key string, value interface{}) *zerolog.Logger {
	logger := l.logger.With().Interface(key, value).Logger()
	return &logger
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]interface{}) *zerolog.Logger {
	logCtx := l.logger.With()
	for key, value := range fields {
		logCtx = logCtx.Interface(key, value)
	}
	logger := logCtx.Logger()
	return &logger
}

// WithUpload returns a logger tagged with the upload id and pipeline stage
func (l *Logger) WithUpload(uploadID int64, stage string) *zerolog.Logger {
	logger := l.logger.With().Int64("upload_id", uploadID).Str("stage", stage).Logger()
	return &logger
}

// WithContextFields adds context-specific fields to the logger
func (l *Logger) WithContextFields(ctx LogContext) *zerolog.Logger {
	logCtx := l.logger.With()

	if ctx.RequestID != "" {
		logCtx = logCtx.Str("req_id", ctx.RequestID)
	}
	if ctx.User != "" {
		logCtx = logCtx.Str("user", ctx.User)
	}
	if ctx.TraceID != "" {
		logCtx = logCtx.Str("trace_id", ctx.TraceID)
	}
	if ctx.SpanID != "" {
		logCtx = logCtx.Str("span_id", ctx.SpanID)
	}
	if ctx.IP != "" {
		logCtx = logCtx.Str("ip", ctx.IP)
	}
	if ctx.Route != "" {
		logCtx = logCtx.Str("route", ctx.Route)
	}
	if ctx.Queue != "" {
		logCtx = logCtx.Str("queue", ctx.Queue)
	}
	if ctx.JobType != "" {
		logCtx = logCtx.Str("job_type", ctx.JobType)
	}
	if ctx.Attempt != 0 {
		logCtx = logCtx.Int("attempt", ctx.Attempt)
	}
	if ctx.UploadID != 0 {
		logCtx = logCtx.Int64("upload_id", ctx.UploadID)
	}
	if ctx.Stage != "" {
		logCtx = logCtx.Str("stage", ctx.Stage)
	}
	if ctx.RowNumber != 0 {
		logCtx = logCtx.Int("row_number", ctx.RowNumber)
	}
	if ctx.Module != "" {
		logCtx = logCtx.Str("module", ctx.Module)
	}

	logger := logCtx.Logger()
	return &logger
}

// StageEvent describes something that happened to an upload at a pipeline stage
type StageEvent struct {
	UploadID  int64
	Stage     string
	RowNumber int
	Kind      string
	Message   string
	Err       error
}

// LogStageEvent logs the event with its structured context and, when a journal
// is attached, persists it so operators can inspect it per upload.
func (l *Logger) LogStageEvent(ctx context.Context, level zerolog.Level, ev StageEvent) {
	logger := l.WithContext(ctx)
	event := logger.WithLevel(level).
		Int64("upload_id", ev.UploadID).
		Str("stage", ev.Stage)
	if ev.RowNumber != 0 {
		event = event.Int("row_number", ev.RowNumber)
	}
	if ev.Kind != "" {
		event = event.Str("kind", ev.Kind)
	}
	if ev.Err != nil {
		event = event.Err(ev.Err)
	}
	event.Msg(ev.Message)

	if l.journal == nil || ev.UploadID == 0 {
		return
	}

	entry := &PipelineEvent{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		UploadID:  ev.UploadID,
		Stage:     ev.Stage,
		RowNumber: ev.RowNumber,
		Kind:      ev.Kind,
		Message:   ev.Message,
		RequestID: GetRequestID(ctx),
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.journal.Record(storeCtx, entry); err != nil {
		l.logger.Warn().Err(err).Int64("upload_id", ev.UploadID).Msg("Failed to persist pipeline event")
	}
}

// LogHTTPRequest logs HTTP request information
func (l *Logger) LogHTTPRequest(c *fiber.Ctx, duration time.Duration) {
	username, _ := c.Locals("username").(string)
	requestID, _ := c.Locals("request_id").(string)

	logCtx := l.logger.With().
		Str("req_id", requestID).
		Str("user", username).
		Str("ip", c.IP()).
		Str("method", c.Method()).
		Str("url", c.OriginalURL()).
		Int("status", c.Response().StatusCode()).
		Int64("duration_ms", duration.Milliseconds()).
		Logger()

	logCtx.Info().Msg("HTTP request processed")
}

// LogJobProcessing logs job processing information
func (l *Logger) LogJobProcessing(queue, jobType string, attempt int, duration time.Duration, success bool, errorMsg string) {
	event := l.logger.With().
		Str("queue", queue).
		Str("job_type", jobType).
		Int("attempt", attempt).
		Int64("duration_ms", duration.Milliseconds()).
		Bool("success", success).
		Logger()

	if success {
		event.Info().Msg("Job processed successfully")
	} else {
		event.Error().Str("error", errorMsg).Msg("Job processing failed")
	}
}

// FiberLoggerMiddleware creates a Fiber-compatible logging middleware
func (l *Logger) FiberLoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		l.LogHTTPRequest(c, time.Since(start))
		return err
	}
}

// SetLogLevel dynamically changes the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) error {
	level, err := zerolog.ParseLevel(string(logLevel))
	if err != nil {
		return fmt.Errorf("invalid log level: %s", logLevel)
	}

	l.logger = l.logger.Level(level)
	return nil
}

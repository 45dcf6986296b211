package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/basegraph-labs/trdforge/core/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

// SetupLogger installs the process-wide slog default handler. Production
// with telemetry enabled bridges to OTLP; production otherwise emits JSON;
// development writes human-readable text to stdout and a rolling file.
func SetupLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch {
	case cfg.IsProduction() && cfg.Telemetry.Enabled:
		handler = otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(global.GetLoggerProvider()))
	case cfg.IsProduction():
		handler = NewTraceHandler(slog.NewJSONHandler(os.Stdout, opts))
	default:
		handler = NewTraceHandler(slog.NewTextHandler(devWriter(), opts))
	}

	slog.SetDefault(slog.New(handler))
}

func devWriter() io.Writer {
	dir := "logs"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: failed to create logs directory: %v\n", err)
		return os.Stdout
	}
	name := filepath.Join(dir, fmt.Sprintf("trdforge-%s.log", time.Now().Format("2006-01-02")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: failed to open log file: %v\n", err)
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, f)
}

// Fields carries the session-scoped attributes that TraceHandler attaches
// to every log record within a context, mirroring the teacher's
// context-enrichment pattern but scoped to workflow concepts rather than
// issue-tracker concepts.
type Fields struct {
	SessionID   string
	Node        string
	Phase       string
	GapCategory string
}

type contextKey string

const fieldsKey contextKey = "trdforge_log_fields"

// WithFields enriches ctx with structured log fields, merging with any
// fields already present and preferring new non-empty values.
func WithFields(ctx context.Context, f Fields) context.Context {
	existing := FieldsFromContext(ctx)
	if f.SessionID != "" {
		existing.SessionID = f.SessionID
	}
	if f.Node != "" {
		existing.Node = f.Node
	}
	if f.Phase != "" {
		existing.Phase = f.Phase
	}
	if f.GapCategory != "" {
		existing.GapCategory = f.GapCategory
	}
	return context.WithValue(ctx, fieldsKey, existing)
}

// FieldsFromContext retrieves structured log fields, returning the zero
// value if none are set.
func FieldsFromContext(ctx context.Context) Fields {
	if f, ok := ctx.Value(fieldsKey).(Fields); ok {
		return f
	}
	return Fields{}
}

// TraceHandler wraps any slog.Handler, injecting the active span's
// trace/span id and the context's structured Fields into every record.
type TraceHandler struct {
	slog.Handler
}

// NewTraceHandler wraps h.
func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	f := FieldsFromContext(ctx)
	if f.SessionID != "" {
		r.AddAttrs(slog.String("session_id", f.SessionID))
	}
	if f.Node != "" {
		r.AddAttrs(slog.String("node", f.Node))
	}
	if f.Phase != "" {
		r.AddAttrs(slog.String("phase", f.Phase))
	}
	if f.GapCategory != "" {
		r.AddAttrs(slog.String("gap_category", f.GapCategory))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

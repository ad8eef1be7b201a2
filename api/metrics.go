package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "todo-sync/api"
	reorderSpanName    = "tasks.reorder"
	reorderEventName   = "tasks.reorder"
	reorderEventDomain = "todo-sync"

	severityNumberInfo  = 9
	severityNumberError = 17
)

// reorderMetrics collects timings for one reorder request and emits a single
// observability event (log record + span) when the request finishes.
type reorderMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	authDuration  time.Duration
	applyDuration time.Duration
	itemCount     int
	errorStage    string
}

func newReorderMetrics(ctx context.Context, logger *log.Logger) (*reorderMetrics, context.Context) {
	m := &reorderMetrics{logger: logger, start: time.Now()}
	if ctx == nil {
		return m, nil
	}
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, reorderSpanName, trace.WithSpanKind(trace.SpanKindServer))
	m.span = span
	return m, spanCtx
}

func (m *reorderMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *reorderMetrics) ObserveApply(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.applyDuration = duration
}

func (m *reorderMetrics) SetItemCount(count int) {
	if count < 0 {
		count = 0
	}
	m.itemCount = count
}

func (m *reorderMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finalizes the span and emits the structured log record. Safe to call
// with a nil logger or without a started span.
func (m *reorderMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))

	attrs := map[string]any{
		"http.route":              "/api/tasks/order",
		"http.status_code":        status,
		"todo.reorder.total_ms":   totalMs,
		"todo.reorder.item_count": m.itemCount,
	}
	if m.authDuration > 0 {
		attrs["todo.reorder.auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.applyDuration > 0 {
		attrs["todo.reorder.apply_ms"] = durationToMillis(m.applyDuration)
	}
	if m.errorStage != "" {
		attrs["todo.reorder.error_stage"] = m.errorStage
	}

	severityText := "INFO"
	severityNumber := severityNumberInfo
	if err != nil || m.errorStage != "" {
		severityText = "ERROR"
		severityNumber = severityNumberError
	}

	if m.span != nil {
		spanAttrs := []attribute.KeyValue{
			attribute.String("http.route", "/api/tasks/order"),
			attribute.Int64("http.status_code", int64(status)),
			attribute.Float64("todo.reorder.total_ms", totalMs),
			attribute.Int("todo.reorder.item_count", m.itemCount),
		}
		if m.errorStage != "" {
			spanAttrs = append(spanAttrs, attribute.String("todo.reorder.error_stage", m.errorStage))
		}
		m.span.SetAttributes(spanAttrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(
			attribute.String("event.name", reorderEventName),
			attribute.String("event.domain", reorderEventDomain),
		))
		if err != nil || m.errorStage != "" {
			m.span.SetStatus(codes.Error, m.errorStage)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	fields := log.Fields{
		"event.name":      reorderEventName,
		"event.domain":    reorderEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("observability.event")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

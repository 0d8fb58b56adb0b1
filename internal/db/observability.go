package db

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/arllen133/userd/internal/db"

// DefaultSlowThreshold is the statement duration, and guard wait, above
// which a warning is logged.
const DefaultSlowThreshold = 200 * time.Millisecond

// observer reports every statement the session runs. All of its fields
// are usable from construction: unset sinks are no-ops.
type observer struct {
	logger     *slog.Logger
	tracer     trace.Tracer
	slow       time.Duration
	logQueries bool

	statements metric.Int64Counter
	durations  metric.Float64Histogram
	failures   metric.Int64Counter
	waits      metric.Float64Histogram
}

func newObserver() *observer {
	o := &observer{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // slog.DiscardHandler requires Go 1.24
		tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName),
		slow:   DefaultSlowThreshold,
	}
	o.useMeter(metricnoop.NewMeterProvider().Meter(instrumentationName))
	return o
}

// Option configures the observability of a Session.
type Option func(*observer)

// WithLogger sets the logger for statement and contention logs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *observer) { o.logger = logger }
}

// WithTracer sets the tracer that receives one client span per statement.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *observer) { o.tracer = tracer }
}

// WithDefaultTracer uses the global tracer provider.
func WithDefaultTracer() Option {
	return WithTracer(otel.Tracer(instrumentationName))
}

// WithMeter creates the statement and guard instruments on meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *observer) { o.useMeter(meter) }
}

// WithDefaultMeter uses the global meter provider.
func WithDefaultMeter() Option {
	return WithMeter(otel.Meter(instrumentationName))
}

// WithSlowQueryThreshold sets the duration above which statements, and
// waits on the Guard, are logged as warnings.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(o *observer) { o.slow = d }
}

// WithQueryLogging logs every statement, with its SQL, at debug level.
func WithQueryLogging(enabled bool) Option {
	return func(o *observer) { o.logQueries = enabled }
}

func (o *observer) useMeter(meter metric.Meter) {
	var errs [4]error
	o.statements, errs[0] = meter.Int64Counter("userd.db.statement.count",
		metric.WithDescription("SQL statements executed against the session"),
		metric.WithUnit("{statement}"),
	)
	o.durations, errs[1] = meter.Float64Histogram("userd.db.statement.duration",
		metric.WithDescription("Statement execution time"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	o.failures, errs[2] = meter.Int64Counter("userd.db.statement.errors",
		metric.WithDescription("Statements the backend rejected"),
		metric.WithUnit("{statement}"),
	)
	o.waits, errs[3] = meter.Float64Histogram("userd.db.guard.wait",
		metric.WithDescription("Time spent queued for exclusive use of the session"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err := errors.Join(errs[:]...); err != nil {
		otel.Handle(err)
	}
}

// statement runs fn inside a client span and reports its outcome. An
// empty result set is not a failure.
func (o *observer) statement(ctx context.Context, system, operation, query string, fn func(context.Context) error) error {
	kv := []attribute.KeyValue{
		attribute.String("db.system", system),
		attribute.String("db.operation", operation),
	}
	ctx, span := o.tracer.Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(kv...),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	failed := err != nil && !errors.Is(err, sql.ErrNoRows)
	if failed {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(kv...)
	o.statements.Add(ctx, 1, attrs)
	o.durations.Record(ctx, millis(elapsed), attrs)
	if failed {
		o.failures.Add(ctx, 1, attrs)
	}

	logAttrs := []slog.Attr{
		slog.String("operation", operation),
		slog.Duration("duration", elapsed),
	}
	if o.logQueries && query != "" {
		logAttrs = append(logAttrs, slog.String("query", query))
	}
	switch {
	case failed:
		o.logger.LogAttrs(ctx, slog.LevelError, "statement failed", append(logAttrs, slog.Any("error", err))...)
	case elapsed > o.slow:
		o.logger.LogAttrs(ctx, slog.LevelWarn, "slow statement", logAttrs...)
	case o.logQueries:
		o.logger.LogAttrs(ctx, slog.LevelDebug, "statement executed", logAttrs...)
	}
	return err
}

// waited reports time spent queued on the Guard. Long waits are the
// visible symptom of a stalled holder.
func (o *observer) waited(ctx context.Context, system string, wait time.Duration) {
	o.waits.Record(ctx, millis(wait), metric.WithAttributes(attribute.String("db.system", system)))
	if wait > o.slow {
		o.logger.LogAttrs(ctx, slog.LevelWarn, "session contention", slog.Duration("wait", wait))
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/maloquacious/userbook/internal/logger"
	"github.com/maloquacious/userbook/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/maloquacious/userbook/internal/store/sqlite"

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithDriver selects the database/sql driver: "sqlite" (modernc, default)
// or "sqlite3" (mattn, needs cgo).
func WithDriver(name string) Option {
	return func(s *SQLiteStore) {
		if name != "" {
			s.driver = name
		}
	}
}

// WithLogger sets the logger used for operation and migration records.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.obs.log = l
		}
	}
}

// WithTracer sets the OpenTelemetry tracer for store operations.
func WithTracer(t trace.Tracer) Option {
	return func(s *SQLiteStore) {
		if t != nil {
			s.obs.tracer = t
		}
	}
}

// WithMeter sets the OpenTelemetry meter for store operation metrics.
func WithMeter(m metric.Meter) Option {
	return func(s *SQLiteStore) {
		if m != nil {
			s.obs.metrics = initMetrics(m)
		}
	}
}

// WithDefaultTelemetry uses the global OpenTelemetry providers.
func WithDefaultTelemetry() Option {
	return func(s *SQLiteStore) {
		s.obs.tracer = otel.Tracer(instrumentationName)
		s.obs.metrics = initMetrics(otel.Meter(instrumentationName))
	}
}

// WithMigrations replaces the built-in migration list.
func WithMigrations(migrations []Migration) Option {
	return func(s *SQLiteStore) {
		s.migrations = migrations
	}
}

type metrics struct {
	opCount    metric.Int64Counter
	opDuration metric.Float64Histogram
	opErrors   metric.Int64Counter
}

func initMetrics(meter metric.Meter) *metrics {
	opCount, _ := meter.Int64Counter("userbook.store.operations",
		metric.WithDescription("Total number of store operations"),
		metric.WithUnit("{operation}"),
	)

	opDuration, _ := meter.Float64Histogram("userbook.store.duration",
		metric.WithDescription("Store operation duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	)

	opErrors, _ := meter.Int64Counter("userbook.store.errors",
		metric.WithDescription("Total number of failed store operations"),
		metric.WithUnit("{error}"),
	)

	return &metrics{
		opCount:    opCount,
		opDuration: opDuration,
		opErrors:   opErrors,
	}
}

type observer struct {
	log     logger.Logger
	tracer  trace.Tracer
	metrics *metrics
	driver  string
}

func newObserver() *observer {
	return &observer{
		log:     logger.Default,
		tracer:  tracenoop.NewTracerProvider().Tracer(instrumentationName),
		metrics: initMetrics(metricnoop.NewMeterProvider().Meter(instrumentationName)),
	}
}

// start opens a span for op. The returned func must be called with the
// operation's final error.
func (o *observer) start(ctx context.Context, op string) (context.Context, func(error)) {
	begin := time.Now()
	ctx, span := o.tracer.Start(ctx, "store."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.operation", op),
		))

	return ctx, func(err error) {
		elapsed := time.Since(begin)
		base := []attribute.KeyValue{
			attribute.String("db.operation", op),
			attribute.String("db.driver", o.driver),
		}
		attrs := metric.WithAttributes(base...)
		o.metrics.opCount.Add(ctx, 1, attrs)
		o.metrics.opDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)

		if err != nil {
			kind := errorKind(err)
			o.metrics.opErrors.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("error.kind", kind))...))
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
			if kind == "store" || kind == "migration" {
				o.log.Error("store operation failed", "op", op, "duration", elapsed, "error", err)
			} else {
				o.log.Debug("store operation rejected", "op", op, "kind", kind, "error", err)
			}
		} else {
			o.log.Debug("store operation", "op", op, "duration", elapsed)
		}
		span.End()
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, store.ErrValidation):
		return "validation"
	case errors.Is(err, store.ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, store.ErrMigration):
		return "migration"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "store"
}

// Package observe holds the OpenTelemetry metric instruments of the
// streaming server and the provider that exports them to Prometheus.
//
// Tests should build instruments with NewMetrics and a ManualReader-backed
// provider; DefaultMetrics uses the global provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/liuscraft/orion-stt"

// Session end statuses.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusRejected  = "rejected"
)

// Metrics holds the instruments recorded by the server. All fields are safe
// for concurrent use.
type Metrics struct {
	ActiveSessions  metric.Int64UpDownCounter
	Sessions        metric.Int64Counter
	Rejections      metric.Int64Counter
	AudioBytes      metric.Int64Counter
	Results         metric.Int64Counter
	SessionDuration metric.Float64Histogram
	DecodeDuration  metric.Float64Histogram
	JournalDropped  metric.Int64Counter
}

// decodeBuckets are in seconds; one chunk usually decodes in a few ms.
var decodeBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("stt.active_sessions",
		metric.WithDescription("Number of open streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("stt.sessions",
		metric.WithDescription("Finished streaming sessions by language and status."),
	); err != nil {
		return nil, err
	}
	if met.Rejections, err = m.Int64Counter("stt.rejections",
		metric.WithDescription("Rejected connections by reason."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("stt.audio.bytes",
		metric.WithDescription("PCM bytes received from clients."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Results, err = m.Int64Counter("stt.results",
		metric.WithDescription("Transcript messages sent by kind."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("stt.session.duration",
		metric.WithDescription("Lifetime of streaming sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("stt.decode.duration",
		metric.WithDescription("Time spent feeding one chunk to the recognizer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(decodeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JournalDropped, err = m.Int64Counter("stt.journal.dropped",
		metric.WithDescription("Transcript journal entries dropped because the writer fell behind."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments bound to the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) SessionStarted(ctx context.Context, lang string) {
	m.ActiveSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("lang", lang)))
}

// SessionEnded records the end of a session started with SessionStarted.
func (m *Metrics) SessionEnded(ctx context.Context, lang, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("lang", lang))
	m.ActiveSessions.Add(ctx, -1, attrs)
	m.Sessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lang", lang),
		attribute.String("status", status),
	))
	m.SessionDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) RecordRejection(ctx context.Context, reason string) {
	m.Rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// SessionRejected records a connection that was upgraded but closed before
// its session started. It counts as a rejection and as a finished session
// with status rejected.
func (m *Metrics) SessionRejected(ctx context.Context, lang, reason string) {
	m.RecordRejection(ctx, reason)
	m.Sessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lang", lang),
		attribute.String("status", StatusRejected),
	))
}

func (m *Metrics) RecordAudio(ctx context.Context, lang string, n int, decode time.Duration) {
	attrs := metric.WithAttributes(attribute.String("lang", lang))
	m.AudioBytes.Add(ctx, int64(n), attrs)
	m.DecodeDuration.Record(ctx, decode.Seconds(), attrs)
}

func (m *Metrics) RecordResult(ctx context.Context, lang, kind string) {
	m.Results.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lang", lang),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RecordJournalDrop(ctx context.Context) {
	m.JournalDropped.Add(ctx, 1)
}

package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, kv attribute.KeyValue) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %s not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s has type %T", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v == kv.Value {
			total += dp.Value
		}
	}
	return total
}

func TestSessionLifecycleMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionStarted(ctx, "en")
	m.SessionStarted(ctx, "en")
	m.SessionEnded(ctx, "en", StatusCompleted, 2*time.Second)
	m.RecordRejection(ctx, "unsupported_language")
	m.RecordResult(ctx, "en", "final")
	m.RecordAudio(ctx, "en", 960, time.Millisecond)

	rm := collect(t, reader)
	lang := attribute.String("lang", "en")

	if got := sumFor(t, rm, "stt.active_sessions", lang); got != 1 {
		t.Fatalf("active sessions = %d, want 1", got)
	}
	if got := sumFor(t, rm, "stt.sessions", attribute.String("status", StatusCompleted)); got != 1 {
		t.Fatalf("completed sessions = %d, want 1", got)
	}
	if got := sumFor(t, rm, "stt.rejections", attribute.String("reason", "unsupported_language")); got != 1 {
		t.Fatalf("rejections = %d, want 1", got)
	}
	if got := sumFor(t, rm, "stt.results", attribute.String("kind", "final")); got != 1 {
		t.Fatalf("final results = %d, want 1", got)
	}
	if got := sumFor(t, rm, "stt.audio.bytes", lang); got != 960 {
		t.Fatalf("audio bytes = %d, want 960", got)
	}

	dur := findMetric(rm, "stt.session.duration")
	if dur == nil {
		t.Fatal("session duration not recorded")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("unexpected histogram %+v", dur.Data)
	}
}

func TestSessionRejectedMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionRejected(ctx, "xx", "unsupported_language")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "stt.sessions", attribute.String("status", StatusRejected)); got != 1 {
		t.Fatalf("rejected sessions = %d, want 1", got)
	}
	if got := sumFor(t, rm, "stt.rejections", attribute.String("reason", "unsupported_language")); got != 1 {
		t.Fatalf("rejections = %d, want 1", got)
	}
	if findMetric(rm, "stt.active_sessions") != nil {
		t.Fatal("a rejected connection must not touch the active gauge")
	}
}

func TestInitProviderServesMetrics(t *testing.T) {
	p, err := InitProvider(ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordRejection(context.Background(), "invalid_language")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "stt_rejections") {
		t.Fatalf("metrics output missing stt_rejections:\n%s", body)
	}
}

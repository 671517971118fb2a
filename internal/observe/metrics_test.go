package observe

import (
	"context"
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

func counterTotal(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	for range 3 {
		m.FrameProcessed(ctx)
	}
	m.FrameDropped(ctx)
	m.Detection(ctx, 0.9)
	m.ScoringError(ctx)
	m.ScoringError(ctx)
	m.DeviceFailure(ctx)
	m.CommandRejected(ctx)

	rm := collect(t, reader)
	want := map[string]int64{
		"voxwake.frames.processed":    3,
		"voxwake.frames.dropped":      1,
		"voxwake.wake.detections":     1,
		"voxwake.wake.scoring_errors": 2,
		"voxwake.audio.device_lost":   1,
		"voxwake.commands.rejected":   1,
	}
	for name, n := range want {
		if got := counterTotal(t, rm, name); got != n {
			t.Errorf("%s = %d, want %d", name, got, n)
		}
	}
}

func TestRecordCommand(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCommand(ctx, "lights", "ok", 300*time.Millisecond)
	m.RecordCommand(ctx, "unknown", "error", time.Second)

	rm := collect(t, reader)
	cmds := findMetric(rm, "voxwake.commands")
	if cmds == nil {
		t.Fatal("voxwake.commands not found")
	}
	sum := cmds.Data.(metricdata.Sum[int64])
	found := false
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key("intent")); ok && v.AsString() == "lights" {
			found = true
			if s, _ := dp.Attributes.Value(attribute.Key("status")); s.AsString() != "ok" {
				t.Errorf("lights status = %q", s.AsString())
			}
		}
	}
	if !found {
		t.Error("no data point for intent=lights")
	}

	h := findMetric(rm, "voxwake.command.duration")
	if h == nil {
		t.Fatal("voxwake.command.duration not found")
	}
	hist := h.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("histogram points = %+v", hist.DataPoints)
	}
}

func TestRecordSensitivity(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordSensitivity(context.Background(), 0.8, 0.6)

	rm := collect(t, reader)
	g := findMetric(rm, "voxwake.wake.threshold")
	if g == nil {
		t.Fatal("threshold gauge not found")
	}
	gauge := g.Data.(metricdata.Gauge[float64])
	if len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 0.6 {
		t.Errorf("threshold points = %+v", gauge.DataPoints)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.FrameProcessed(ctx)
	m.FrameDropped(ctx)
	m.Detection(ctx, 1)
	m.ScoringError(ctx)
	m.DeviceFailure(ctx)
	m.CommandRejected(ctx)
	m.RecordCommand(ctx, "x", "ok", time.Second)
	m.RecordTranscription(ctx, time.Second)
	m.RecordSensitivity(ctx, 0.5, 0.75)
}

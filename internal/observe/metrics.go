// Package observe holds the daemon's OpenTelemetry metric instruments and
// the Prometheus bridge that exposes them on /metrics.
//
// Every Record method is safe on a nil *Metrics, so components can be built
// without instrumentation in tests.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "voxwake"

// Metrics holds the metric instruments for the pipeline.
type Metrics struct {
	FramesProcessed metric.Int64Counter
	FramesDropped   metric.Int64Counter
	Detections      metric.Int64Counter
	ScoringErrors   metric.Int64Counter
	DeviceLost      metric.Int64Counter

	// Commands counts processed commands. Attributes: intent, status.
	Commands         metric.Int64Counter
	CommandsRejected metric.Int64Counter

	TranscribeDuration metric.Float64Histogram
	CommandDuration    metric.Float64Histogram

	Threshold   metric.Float64Gauge
	Sensitivity metric.Float64Gauge
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesProcessed, "voxwake.frames.processed", "Audio frames consumed by the detection loop."},
		{&met.FramesDropped, "voxwake.frames.dropped", "Audio frames evicted from a full frame channel."},
		{&met.Detections, "voxwake.wake.detections", "Wake word detections."},
		{&met.ScoringErrors, "voxwake.wake.scoring_errors", "Frames the wake word scorer failed on."},
		{&met.DeviceLost, "voxwake.audio.device_lost", "Capture sessions ended by a device failure."},
		{&met.Commands, "voxwake.commands", "Processed commands by intent and status."},
		{&met.CommandsRejected, "voxwake.commands.rejected", "Command recordings rejected by a full queue."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.TranscribeDuration, err = m.Float64Histogram("voxwake.transcribe.duration",
		metric.WithDescription("Latency of command transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CommandDuration, err = m.Float64Histogram("voxwake.command.duration",
		metric.WithDescription("Latency from command hand-off to completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Threshold, err = m.Float64Gauge("voxwake.wake.threshold",
		metric.WithDescription("Current wake word detection threshold."),
	); err != nil {
		return nil, err
	}
	if met.Sensitivity, err = m.Float64Gauge("voxwake.wake.sensitivity",
		metric.WithDescription("Current wake word sensitivity level."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) FrameProcessed(ctx context.Context) {
	if m != nil {
		m.FramesProcessed.Add(ctx, 1)
	}
}

func (m *Metrics) FrameDropped(ctx context.Context) {
	if m != nil {
		m.FramesDropped.Add(ctx, 1)
	}
}

func (m *Metrics) Detection(ctx context.Context, confidence float64) {
	if m != nil {
		m.Detections.Add(ctx, 1)
	}
}

func (m *Metrics) ScoringError(ctx context.Context) {
	if m != nil {
		m.ScoringErrors.Add(ctx, 1)
	}
}

func (m *Metrics) DeviceFailure(ctx context.Context) {
	if m != nil {
		m.DeviceLost.Add(ctx, 1)
	}
}

func (m *Metrics) CommandRejected(ctx context.Context) {
	if m != nil {
		m.CommandsRejected.Add(ctx, 1)
	}
}

// RecordCommand counts one processed command and its end-to-end latency.
func (m *Metrics) RecordCommand(ctx context.Context, intent, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.Commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", intent),
		attribute.String("status", status),
	))
	m.CommandDuration.Record(ctx, took.Seconds())
}

func (m *Metrics) RecordTranscription(ctx context.Context, took time.Duration) {
	if m != nil {
		m.TranscribeDuration.Record(ctx, took.Seconds())
	}
}

// RecordSensitivity publishes the current level and threshold.
func (m *Metrics) RecordSensitivity(ctx context.Context, level, threshold float64) {
	if m == nil {
		return
	}
	m.Sensitivity.Record(ctx, level)
	m.Threshold.Record(ctx, threshold)
}

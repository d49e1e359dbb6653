package stt

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TranscribeDurationMetric is the engine latency histogram, in milliseconds.
const TranscribeDurationMetric = "loqa.stt.transcribe.duration"

type serviceMetrics struct {
	transcriptions  metric.Int64Counter
	duration        metric.Float64Histogram
	initializations metric.Int64Counter
}

func newServiceMetrics(meter metric.Meter) (serviceMetrics, error) {
	var m serviceMetrics
	transcriptions, err := meter.Int64Counter("loqa.stt.transcriptions", metric.WithDescription("Transcription requests that reached the engine"))
	if err != nil {
		return m, err
	}
	duration, err := meter.Float64Histogram(TranscribeDurationMetric, metric.WithDescription("Engine transcription latency"), metric.WithUnit("ms"))
	if err != nil {
		return m, err
	}
	initializations, err := meter.Int64Counter("loqa.stt.initializations", metric.WithDescription("Engine initialization attempts"))
	if err != nil {
		return m, err
	}
	m.transcriptions = transcriptions
	m.duration = duration
	m.initializations = initializations
	return m, nil
}

func (m serviceMetrics) recordTranscribe(ctx context.Context, err error, took time.Duration) {
	attrs := metric.WithAttributes(outcomeAttr(err))
	if m.transcriptions != nil {
		m.transcriptions.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(took)/float64(time.Millisecond), attrs)
	}
}

func (m serviceMetrics) recordInitialize(ctx context.Context, err error) {
	if m.initializations != nil {
		m.initializations.Add(ctx, 1, metric.WithAttributes(outcomeAttr(err)))
	}
}

func outcomeAttr(err error) attribute.KeyValue {
	switch {
	case err == nil:
		return attribute.String("outcome", "ok")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return attribute.String("outcome", "cancelled")
	default:
		return attribute.String("outcome", "error")
	}
}

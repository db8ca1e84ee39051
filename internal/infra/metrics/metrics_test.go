package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	case out.Histogram != nil:
		return float64(out.Histogram.GetSampleCount())
	}
	return 0
}

func TestHelpersUpdateCollectors(t *testing.T) {
	IncJobFinished(" Completed ", "")
	if got := value(t, jobsFinishedTotal.WithLabelValues("completed", "")); got < 1 {
		t.Errorf("expected normalized completed counter >= 1, got %v", got)
	}

	IncTranscriptionPoll("PROCESSING")
	if got := value(t, transcriptionPollsTotal.WithLabelValues("processing")); got < 1 {
		t.Errorf("expected processing poll counter >= 1, got %v", got)
	}

	SubscriberAdded()
	SubscriberAdded()
	SubscriberRemoved()
	if got := value(t, streamSubscribers); got != 1 {
		t.Errorf("expected 1 subscriber, got %v", got)
	}
	SubscriberRemoved()

	ObserveStage("extracting_audio", 3*time.Second, true)
	h := stageDurationSeconds.WithLabelValues("extracting_audio", "true").(prometheus.Metric)
	if got := value(t, h); got < 1 {
		t.Errorf("expected at least one stage observation, got %v", got)
	}
}

func TestMustRegisterIsIdempotent(t *testing.T) {
	MustRegister()
	MustRegister()
}

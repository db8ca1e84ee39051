package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(streamSubscribers, streamEventsDropped) }

var (
	streamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "status_stream_subscribers",
			Help: "Observers currently subscribed to job status events.",
		},
	)

	streamEventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_stream_events_dropped_total",
			Help: "Events not delivered, by reason (no_subscriber, overflow).",
		},
		[]string{"reason"},
	)
)

func SubscriberAdded()   { streamSubscribers.Inc() }
func SubscriberRemoved() { streamSubscribers.Dec() }

func IncEventDropped(reason string) {
	streamEventsDropped.WithLabelValues(norm(reason)).Inc()
}

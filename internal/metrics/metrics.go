package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Hub metrics
	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careerhub_events_processed_total",
			Help: "Total number of events applied by the hub by type",
		},
		[]string{"type"},
	)

	EventsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careerhub_events_rejected_total",
			Help: "Total number of events rejected by type and reason",
		},
		[]string{"type", "reason"},
	)

	EventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "careerhub_event_duration_seconds",
			Help:    "Time spent applying and publishing a single event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "careerhub_hub_queue_depth",
			Help: "Number of events waiting to be applied",
		},
	)

	// Registry metrics
	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "careerhub_subscribers",
			Help: "Number of live subscriptions",
		},
	)

	MessagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careerhub_messages_delivered_total",
			Help: "Total number of messages handed to subscriber transports by type",
		},
		[]string{"type"},
	)

	DeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careerhub_delivery_failures_total",
			Help: "Total number of failed deliveries by reason",
		},
		[]string{"reason"},
	)

	// Persistence metrics
	PersistenceWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careerhub_persistence_writes_total",
			Help: "Total number of durable writes by operation and result",
		},
		[]string{"op", "result"},
	)

	PersistenceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "careerhub_persistence_latency_seconds",
			Help:    "Durable write latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Analyzer metrics
	AnalysisRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careerhub_analysis_requests_total",
			Help: "Total number of resume analysis requests by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(EventsProcessed)
	prometheus.MustRegister(EventsRejected)
	prometheus.MustRegister(EventDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(Subscribers)
	prometheus.MustRegister(MessagesDelivered)
	prometheus.MustRegister(DeliveryFailures)
	prometheus.MustRegister(PersistenceWrites)
	prometheus.MustRegister(PersistenceLatency)
	prometheus.MustRegister(AnalysisRequests)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDurationVec records the elapsed time into h under the given labels.
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

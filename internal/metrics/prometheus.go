package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var HttpRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests received",
	},
	[]string{"endpoint", "status", "method"},
)

var HttpRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"endpoint", "method"},
)

var HttpRateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "http_rate_limit_rejections_total",
		Help: "Total number of HTTP requests rejected due to rate limiting",
	},
)

// outcome: rejected, ignored, uncorrelated, recorded, failed
var WebhooksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "followup_webhooks_total",
		Help: "Inbound provider callbacks by outcome",
	},
	[]string{"provider", "outcome"},
)

var DispatchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "followup_dispatch_total",
		Help: "Dispatch attempts by channel and outcome",
	},
	[]string{"channel", "outcome"},
)

var GenerationSlotsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "followup_generation_slots_total",
		Help: "Generated message slots by outcome",
	},
	[]string{"outcome"},
)

var EventsAppendedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "followup_events_appended_total",
		Help: "Canonical events appended to the event log",
	},
	[]string{"type"},
)

var ProviderSendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "followup_provider_send_seconds",
		Help:    "Time taken by channel provider send calls",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"provider"},
)

var KafkaPublishFailureTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kafka_publish_failure_total",
		Help: "Total number of failed Kafka publishes",
	},
	[]string{"topic"},
)

var QueueRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "followup_queue_retries_total",
		Help: "Dispatch jobs requeued after a retryable failure",
	},
	[]string{"queue"},
)

var (
	apiOnce    sync.Once
	workerOnce sync.Once
)

// InitAPIMetrics registers the server's collectors. The server also runs the
// in-process queue, so queue retries are included. Call at most one of the
// two Init functions per process.
func InitAPIMetrics() {
	apiOnce.Do(func() {
		prometheus.MustRegister(HttpRequestsTotal)
		prometheus.MustRegister(HttpRequestDuration)
		prometheus.MustRegister(HttpRateLimitRejectionsTotal)
		prometheus.MustRegister(WebhooksTotal)
		prometheus.MustRegister(DispatchTotal)
		prometheus.MustRegister(GenerationSlotsTotal)
		prometheus.MustRegister(EventsAppendedTotal)
		prometheus.MustRegister(ProviderSendDuration)
		prometheus.MustRegister(KafkaPublishFailureTotal)
		prometheus.MustRegister(QueueRetriesTotal)
	})
}

func InitWorkerMetrics() {
	workerOnce.Do(func() {
		prometheus.MustRegister(DispatchTotal)
		prometheus.MustRegister(ProviderSendDuration)
		prometheus.MustRegister(QueueRetriesTotal)
	})
}

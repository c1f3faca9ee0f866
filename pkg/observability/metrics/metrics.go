package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meetscore"

var (
	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of inbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "code"})

	webhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhooks",
		Name:      "received_total",
		Help:      "Provider webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})

	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bots",
		Name:      "status_transitions_total",
		Help:      "Bot status transitions by target status and the component that observed them.",
	}, []string{"to", "source"})

	providerRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "Duration of outbound calls to the meeting bot provider.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation", "outcome"})

	scorecardsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "scorecards_generated_total",
		Help:      "Scorecards generated by analyzer and outcome.",
	}, []string{"analyzer", "outcome"})
)

func ObserveHTTPRequest(method string, code int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

func WebhookReceived(eventType, outcome string) {
	webhooksReceived.WithLabelValues(eventType, outcome).Inc()
}

func StatusTransition(to, source string) {
	statusTransitions.WithLabelValues(to, source).Inc()
}

func ObserveProviderRequest(operation string, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	providerRequests.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

func ScorecardGenerated(analyzer string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	scorecardsGenerated.WithLabelValues(analyzer, outcome).Inc()
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

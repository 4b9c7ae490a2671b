package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the site backend
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, route, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)

	// LiveClients is the number of registered live-count channels
	LiveClients = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "live_count_clients", Help: "Open live-count channels."},
	)
	// Broadcasts counts live-count broadcasts
	Broadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "live_count_broadcasts_total", Help: "Live-count broadcasts."},
	)
	// PrunedChannels counts channels removed after a failed write
	PrunedChannels = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "live_count_pruned_channels_total", Help: "Channels pruned after a failed write."},
	)
	// SubscriberCount is the last known subscriber count
	SubscriberCount = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "subscriber_count", Help: "Last known active subscriber count."},
	)

	// UpstreamFetches counts recount attempts by strategy and outcome
	UpstreamFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstream_count_fetches_total", Help: "Upstream recounts by strategy and outcome."},
		[]string{"strategy", "outcome"},
	)
	// WebhookEvents counts inbound webhook events by type and whether they triggered a recount
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_events_total", Help: "Inbound webhook events."},
		[]string{"event_type", "processed"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on Registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(LiveClients)
		Registry.MustRegister(Broadcasts)
		Registry.MustRegister(PrunedChannels)
		Registry.MustRegister(SubscriberCount)
		Registry.MustRegister(UpstreamFetches)
		Registry.MustRegister(WebhookEvents)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

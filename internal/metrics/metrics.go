package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	updatesPolled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archie_updates_polled_total",
			Help: "Updates returned by getUpdates, by channel kind",
		},
		[]string{"kind"},
	)

	updatesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archie_updates_handled_total",
			Help: "Updates processed by outcome (dispatched, duplicate, skipped, error)",
		},
		[]string{"kind", "outcome"},
	)

	pollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archie_poll_errors_total",
			Help: "Failed getUpdates calls, by channel kind",
		},
		[]string{"kind"},
	)

	tenantsProvisioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archie_tenants_provisioned_total",
			Help: "Tenants created, by mode (hub, direct)",
		},
		[]string{"mode"},
	)

	heartbeatCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archie_heartbeat_cycles_total",
			Help: "Heartbeat tenant cycles by outcome",
		},
		[]string{"outcome"},
	)

	heartbeatDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archie_heartbeat_tick_duration_seconds",
			Help:    "Wall time of one heartbeat tick over all tenants",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	collectorResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archie_collector_results_total",
			Help: "Collector checks by collector and result (items, empty, error, open)",
		},
		[]string{"collector", "result"},
	)

	composerFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archie_composer_fallbacks_total",
			Help: "Messages rendered with the template instead of the LLM",
		},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archie_deliveries_total",
			Help: "Delivery attempts by result (markdown, plain, failed)",
		},
		[]string{"result"},
	)

	outboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archie_outbox_queue_depth",
			Help: "Replies waiting in the async outbox",
		},
	)

	remindersSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archie_reminders_total",
			Help: "Reminder sends by result",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordUpdatesPolled(kind string, n int) {
	updatesPolled.WithLabelValues(kind).Add(float64(n))
}

// RecordUpdate records how one update was handled
func RecordUpdate(kind, outcome string) {
	updatesHandled.WithLabelValues(kind, outcome).Inc()
}

func RecordPollError(kind string) {
	pollErrors.WithLabelValues(kind).Inc()
}

func RecordTenantProvisioned(mode string) {
	tenantsProvisioned.WithLabelValues(mode).Inc()
}

func RecordHeartbeatCycle(outcome string) {
	heartbeatCycles.WithLabelValues(outcome).Inc()
}

func RecordHeartbeatTick(d time.Duration) {
	heartbeatDuration.Observe(d.Seconds())
}

func RecordCollectorResult(collector, result string) {
	collectorResults.WithLabelValues(collector, result).Inc()
}

func RecordComposerFallback() {
	composerFallbacks.Inc()
}

func RecordDelivery(result string) {
	deliveries.WithLabelValues(result).Inc()
}

func SetOutboxDepth(n int) {
	outboxDepth.Set(float64(n))
}

func RecordReminder(result string) {
	remindersSent.WithLabelValues(result).Inc()
}

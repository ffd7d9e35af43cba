package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DeliveryAttempts counts every send attempt that produced a delivery log
	// row, by outcome and whether it was a retry.
	DeliveryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infomail_delivery_attempts_total",
		Help: "Total number of delivery attempts grouped by status and kind",
	}, []string{"status", "kind"})
	BatchesDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infomail_batches_dispatched_total",
		Help: "Total number of batch send requests that passed validation",
	})
	BatchesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infomail_batches_rejected_total",
		Help: "Total number of batch send requests rejected before any send",
	}, []string{"reason"})
	TargetsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infomail_targets_skipped_total",
		Help: "Total number of batch targets that could not be resolved",
	})
	SMTPDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "infomail_smtp_send_duration_seconds",
		Help:    "Duration of SMTP dial-and-send exchanges",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
	CredentialChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infomail_credential_checks_total",
		Help: "Total number of live credential handshakes by result",
	}, []string{"result"})

	LiveLogSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infomail_livelog_subscribers",
		Help: "Number of connected live log viewers",
	})
	LiveLogPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infomail_livelog_published_total",
		Help: "Total number of delivery log events published",
	})
	LiveLogDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infomail_livelog_dropped_total",
		Help: "Total number of events dropped because a viewer was not keeping up",
	})

	QuotaRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infomail_quota_requests_total",
		Help: "Quota requests by lifecycle event (created, approved, rejected)",
	}, []string{"event"})
	QuotaResponseMinutes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "infomail_quota_response_minutes",
		Help:    "Minutes between a quota request and the admin response",
		Buckets: []float64{5, 15, 30, 60, 120, 240, 480, 1440, 2880},
	})
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infomail_rate_limited_total",
		Help: "Requests rejected by the per-user rate limiter",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(DeliveryAttempts)
	prometheus.MustRegister(BatchesDispatched)
	prometheus.MustRegister(BatchesRejected)
	prometheus.MustRegister(TargetsSkipped)
	prometheus.MustRegister(SMTPDuration)
	prometheus.MustRegister(CredentialChecks)
	prometheus.MustRegister(LiveLogSubscribers)
	prometheus.MustRegister(LiveLogPublished)
	prometheus.MustRegister(LiveLogDropped)
	prometheus.MustRegister(QuotaRequests)
	prometheus.MustRegister(QuotaResponseMinutes)
	prometheus.MustRegister(RateLimited)
}

// MetricsHandler returns the handler serving the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	TipsSubmitted    prometheus.Counter
	ReceiptsResolved prometheus.Counter
	ReceiptsRejected prometheus.Counter
	CommentsPosted   *prometheus.CounterVec
	TipsPostponed    prometheus.Counter
	TipsDeleted      prometheus.Counter
	TipsExpired      prometheus.Counter
	ExportsServed    prometheus.Counter
	RequestLatency   *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics on the given registerer. Tests pass a fresh
// registry so parallel suites never collide.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TipsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_tips_submitted_total",
			Help: "Total number of tips committed through the submission wizard",
		}),
		ReceiptsResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_receipts_resolved_total",
			Help: "Total number of successful receipt resolutions",
		}),
		ReceiptsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_receipts_rejected_total",
			Help: "Total number of rejected receipt presentations",
		}),
		CommentsPosted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_comments_posted_total",
			Help: "Total number of comments appended to tip threads",
		}, []string{"author_role"}),
		TipsPostponed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_tips_postponed_total",
			Help: "Total number of postpone transitions",
		}),
		TipsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_tips_deleted_total",
			Help: "Total number of recipient-initiated deletions",
		}),
		TipsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_tips_expired_total",
			Help: "Total number of tips deleted by the expiry sweep",
		}),
		ExportsServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_exports_served_total",
			Help: "Total number of tip archives exported",
		}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tipline_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// ObserveRequest records one HTTP request's latency.
func (m *Metrics) ObserveRequest(route, status string, d time.Duration) {
	m.RequestLatency.WithLabelValues(route, status).Observe(d.Seconds())
}

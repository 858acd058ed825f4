package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_api_requests_total",
		Help: "Total HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration tracks HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skald_api_request_duration_seconds",
		Help:    "HTTP API request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skald_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})

	// PostsAssignedTotal counts posts given a queue position.
	PostsAssignedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_queue_posts_assigned_total",
		Help: "Posts assigned a publish instant.",
	}, []string{"workspace", "operation"})

	// PlanFailuresTotal counts planning failures by reason.
	PlanFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_queue_plan_failures_total",
		Help: "Planning failures by reason.",
	}, []string{"workspace", "reason"})

	// PlanDuration tracks how long scheduling operations take.
	PlanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skald_queue_plan_duration_seconds",
		Help:    "Duration of queue planning operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// CandidateScanDepth tracks how many candidates a plan walked.
	CandidateScanDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "skald_queue_candidate_scan_depth",
		Help:    "Candidates examined per planning call.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	// RebuildsTotal counts full queue rebuilds by trigger.
	RebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_queue_rebuilds_total",
		Help: "Queue rebuilds by trigger.",
	}, []string{"workspace", "trigger"})

	// JobsDispatchedTotal counts delayed jobs handed to the publishing worker.
	JobsDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skald_jobs_dispatched_total",
		Help: "Due publish jobs dispatched.",
	})

	// JobSyncFailuresTotal counts failed job registrations/cancellations.
	JobSyncFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skald_jobs_sync_failures_total",
		Help: "Failed delayed-job refresh or cancel operations.",
	})

	// LeaderElectionStatus reports whether this instance holds leadership.
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skald_leader_election_status",
		Help: "1 when this instance is the leader.",
	}, []string{"instance"})

	// LeaderElectionChanges counts leadership transitions.
	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_leader_election_changes_total",
		Help: "Leadership acquisitions and losses.",
	}, []string{"instance", "change"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolforum_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// UpstreamRequestDuration records forum server call latency by operation and status.
	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "schoolforum_upstream_request_duration_seconds",
		Help:    "Forum server request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// SubtreeFetches counts lazy subtree fetches by outcome.
	SubtreeFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolforum_subtree_fetches_total",
		Help: "Total number of comment subtree fetches triggered by expansion",
	}, []string{"outcome"})

	// CommentSyncs counts refetch-and-merge passes after mutations.
	CommentSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolforum_comment_syncs_total",
		Help: "Total number of comment tree synchronizations by scope and outcome",
	}, []string{"scope", "outcome"})

	// ExpandRejections counts toggles rejected while a fetch for the same comment was in flight.
	ExpandRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolforum_expand_rejections_total",
		Help: "Total number of expand toggles rejected as re-entrant",
	})

	// OpenPostViews is the gauge of live post views.
	OpenPostViews = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "schoolforum_open_post_views",
		Help: "Number of open post views",
	})

	// CommentMutations counts create, edit and delete requests by outcome.
	CommentMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolforum_comment_mutations_total",
		Help: "Total number of comment mutations by action and outcome",
	}, []string{"action", "outcome"})
)

// Outcome returns the metric label for err.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// TrackUpstream returns a function that records the call latency when called
// with the final response status (0 when no response was received).
func TrackUpstream(operation string) func(status int) {
	start := time.Now()
	return func(status int) {
		UpstreamRequestDuration.WithLabelValues(operation, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	}
}

// EngineMetrics feeds post view events into the engine counters.
type EngineMetrics struct{}

func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{}
}

func (*EngineMetrics) RecordSubtreeFetch(err error) {
	SubtreeFetches.WithLabelValues(Outcome(err)).Inc()
}

func (*EngineMetrics) RecordSync(scope string, err error) {
	CommentSyncs.WithLabelValues(scope, Outcome(err)).Inc()
}

func (*EngineMetrics) RecordExpandRejection() {
	ExpandRejections.Inc()
}

func (*EngineMetrics) RecordMutation(action string, err error) {
	CommentMutations.WithLabelValues(action, Outcome(err)).Inc()
}

package automations

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pollDuration and heartbeatMissTotal instrument a worker's poll/commit
// cycle and lease losses, grounded on go/network/metrics.go's
// package-level promauto vars, labeled by task type the way that file
// labels counters by task/port/proto.
var pollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "flow_automations_poll_seconds",
	Help:    "latency of one task poll/persist cycle, by task type",
	Buckets: prometheus.DefBuckets,
}, []string{"type"})

var heartbeatMissTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flow_automations_heartbeat_miss_total",
	Help: "counter of lost heartbeat leases mid-poll or mid-commit, by task type",
}, []string{"type"})

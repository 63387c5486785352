package connector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// dialLatency and responseLatency instrument the two timeouts of
// spec.md section 4.4/5, grounded on go/network/metrics.go's
// package-level promauto.NewHistogramVec pattern.
var dialLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "flow_connector_proxy_dial_seconds",
	Help:    "latency of the proxy dial sequence (steps 1-2 of the proxy dial)",
	Buckets: prometheus.DefBuckets,
})

var responseLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "flow_connector_response_seconds",
	Help:    "latency of a single connector response, by RPC method",
	Buckets: prometheus.DefBuckets,
}, []string{"method"})

var responseTimeoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flow_connector_response_timeout_total",
	Help: "counter of connector responses that exceeded the configured response timeout",
}, []string{"method"})

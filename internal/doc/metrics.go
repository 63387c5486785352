package doc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// spillTotal counts memtable spills across all accumulators in this
// process, grounded on go/network/metrics.go's package-level
// promauto.NewCounterVec pattern (no explicit MustRegister -- promauto
// registers with the default registerer at var-init time).
var spillTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "flow_combine_spill_total",
	Help: "counter of memtable spills to the on-disk segment log",
})

// spillBytesHistogram records the used-byte size of each spilled
// memtable, letting an operator see how close spills run to
// MemTableByteThreshold.
var spillBytesHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "flow_combine_spill_bytes",
	Help:    "size in bytes of each memtable spilled to the segment log",
	Buckets: prometheus.ExponentialBuckets(1<<20, 2, 10), // 1MiB..512MiB
})

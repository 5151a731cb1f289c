package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_cache_lookups_total",
		Help: "Response cache lookups by endpoint kind and result (hit, miss, error)",
	}, []string{"kind", "result"})

	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_cache_bytes_written_total",
		Help: "Bytes written to the response cache",
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_cache_errors_total",
		Help: "Response cache errors by operation",
	}, []string{"operation"})
)

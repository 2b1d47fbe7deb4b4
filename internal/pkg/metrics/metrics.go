// Package metrics holds the agent's Prometheus instruments on a private
// registry, exposed by the HTTP server at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts completed engine operations by kind and outcome.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otarescue_operations_total",
			Help: "Total number of flash operations by kind and outcome.",
		},
		[]string{"op", "outcome"}, // op: flash/relocate/bootswitch/backup, outcome: success/failed/rejected
	)

	// BytesFlashedTotal counts payload bytes programmed into flash.
	BytesFlashedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otarescue_flash_bytes_total",
			Help: "Total number of payload bytes programmed into flash.",
		},
	)

	// SectorsErasedTotal counts sector erase cycles, the wear-relevant figure.
	SectorsErasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otarescue_sectors_erased_total",
			Help: "Total number of flash sector erase cycles.",
		},
	)

	// OperationInProgress is 1 while a mutating operation holds the engine.
	OperationInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "otarescue_operation_in_progress",
			Help: "Whether a mutating flash operation is currently running.",
		},
	)
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(OperationsTotal)
	registry.MustRegister(BytesFlashedTotal)
	registry.MustRegister(SectorsErasedTotal)
	registry.MustRegister(OperationInProgress)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns the HTTP handler serving the agent's registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// Operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_operations_total",
			Help: "Total number of volume operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_operation_duration_seconds",
			Help:    "Volume operation duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"operation"},
	)

	CompensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_compensations_total",
			Help: "Total number of compensating actions run after failed operations",
		},
		[]string{"operation", "result"},
	)

	InflightOperations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_inflight_operations",
			Help: "Number of volume operations currently executing",
		},
	)

	// Target metrics
	TargetReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_target_reloads_total",
			Help: "Total number of tgt-admin reloads by result",
		},
		[]string{"result"},
	)

	TargetsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_targets_total",
			Help: "Number of iSCSI target config files",
		},
	)

	// Capacity metrics
	CapacityTotalBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_capacity_total_bytes",
			Help: "Total capacity of the storage root in bytes",
		},
	)

	CapacityAvailableBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_capacity_available_bytes",
			Help: "Capacity of the storage root not used by volumes, in bytes",
		},
	)
)

func init() {
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(CompensationsTotal)
	prometheus.MustRegister(InflightOperations)
	prometheus.MustRegister(TargetReloadsTotal)
	prometheus.MustRegister(TargetsTotal)
	prometheus.MustRegister(CapacityTotalBytes)
	prometheus.MustRegister(CapacityAvailableBytes)
}

// Result maps an error to the result label value
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordReload counts a tgt-admin reload
func RecordReload(err error) {
	TargetReloadsTotal.WithLabelValues(Result(err)).Inc()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

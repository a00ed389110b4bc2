/*
Package metrics provides Prometheus metrics and the component health report
of the agent.

All metrics are registered with the default registry at package init and
exposed by Handler on /metrics.

# Metrics

Operations:

	burrow_operations_total{operation, result}
	  - Counter, result is "success" or "failure"
	  - Example: burrow_operations_total{operation="createEmptyVolume",result="success"} 12

	burrow_operation_duration_seconds{operation}
	  - Histogram, buckets from 50ms to 15m since downloads are slow

	burrow_compensations_total{operation, result}
	  - Counter of rollback steps run after a failed operation

	burrow_inflight_operations
	  - Gauge of operations currently executing

Targets:

	burrow_target_reloads_total{result}
	  - Counter of tgt-admin --update ALL reloads

	burrow_targets_total
	  - Gauge of target config files, refreshed by the Collector

Capacity:

	burrow_capacity_total_bytes
	burrow_capacity_available_bytes
	  - Gauges of the storage root, refreshed by the Collector and after every
	    mutating operation

# Timing

	timer := metrics.NewTimer()
	err := run()
	timer.ObserveDurationVec(metrics.OperationDuration, "deleteBits")
	metrics.OperationsTotal.WithLabelValues("deleteBits", metrics.Result(err)).Inc()

# Health

Components report through UpdateComponent. The journal and tools components
are critical: /health is unhealthy and /ready is not ready when either one
fails. The root component only becomes healthy after init, and an
uninitialized root does not make the agent unhealthy because the management
plane initializes it after the agent is reachable.

	GET /health   200 healthy, 503 unhealthy
	GET /ready    200 ready, 503 not_ready
	GET /live     always 200 while the process runs
*/
package metrics

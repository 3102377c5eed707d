package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency. Shared across all routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "fleetctl",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional domain-specific
// collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

// Domain metrics, registered by internal/app alongside HTTPRequestDuration.
var (
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetctl",
			Subsystem: "orchestrator",
			Name:      "operations_total",
			Help:      "Lifecycle operations completed, by action, source and result.",
		},
		[]string{"action", "source", "result"},
	)

	LeaseContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetctl",
			Subsystem: "lease",
			Name:      "contention_total",
			Help:      "Lease acquire attempts that failed because another owner held it.",
		},
		[]string{"resource"},
	)

	DiscoveryRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetctl",
			Subsystem: "discovery",
			Name:      "runs_total",
			Help:      "Discovery reconciliation runs, by result.",
		},
		[]string{"result"},
	)

	ScheduleActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetctl",
			Subsystem: "schedule",
			Name:      "actions_total",
			Help:      "Actions triggered by the schedule evaluator, by action type.",
		},
		[]string{"action"},
	)
)

// All returns the domain-specific collectors for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		OperationsTotal,
		LeaseContentionTotal,
		DiscoveryRunsTotal,
		ScheduleActionsTotal,
	}
}

package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantwatch_polls_total",
			Help: "Sensor polls by result (ok, timeout, connection-refused, protocol-error)",
		},
		[]string{"result"},
	)
	pollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plantwatch_poll_duration_seconds",
			Help:    "Duration of a single sensor poll",
			Buckets: prometheus.DefBuckets,
		},
	)
	storageErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plantwatch_storage_errors_total",
			Help: "Sensor outcomes that could not be persisted",
		},
	)
	deferredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plantwatch_deferred_sensors_total",
			Help: "Sensors deferred because the cycle budget ran out",
		},
	)
	alertMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantwatch_alert_mutations_total",
			Help: "Applied alert mutations by action and alert type",
		},
		[]string{"action", "alert_type"},
	)
	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plantwatch_cycle_duration_seconds",
			Help:    "Wall-clock duration of a collection cycle",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casedraft_engine_calls_total",
		Help: "Engine consults by kind and outcome",
	}, []string{"kind", "outcome"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casedraft_engine_call_duration_seconds",
		Help:    "Engine consult latency including retries",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"kind"})

	callAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casedraft_engine_call_attempts",
		Help:    "Attempts per engine consult",
		Buckets: []float64{1, 2, 3, 5, 8},
	}, []string{"kind"})
)

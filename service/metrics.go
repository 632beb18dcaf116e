package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casedraft_case_transitions_total",
		Help: "Committed case state transitions",
	}, []string{"from", "to"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casedraft_case_events_total",
		Help: "Inbound case events by outcome",
	}, []string{"event", "outcome"})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casedraft_case_version_conflicts_total",
		Help: "Optimistic concurrency conflicts on case commits",
	}, []string{"operation"})

	stallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casedraft_case_stalls_total",
		Help: "Cases stalled by cause",
	}, []string{"code"})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrVersionConflict):
		return "conflict"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrCaseNotFound):
		return "not_found"
	case errors.Is(err, ErrCaseClosed), errors.Is(err, ErrInvalidTransition):
		return "rejected"
	default:
		return "error"
	}
}

func observeEvent(event string, err error) {
	eventsTotal.WithLabelValues(event, outcome(err)).Inc()
}

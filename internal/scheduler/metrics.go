package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "railsched",
		Subsystem: "scheduler",
		Name:      "attempts_total",
		Help:      "Candidate attempts, labelled by attempt outcome.",
	}, []string{"outcome"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "railsched",
		Subsystem: "scheduler",
		Name:      "runs_total",
		Help:      "Finished runs, labelled by terminal state.",
	}, []string{"outcome"})

	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "railsched",
		Subsystem: "scheduler",
		Name:      "runs_active",
		Help:      "Runs currently polling.",
	})
)

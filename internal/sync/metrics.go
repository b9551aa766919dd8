package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// syncRunsTotal counts finished runs by terminal status.
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_total",
		Help: "Total number of sync runs by terminal status",
	}, []string{"status"})

	// syncRecordsTotal counts records upserted per entity.
	syncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_records_total",
		Help: "Total number of records upserted by entity",
	}, []string{"entity"})

	// syncRunDuration measures end-to-end run time.
	syncRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_run_duration_seconds",
		Help:    "Sync run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// syncAlreadyRunningTotal counts triggers absorbed by the running guard.
	syncAlreadyRunningTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_already_running_total",
		Help: "Total number of triggers skipped because a run was in progress",
	})
)

// Package discometrics exposes the Prometheus counters and gauges the
// Scheduler (C8) and Event Bus (C6) update as they run, following the
// teacher's package-level-vars-plus-init()-MustRegister pattern
// (internal/server/middleware.go).
package discometrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// JobsTotal counts discovery jobs by the terminal status a worker gives
	// them ("completed" or "failed"). Jobs cancelled through Cancel or Stop
	// are not counted.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discoveryd_scheduler_jobs_total",
			Help: "Total number of discovery jobs reaching a terminal status.",
		},
		[]string{"status"},
	)

	// JobRetriesTotal counts every retry attempt the Scheduler schedules.
	JobRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discoveryd_scheduler_job_retries_total",
			Help: "Total number of discovery job retry attempts.",
		},
	)

	// QueueDepth reports the number of jobs currently queued or scheduled.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "discoveryd_scheduler_queue_depth",
			Help: "Current number of jobs waiting in the scheduler queue.",
		},
	)

	// JobDuration observes wall-clock time spent in one engine.DiscoverAll call.
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discoveryd_scheduler_job_duration_seconds",
			Help:    "Duration of a completed discovery job's engine run.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// EventsPublishedTotal counts events published on the Event Bus, by type,
	// whether or not any subscription received them.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discoveryd_eventbus_events_published_total",
			Help: "Total number of events published on the event bus, by event type.",
		},
		[]string{"event_type"},
	)

	// HistorySize reports the current size of the event bus's ring history.
	HistorySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "discoveryd_eventbus_history_size",
			Help: "Current number of events retained in the event bus history ring.",
		},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal, JobRetriesTotal, QueueDepth, JobDuration, EventsPublishedTotal, HistorySize)
}

package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth and QueueDLQSize are refreshed by Inspector.Stats.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_ready_tasks",
		Help: "Tasks waiting in the ready set per kind.",
	}, []string{"kind"})

	QueueDLQSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_dead_tasks",
		Help: "Tasks parked in the dead letter list per kind.",
	}, []string{"kind"})

	// QueueProcessedTotal counts handler outcomes: ok, retry or dead.
	QueueProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_tasks_processed_total",
		Help: "Task handler outcomes per kind.",
	}, []string{"kind", "status"})

	QueueTaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_task_duration_seconds",
		Help:    "Handler run time per kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

func countProcessed(kind, status string) {
	QueueProcessedTotal.WithLabelValues(kind, status).Inc()
}

func observeDuration(kind string, start time.Time) {
	QueueTaskDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

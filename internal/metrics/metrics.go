// Package metrics exposes Prometheus collectors for background jobs and the
// idle bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AppMana/golobulus/internal/model"
)

var (
	jobsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "golob_jobs_started_total",
			Help: "Total number of background render jobs started.",
		},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golob_jobs_finished_total",
			Help: "Total number of background render jobs that reached a terminal status.",
		},
		[]string{"status"},
	)

	activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "golob_active_jobs",
			Help: "Number of jobs currently present in the job registry.",
		},
	)

	framesRendered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "golob_frames_rendered_total",
			Help: "Total number of frames rendered by background jobs.",
		},
	)

	frameDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golob_frame_duration_seconds",
			Help:    "Script execution time per frame, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	idleTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golob_idle_tick_duration_seconds",
			Help:    "Time spent inside one idle bridge tick, in seconds.",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
	)

	idleBundles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "golob_idle_bundles",
			Help: "Number of job progress snapshots cached on the main thread.",
		},
	)

	debugRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golob_debug_entries_recorded_total",
			Help: "Total number of debug entries recorded, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(jobsStarted)
	prometheus.MustRegister(jobsFinished)
	prometheus.MustRegister(activeJobs)
	prometheus.MustRegister(framesRendered)
	prometheus.MustRegister(frameDuration)
	prometheus.MustRegister(idleTickDuration)
	prometheus.MustRegister(idleBundles)
	prometheus.MustRegister(debugRecorded)

	// Pre-initialize label combinations so they appear with value 0.
	for _, s := range []string{model.StatusCompleted, model.StatusCancelled, model.StatusFailed} {
		jobsFinished.WithLabelValues(s)
	}
}

// JobStarted records a job entering the registry.
func JobStarted() {
	jobsStarted.Inc()
	activeJobs.Inc()
}

// JobFinished records a job leaving the registry in the given status.
func JobFinished(status string) {
	jobsFinished.WithLabelValues(status).Inc()
	activeJobs.Dec()
}

// FrameRendered records one successfully rendered frame.
func FrameRendered(d time.Duration) {
	framesRendered.Inc()
	frameDuration.Observe(d.Seconds())
}

// IdleTick records the duration of one idle tick and the cache size after it.
func IdleTick(d time.Duration, bundles int) {
	idleTickDuration.Observe(d.Seconds())
	idleBundles.Set(float64(bundles))
}

// DebugRecorded counts a debug entry of the given kind.
func DebugRecorded(kind string) {
	debugRecorded.WithLabelValues(kind).Inc()
}

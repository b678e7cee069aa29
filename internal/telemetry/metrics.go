package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Submitted          = prometheus.NewCounter(prometheus.CounterOpts{Name: "recognitions_submitted_total", Help: "Jobs accepted by the recognition service"})
	SubmitFailures     = prometheus.NewCounter(prometheus.CounterOpts{Name: "recognitions_submit_failures_total", Help: "Submissions rejected or failed upstream"})
	Completed          = prometheus.NewCounter(prometheus.CounterOpts{Name: "recognitions_completed_total", Help: "Jobs that reached Completed"})
	Failed             = prometheus.NewCounter(prometheus.CounterOpts{Name: "recognitions_failed_total", Help: "Jobs that reached Error"})
	TimedOut           = prometheus.NewCounter(prometheus.CounterOpts{Name: "recognitions_timeout_total", Help: "Jobs that exhausted their poll budget"})
	PollRequests       = prometheus.NewCounter(prometheus.CounterOpts{Name: "recognition_polls_total", Help: "Status polls issued upstream"})
	SyncRetries        = prometheus.NewCounter(prometheus.CounterOpts{Name: "recognition_sync_retries_total", Help: "Synchronous recognition retries"})
	PersistenceWarning = prometheus.NewCounter(prometheus.CounterOpts{Name: "recognition_persistence_warnings_total", Help: "Task store writes that failed"})
	ArchiveWarning     = prometheus.NewCounter(prometheus.CounterOpts{Name: "recognition_archive_warnings_total", Help: "Artifact writes that failed"})
	InFlightGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "recognitions_inflight", Help: "Jobs currently being polled"})
	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "recognition_poll_queue_depth", Help: "Jobs waiting for a poll worker"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Submitted,
			SubmitFailures,
			Completed,
			Failed,
			TimedOut,
			PollRequests,
			SyncRetries,
			PersistenceWarning,
			ArchiveWarning,
			InFlightGauge,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}

// Package metrics exports preemption handling as Prometheus metrics written to
// a node-exporter textfile. Batch jobs have no scrape endpoint; the textfile
// collector picks the file up from the node.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/preempt"
)

const namespace = "preempt"

// Recorder collects handler events. It implements preempt.Observer.
type Recorder struct {
	registry *prometheus.Registry

	signals         *prometheus.CounterVec
	requeues        *prometheus.CounterVec
	requeueFailures *prometheus.CounterVec
	requeueLatency  prometheus.Histogram
	lastSignal      *prometheus.GaugeVec
	restartCount    prometheus.Gauge
	workloadExit    prometheus.Gauge
}

// NewRecorder creates a recorder on its own registry. Labels are attached
// to every series (job_id, array_task).
func NewRecorder(labels prometheus.Labels) *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.signals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "signals_total",
		Help:        "Scheduler signals handled, by kind",
		ConstLabels: labels,
	}, []string{"kind"})

	r.requeues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "requeue_total",
		Help:        "Requeue requests, by result",
		ConstLabels: labels,
	}, []string{"result"})

	r.requeueFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "requeue_failures_total",
		Help:        "Failed requeue requests, by failure code",
		ConstLabels: labels,
	}, []string{"code"})

	r.requeueLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "requeue_duration_seconds",
		Help:        "Time from warning to requeue answer",
		ConstLabels: labels,
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	r.lastSignal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "last_signal_timestamp_seconds",
		Help:        "Unix time of the last handled signal, by kind",
		ConstLabels: labels,
	}, []string{"kind"})

	r.restartCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "restart_count",
		Help:        "Times the scheduler has restarted this job",
		ConstLabels: labels,
	})

	r.workloadExit = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "workload_exit_code",
		Help:        "Exit code of the workload, -1 while running",
		ConstLabels: labels,
	})
	r.workloadExit.Set(-1)

	r.registry.MustRegister(
		r.signals,
		r.requeues,
		r.requeueFailures,
		r.requeueLatency,
		r.lastSignal,
		r.restartCount,
		r.workloadExit,
	)
	return r
}

// Registry returns the recorder's registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe implements preempt.Observer
func (r *Recorder) Observe(ev preempt.Event) {
	r.signals.WithLabelValues(string(ev.Kind)).Inc()
	if !ev.At.IsZero() {
		r.lastSignal.WithLabelValues(string(ev.Kind)).Set(float64(ev.At.UnixNano()) / float64(time.Second))
	}

	if ev.Action != preempt.ActionRequeue {
		return
	}
	r.requeueLatency.Observe(ev.Duration.Seconds())
	if ev.Err != nil {
		r.requeues.WithLabelValues("failed").Inc()
		r.requeueFailures.WithLabelValues(string(preempt.ClassifyFailure(ev.Err).Code)).Inc()
		return
	}
	r.requeues.WithLabelValues("requested").Inc()
}

// SetRestartCount records SLURM_RESTART_COUNT
func (r *Recorder) SetRestartCount(n int) {
	r.restartCount.Set(float64(n))
}

// SetWorkloadExit records the workload's exit code
func (r *Recorder) SetWorkloadExit(code int) {
	r.workloadExit.Set(float64(code))
}

// WriteTextfile writes all metrics to path atomically, for the node exporter
// textfile collector
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "create metrics directory for %s", path)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}

// TextfileWriter rewrites the textfile after every event. Register it after
// the Recorder so the file includes the event.
type TextfileWriter struct {
	Recorder *Recorder
	Path     string
	Log      *zap.SugaredLogger
}

// Observe implements preempt.Observer
func (w *TextfileWriter) Observe(preempt.Event) {
	if err := w.Recorder.WriteTextfile(w.Path); err != nil && w.Log != nil {
		w.Log.Warnw("Failed to write metrics textfile", "error", err)
	}
}

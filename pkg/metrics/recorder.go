// Package metrics exposes sampling measurements as Prometheus collectors.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "memwatch"

// Recorder owns a private registry with the sampler's collectors. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	ticks     prometheus.Counter
	skipped   prometheus.Counter
	dropped   prometheus.Counter
	processes prometheus.Gauge
	rss       prometheus.Gauge
	peak      prometheus.Gauge
}

// NewRecorder registers the collectors, labelling every series with constLabels.
func NewRecorder(constLabels prometheus.Labels) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Snapshots applied to the job statistics.", ConstLabels: constLabels,
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_skipped_total",
			Help: "Ticks skipped because the process table could not be read.", ConstLabels: constLabels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_dropped_total",
			Help: "Malformed process records dropped by the snapshot source.", ConstLabels: constLabels,
		}),
		processes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "job_processes",
			Help: "Processes in the job at the last tick.", ConstLabels: constLabels,
		}),
		rss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "job_rss_kib",
			Help: "Total resident memory of the job at the last tick, in KiB.", ConstLabels: constLabels,
		}),
		peak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "job_peak_rss_kib",
			Help: "Highest total resident memory of the job so far, in KiB.", ConstLabels: constLabels,
		}),
	}
	r.registry.MustRegister(r.ticks, r.skipped, r.dropped, r.processes, r.rss, r.peak)
	return r
}

func (r *Recorder) TickApplied(totalKiB uint64, members int, peakKiB uint64) {
	if r == nil {
		return
	}
	r.ticks.Inc()
	r.processes.Set(float64(members))
	r.rss.Set(float64(totalKiB))
	r.peak.Set(float64(peakKiB))
}

func (r *Recorder) TickSkipped() {
	if r == nil {
		return
	}
	r.skipped.Inc()
}

func (r *Recorder) RecordsDropped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.dropped.Add(float64(n))
}

// Registry exposes the collectors, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// WriteTextfile writes every series to path in the text exposition format
// read by node-exporter's textfile collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

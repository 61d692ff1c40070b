// Package metrics – Prometheus counters and gauges for the upload daemon.
//
// # Overview
//
// Metrics tracks what the watcher saw and what the daemon did with it. All
// fields are updated atomically so they can be read from an HTTP handler
// without any additional lock.
//
// # Prometheus text format
//
// Handler returns an [net/http.Handler] that serves the metrics in the
// Prometheus text exposition format:
//
//	m := metrics.New()
//	r.Handle("/metrics", m.Handler())
//
// # Metric catalogue
//
//	uploadd_raw_events_total{kind}      – counter: raw notifications seen, by kind
//	uploadd_dispatched_events_total     – counter: write-close events handed to sinks
//	uploadd_backend_errors_total        – counter: errors reported by the watch backend
//	uploadd_sink_errors_total           – counter: sink Handle calls that failed
//	uploadd_stream_dropped_frames_total – counter: frames dropped for slow stream clients
//	uploadd_watched_dirs                – gauge:   directories currently watched
//	uploadd_stream_clients              – gauge:   connected event-stream clients
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/ncsync/uploadd/internal/watcher"
)

// Metrics holds all counters and gauges. The zero value is ready to use.
type Metrics struct {
	// Counters
	RawEvents        [watcherKinds]atomic.Int64
	DispatchedEvents atomic.Int64
	BackendErrors    atomic.Int64
	SinkErrors       atomic.Int64
	DroppedFrames    atomic.Int64

	// Gauges
	WatchedDirs   atomic.Int64
	StreamClients atomic.Int64
}

// watcherKinds bounds the RawEvents array. Kinds outside it are counted as
// watcher.KindOther.
const watcherKinds = 16

// New allocates a Metrics value with all counters at zero.
func New() *Metrics {
	return &Metrics{}
}

// ObserveRaw counts one raw notification. Its signature matches
// watcher.WithRawObserver.
func (m *Metrics) ObserveRaw(e watcher.RawEvent) {
	k := int(e.Kind)
	if k >= watcherKinds {
		k = int(watcher.KindOther)
	}
	m.RawEvents[k].Add(1)
}

// RawCount returns the number of raw notifications seen of kind k.
func (m *Metrics) RawCount(k watcher.Kind) int64 {
	if int(k) >= watcherKinds {
		return 0
	}
	return m.RawEvents[k].Load()
}

// metricLine is a single metric family descriptor plus its samples.
type metricLine struct {
	help    string
	kind    string // "counter" or "gauge"
	name    string
	samples []sample
}

type sample struct {
	labels string // rendered label set, e.g. `kind="create"`, or ""
	value  int64
}

func single(v int64) []sample { return []sample{{value: v}} }

// snapshot captures the current values of all metrics in a consistent order.
func (m *Metrics) snapshot() []metricLine {
	kinds := watcher.Kinds()
	raw := make([]sample, 0, len(kinds))
	for _, k := range kinds {
		raw = append(raw, sample{
			labels: fmt.Sprintf("kind=%q", k.String()),
			value:  m.RawCount(k),
		})
	}

	return []metricLine{
		{
			help:    "Total number of raw filesystem notifications received, by kind.",
			kind:    "counter",
			name:    "uploadd_raw_events_total",
			samples: raw,
		},
		{
			help:    "Total number of write-close events dispatched to sinks.",
			kind:    "counter",
			name:    "uploadd_dispatched_events_total",
			samples: single(m.DispatchedEvents.Load()),
		},
		{
			help:    "Total number of errors reported by the watch backend.",
			kind:    "counter",
			name:    "uploadd_backend_errors_total",
			samples: single(m.BackendErrors.Load()),
		},
		{
			help:    "Total number of sink Handle calls that returned an error.",
			kind:    "counter",
			name:    "uploadd_sink_errors_total",
			samples: single(m.SinkErrors.Load()),
		},
		{
			help:    "Total number of event-stream frames dropped because a client buffer was full.",
			kind:    "counter",
			name:    "uploadd_stream_dropped_frames_total",
			samples: single(m.DroppedFrames.Load()),
		},
		{
			help:    "Number of directories currently watched.",
			kind:    "gauge",
			name:    "uploadd_watched_dirs",
			samples: single(m.WatchedDirs.Load()),
		},
		{
			help:    "Number of connected event-stream clients.",
			kind:    "gauge",
			name:    "uploadd_stream_clients",
			samples: single(m.StreamClients.Load()),
		},
	}
}

// Handler returns an [http.Handler] that writes all metrics in the
// Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		writeMetrics(w, m.snapshot())
	})
}

func writeMetrics(w io.Writer, lines []metricLine) {
	for _, l := range lines {
		fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.kind)
		for _, s := range l.samples {
			if s.labels == "" {
				fmt.Fprintf(w, "%s %d\n", l.name, s.value)
				continue
			}
			fmt.Fprintf(w, "%s{%s} %d\n", l.name, s.labels, s.value)
		}
	}
}

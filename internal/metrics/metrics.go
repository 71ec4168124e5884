package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "disclosurelog"

// Metrics groups the collectors shared by the store and the HTTP server.
type Metrics struct {
	EntriesAppended prometheus.Counter
	BytesAppended   prometheus.Counter
	AppendErrors    prometheus.Counter
	CorruptLines    prometheus.Counter
	FilesDeleted    *prometheus.CounterVec
	StreamClients   prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg.
// A nil reg leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "entries_appended_total",
			Help: "Total number of log entries appended.",
		}),
		BytesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "bytes_appended_total",
			Help: "Total number of bytes appended to log files.",
		}),
		AppendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "append_errors_total",
			Help: "Total number of failed appends.",
		}),
		CorruptLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "corrupt_lines_skipped_total",
			Help: "Lines skipped while reading because they are not valid JSON.",
		}),
		FilesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "files_deleted_total",
			Help: "Log files removed, by reason.",
		}, []string{"reason"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stream", Name: "clients",
			Help: "Connected live stream clients.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EntriesAppended,
			m.BytesAppended,
			m.AppendErrors,
			m.CorruptLines,
			m.FilesDeleted,
			m.StreamClients,
			m.RequestDuration,
		)
	}
	return m
}

// Package metrics exposes Prometheus counters for the adapter: requests by
// method, errors by status code, bytes received, and upload lifecycle
// transitions. A Metrics value is created once per Meteoritus instance and
// registered with whatever prometheus.Registerer the host application uses.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters updated by the adapter while serving requests.
// All fields are safe for concurrent use, as every prometheus.Counter and
// CounterVec already is.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	BytesReceived     prometheus.Counter
	UploadsCreated    prometheus.Counter
	UploadsFinished   prometheus.Counter
	UploadsTerminated prometheus.Counter
}

// New constructs an unregistered Metrics value with the given namespace
// prefixed to every metric name (e.g. "meteoritus" yields
// "meteoritus_requests_total").
func New(namespace string) *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of requests handled, by HTTP method.",
		}, []string{"method"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Number of error responses returned, by HTTP status code.",
		}, []string{"code"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes accepted across all PATCH requests.",
		}),
		UploadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_created_total",
			Help:      "Number of uploads created via POST.",
		}),
		UploadsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_finished_total",
			Help:      "Number of uploads that reached Completed.",
		}),
		UploadsTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_terminated_total",
			Help:      "Number of uploads removed, via DELETE or automatic termination after completion.",
		}),
	}
}

// MustRegister registers every collector in m with reg, panicking on
// collision just as prometheus.MustRegister does.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.RequestsTotal,
		m.ErrorsTotal,
		m.BytesReceived,
		m.UploadsCreated,
		m.UploadsFinished,
		m.UploadsTerminated,
	)
}

// IncRequest increments the per-method request counter.
func (m *Metrics) IncRequest(method string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method).Inc()
}

// IncError increments the per-status-code error counter.
func (m *Metrics) IncError(statusCode int) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// AddBytesReceived adds delta to the cumulative bytes-received counter.
func (m *Metrics) AddBytesReceived(delta uint64) {
	if m == nil {
		return
	}
	m.BytesReceived.Add(float64(delta))
}

// IncUploadsCreated increments the uploads-created counter.
func (m *Metrics) IncUploadsCreated() {
	if m == nil {
		return
	}
	m.UploadsCreated.Inc()
}

// IncUploadsFinished increments the uploads-finished counter.
func (m *Metrics) IncUploadsFinished() {
	if m == nil {
		return
	}
	m.UploadsFinished.Inc()
}

// IncUploadsTerminated increments the uploads-terminated counter.
func (m *Metrics) IncUploadsTerminated() {
	if m == nil {
		return
	}
	m.UploadsTerminated.Inc()
}

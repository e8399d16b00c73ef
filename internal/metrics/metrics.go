// Package metrics provides Prometheus-based recording for conversation and upload activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives bot activity events.
type Recorder interface {
	// ObserveUploadAttempt records one strategy attempt and its outcome.
	ObserveUploadAttempt(strategy, outcome string, duration time.Duration)
	// IncEvent counts an inbound event handled in state.
	IncEvent(state, kind string)
	// IncReportSubmitted counts a report row appended to the sheet.
	IncReportSubmitted(reportType string)
	// IncCancelled counts a conversation ended before submission.
	IncCancelled(reason string)
	// IncSwept counts sessions removed by the idle sweeper.
	IncSwept(n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveUploadAttempt(string, string, time.Duration) {}
func (Nop) IncEvent(string, string)                             {}
func (Nop) IncReportSubmitted(string)                           {}
func (Nop) IncCancelled(string)                                 {}
func (Nop) IncSwept(int)                                        {}

// PrometheusRecorder implements Recorder on a private registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	uploadAttempts *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	events         *prometheus.CounterVec
	submitted      *prometheus.CounterVec
	cancelled      *prometheus.CounterVec
	swept          prometheus.Counter
}

// NewPrometheusRecorder creates a recorder with Go and process collectors registered.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		uploadAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laporan_upload_attempts_total",
				Help: "Photo upload attempts by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		uploadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "laporan_upload_attempt_duration_seconds",
				Help:    "Duration of photo upload attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laporan_events_total",
				Help: "Inbound conversation events by state and kind",
			},
			[]string{"state", "kind"},
		),
		submitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laporan_reports_submitted_total",
				Help: "Reports appended to the spreadsheet",
			},
			[]string{"report_type"},
		),
		cancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laporan_sessions_cancelled_total",
				Help: "Conversations ended without submission",
			},
			[]string{"reason"},
		),
		swept: factory.NewCounter(prometheus.CounterOpts{
			Name: "laporan_sessions_swept_total",
			Help: "Idle sessions removed by the sweeper",
		}),
	}
}

func (p *PrometheusRecorder) ObserveUploadAttempt(strategy, outcome string, duration time.Duration) {
	p.uploadAttempts.WithLabelValues(strategy, outcome).Inc()
	p.uploadDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncEvent(state, kind string) {
	p.events.WithLabelValues(state, kind).Inc()
}

func (p *PrometheusRecorder) IncReportSubmitted(reportType string) {
	p.submitted.WithLabelValues(reportType).Inc()
}

func (p *PrometheusRecorder) IncCancelled(reason string) {
	p.cancelled.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncSwept(n int) {
	p.swept.Add(float64(n))
}

// Registry exposes the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

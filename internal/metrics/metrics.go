// Package metrics provides Prometheus instrumentation for the chat room. It
// exposes a gauge for present participants, counters for registrations,
// messages and evictions, and histograms for reaper and HTTP latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Participants tracks the number of present participants as of the last
	// reaper cycle, adjusted by registrations in between.
	Participants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatroom_participants",
		Help: "Current number of registered participants",
	})

	// RegistrationsTotal counts registration attempts by outcome.
	RegistrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatroom_registrations_total",
		Help: "Total number of registration attempts",
	}, []string{"result"}) // result = "ok", "conflict", "invalid", "error"

	// MessagesTotal counts stored messages, labeled by message type.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatroom_messages_total",
		Help: "Total number of messages stored",
	}, []string{"type"}) // type = "status", "message", "private_message"

	// EvictionsTotal counts participants removed by the reaper.
	EvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatroom_evictions_total",
		Help: "Total number of participants evicted for inactivity",
	})

	// ReaperCycleDuration records how long one reaper sweep takes.
	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatroom_reaper_cycle_seconds",
		Help:    "Duration of one presence reaper sweep in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ReaperErrorsTotal counts reaper sweeps that failed.
	ReaperErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatroom_reaper_errors_total",
		Help: "Total number of failed presence reaper sweeps",
	})

	// HTTPRequestsTotal counts API requests by route pattern and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatroom_http_requests_total",
		Help: "Total number of HTTP requests handled",
	}, []string{"route", "code"})

	// HTTPRequestDuration records API latency by route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatroom_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(
		Participants,
		RegistrationsTotal,
		MessagesTotal,
		EvictionsTotal,
		ReaperCycleDuration,
		ReaperErrorsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

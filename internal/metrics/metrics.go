// Package metrics holds the prometheus collectors of the oracle node.
//
// Every method is safe to call on a nil *Metrics, so components run
// unchanged when metrics are not wired.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeJamon/goOracled/internal/ledger"
)

// Outcome labels
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	registrations        *prometheus.CounterVec
	registeredActors     prometheus.Gauge
	requestEvents        prometheus.Counter
	redeliveries         prometheus.Counter
	submissions          *prometheus.CounterVec
	submissionDuration   prometheus.Histogram
	subscriptionFailures prometheus.Counter
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_registrations_total",
				Help: "Oracle registration attempts by outcome",
			},
			[]string{"outcome"},
		),
		registeredActors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oracle_registered_actors",
				Help: "Oracles registered by this node",
			},
		),
		requestEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oracle_request_events_total",
				Help: "Oracle request deliveries received from the ledger",
			},
		),
		redeliveries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oracle_request_redeliveries_total",
				Help: "Deliveries repeating a request already seen",
			},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_submissions_total",
				Help: "Oracle response submissions by outcome",
			},
			[]string{"outcome"},
		),
		submissionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oracle_submission_duration_seconds",
				Help:    "Duration of oracle response submissions",
				Buckets: prometheus.DefBuckets,
			},
		),
		subscriptionFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oracle_subscription_failures_total",
				Help: "Failures to open or keep the oracle request subscription",
			},
		),
	}

	m.registry.MustRegister(
		m.registrations,
		m.registeredActors,
		m.requestEvents,
		m.redeliveries,
		m.submissions,
		m.submissionDuration,
		m.subscriptionFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRegistration(err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(Classify(err)).Inc()
}

func (m *Metrics) SetRegisteredActors(n int) {
	if m == nil {
		return
	}
	m.registeredActors.Set(float64(n))
}

func (m *Metrics) ObserveRequestEvent() {
	if m == nil {
		return
	}
	m.requestEvents.Inc()
}

func (m *Metrics) ObserveRedelivery() {
	if m == nil {
		return
	}
	m.redeliveries.Inc()
}

func (m *Metrics) ObserveSubmission(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(Classify(err)).Inc()
	m.submissionDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSubscriptionFailure() {
	if m == nil {
		return
	}
	m.subscriptionFailures.Inc()
}

// Classify maps a ledger call result onto an outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeAccepted
	case ledger.IsRejection(err):
		return OutcomeRejected
	case errors.Is(err, ledger.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

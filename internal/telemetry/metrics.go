package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

const namespace = "livequiz"

type MetricsConfig struct {
	Registerer prometheus.Registerer
	EventBus   *event.Bus
	// Connections reports the number of open client connections, if set.
	Connections func() int
}

// Metrics counts live session activity from the domain events on the bus.
type Metrics struct {
	SessionsActive prometheus.Gauge
	SessionsEnded  *prometheus.CounterVec
	Events         *prometheus.CounterVec
	Answers        *prometheus.CounterVec
}

func NewMetrics(c MetricsConfig) (*Metrics, error) {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live sessions not yet ended.",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Number of ended live sessions by reason.",
		}, []string{"reason"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Number of live session events by name.",
		}, []string{"event"}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Number of accepted answers by correctness.",
		}, []string{"correct"}),
	}

	collectors := []prometheus.Collector{m.SessionsActive, m.SessionsEnded, m.Events, m.Answers}
	if c.Connections != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open client connections.",
		}, func() float64 { return float64(c.Connections()) }))
	}
	for _, col := range collectors {
		if err := c.Registerer.Register(col); err != nil {
			return nil, err
		}
	}

	event.Handle(c.EventBus, func(_ context.Context, e domain.EventSessionCreated) error {
		m.SessionsActive.Inc()
		m.Events.WithLabelValues(e.Name()).Inc()
		return nil
	})
	event.Handle(c.EventBus, func(_ context.Context, e domain.EventParticipantJoined) error {
		m.Events.WithLabelValues(e.Name()).Inc()
		return nil
	})
	event.Handle(c.EventBus, func(_ context.Context, e domain.EventQuestionSent) error {
		m.Events.WithLabelValues(e.Name()).Inc()
		return nil
	})
	event.Handle(c.EventBus, func(_ context.Context, e domain.EventAnswerScored) error {
		m.Events.WithLabelValues(e.Name()).Inc()
		if e.Correct {
			m.Answers.WithLabelValues("true").Inc()
		} else {
			m.Answers.WithLabelValues("false").Inc()
		}
		return nil
	})
	event.Handle(c.EventBus, func(_ context.Context, e domain.EventSessionEnded) error {
		m.SessionsActive.Dec()
		m.SessionsEnded.WithLabelValues(e.Reason).Inc()
		m.Events.WithLabelValues(e.Name()).Inc()
		return nil
	})

	return m, nil
}

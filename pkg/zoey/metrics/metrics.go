// Package metrics exposes Prometheus collectors for reminder dispatch, flow
// sessions and inbound traffic.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zoey"

// Metrics implements scheduler.DispatchObserver and flow.Observer.
type Metrics struct {
	reminders     *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	remindersDue  prometheus.Gauge
	flowsStarted  *prometheus.CounterVec
	flowsFinished *prometheus.CounterVec
	messages      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "reminders_total",
			Help:      "Reminders handled by the dispatcher, by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of dispatch cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		remindersDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "reminders_due_last_cycle",
			Help:      "Reminders found due in the last cycle.",
		}),
		flowsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "started_total",
			Help:      "Flow sessions started, by variant.",
		}, []string{"variant"}),
		flowsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "finished_total",
			Help:      "Flow sessions finished, by variant and outcome.",
		}, []string{"variant", "outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "messages_received_total",
			Help:      "Inbound messages, by channel and type.",
		}, []string{"channel", "type"}),
	}

	var err error
	if m.reminders, err = register(reg, m.reminders); err != nil {
		return nil, err
	}
	if m.cycleDuration, err = register(reg, m.cycleDuration); err != nil {
		return nil, err
	}
	if m.remindersDue, err = register(reg, m.remindersDue); err != nil {
		return nil, err
	}
	if m.flowsStarted, err = register(reg, m.flowsStarted); err != nil {
		return nil, err
	}
	if m.flowsFinished, err = register(reg, m.flowsFinished); err != nil {
		return nil, err
	}
	if m.messages, err = register(reg, m.messages); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, returning the existing collector when an identical
// one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ReminderDelivered counts a delivered reminder.
func (m *Metrics) ReminderDelivered() { m.reminders.WithLabelValues("delivered").Inc() }

// ReminderFailed counts a failed delivery.
func (m *Metrics) ReminderFailed() { m.reminders.WithLabelValues("failed").Inc() }

// ReminderDeadLettered counts a reminder moved to the dead-letter table.
func (m *Metrics) ReminderDeadLettered() { m.reminders.WithLabelValues("dead_lettered").Inc() }

// CycleCompleted records one dispatch cycle.
func (m *Metrics) CycleCompleted(due int, elapsed time.Duration) {
	m.remindersDue.Set(float64(due))
	m.cycleDuration.Observe(elapsed.Seconds())
}

// FlowStarted counts a started flow.
func (m *Metrics) FlowStarted(variant string) { m.flowsStarted.WithLabelValues(variant).Inc() }

// FlowFinished counts a finished flow.
func (m *Metrics) FlowFinished(variant, outcome string) {
	m.flowsFinished.WithLabelValues(variant, outcome).Inc()
}

// MessageReceived counts an inbound message.
func (m *Metrics) MessageReceived(channel, kind string) {
	m.messages.WithLabelValues(channel, kind).Inc()
}

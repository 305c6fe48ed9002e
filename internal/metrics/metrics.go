// Package metrics exposes Prometheus counters fed from the event bus.
package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/task/engine"
	"remindbot/internal/tracker"
)

const namespace = "remindbot"

type Metrics struct {
	notifications *prometheus.CounterVec
	sendSeconds   *prometheus.HistogramVec
	decisions     *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	tasks         *prometheus.CounterVec
	taskSeconds   *prometheus.HistogramVec
	lastDecision  *prometheus.GaugeVec
	busDropped    prometheus.CounterFunc
}

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, busDropped func() uint64) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if busDropped == nil {
		busDropped = func() uint64 { return 0 }
	}
	m := &Metrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by kind and result.",
		}, []string{"kind", "result"}),
		sendSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_send_seconds",
			Help:      "Transport latency of notification sends.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Tracker decisions by operation, action and reason.",
		}, []string{"op", "action", "reason"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Durable store failures by operation.",
		}, []string{"op"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Scheduled task outcomes by name and status.",
		}, []string{"name", "status"}),
		taskSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Run time of scheduled tasks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"}),
		lastDecision: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_decision_timestamp_seconds",
			Help:      "Unix time of the most recent decision per operation.",
		}, []string{"op"}),
		busDropped: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Events dropped because a subscriber was full.",
		}, func() float64 { return float64(busDropped()) }),
	}
	for _, c := range []prometheus.Collector{m.notifications, m.sendSeconds, m.decisions, m.storeErrors, m.tasks, m.taskSeconds, m.lastDecision, m.busDropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Run consumes events until ctx is canceled.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// Observe updates counters for one event. Unknown events are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch data := e.Data.(type) {
	case tracker.Decision:
		m.decisions.WithLabelValues(string(data.Op), string(data.Action), norm(string(data.Reason))).Inc()
		at := e.Time
		if at.IsZero() {
			at = time.Now()
		}
		m.lastDecision.WithLabelValues(string(data.Op)).Set(float64(at.Unix()))
	case tracker.StoreError:
		m.storeErrors.WithLabelValues(norm(data.Op)).Inc()
	case notifier.NotificationEvent:
		result := "ok"
		if !data.OK() {
			result = "error"
		}
		m.notifications.WithLabelValues(data.Kind.String(), result).Inc()
		m.sendSeconds.WithLabelValues(data.Kind.String()).Observe(data.Duration.Seconds())
	case engine.TaskEvent:
		status := taskStatus(e.Type)
		if status == "" {
			return
		}
		m.tasks.WithLabelValues(data.Name, status).Inc()
		if status == "ok" || status == "error" {
			m.taskSeconds.WithLabelValues(data.Name).Observe(data.Duration.Seconds())
		}
	}
}

func taskStatus(typ string) string {
	switch typ {
	case eventbus.TaskFinished:
		return "ok"
	case eventbus.TaskFailed:
		return "error"
	case eventbus.TaskSkipped:
		return "skipped"
	case eventbus.TaskDropped:
		return "dropped"
	default:
		return ""
	}
}

func norm(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "none"
	}
	return s
}

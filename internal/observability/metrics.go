package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the daemon.
type Metrics struct {
	RunningTasks   prometheus.Gauge
	SlotsInUse     prometheus.Gauge
	SlotsWaiting   prometheus.Gauge
	TaskEvents     *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	PollDuration   prometheus.Histogram
	TaskDuration   prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RunningTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_tasks",
			Help:      "Number of sub-agent tasks currently running.",
		}),
		SlotsInUse: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_slots_in_use",
			Help:      "Concurrency slots currently granted.",
		}),
		SlotsWaiting: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_slots_waiting",
			Help:      "Launch requests queued for a concurrency slot.",
		}),
		TaskEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by type.",
		}, []string{"event"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Execution context provider errors by operation.",
		}, []string{"op"}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_tick_duration_ms",
			Help:      "Duration of one completion-detector poll tick in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		TaskDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time from task start to terminal state in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}
}

func (m *Metrics) ObserveTaskEvent(event string) {
	if m == nil {
		return
	}
	m.TaskEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveProviderError(op string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObservePollTick(d time.Duration) {
	if m == nil {
		return
	}
	m.PollDuration.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveTaskDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.TaskDuration.Observe(d.Seconds())
}

func (m *Metrics) SetSlots(inUse, waiting int) {
	if m == nil {
		return
	}
	m.SlotsInUse.Set(float64(inUse))
	m.SlotsWaiting.Set(float64(waiting))
}

func (m *Metrics) SetRunningTasks(n int) {
	if m == nil {
		return
	}
	m.RunningTasks.Set(float64(n))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

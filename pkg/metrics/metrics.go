package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TaskMetrics surfaces the async pipeline to operators; exhausted tasks are
// an operational alert, never a user-facing failure.
type TaskMetrics struct {
	Attempts  *prometheus.CounterVec
	Exhausted *prometheus.CounterVec
	Orders    prometheus.Counter
}

func NewTaskMetrics(reg prometheus.Registerer) *TaskMetrics {
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderflow",
		Subsystem: "tasks",
		Name:      "attempts_total",
		Help:      "Task execution attempts by kind and result.",
	}, []string{"kind", "result"})
	exhausted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderflow",
		Subsystem: "tasks",
		Name:      "exhausted_total",
		Help:      "Tasks that failed all retry attempts.",
	}, []string{"kind"})
	orders := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orderflow",
		Subsystem: "orders",
		Name:      "created_total",
		Help:      "Successfully committed orders.",
	})

	reg.MustRegister(attempts, exhausted, orders)
	return &TaskMetrics{Attempts: attempts, Exhausted: exhausted, Orders: orders}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

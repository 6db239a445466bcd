package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "barberbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	availabilityRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_requests_total",
			Help:      "Availability resolutions by kind (single, batch) and result.",
		},
		[]string{"kind", "result"},
	)

	waitlistTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waitlist_transitions_total",
			Help:      "Waitlist entry transitions by target status.",
		},
		[]string{"status"},
	)

	reconcileUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_units_total",
			Help:      "Reconciled (barber, date) units by action.",
		},
		[]string{"action"},
	)

	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation passes by result.",
		},
		[]string{"result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			availabilityRequests,
			waitlistTransitions,
			reconcileUnits,
			reconcileRuns,
			notifications,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncAvailability(kind, result string) {
	availabilityRequests.WithLabelValues(kind, result).Inc()
}

func IncWaitlist(status string) {
	waitlistTransitions.WithLabelValues(status).Inc()
}

func IncReconcileUnit(action string) {
	reconcileUnits.WithLabelValues(action).Inc()
}

func AddReconcileUnits(action string, n int) {
	if n > 0 {
		reconcileUnits.WithLabelValues(action).Add(float64(n))
	}
}

func IncReconcileRun(result string) {
	reconcileRuns.WithLabelValues(result).Inc()
}

func IncNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}

// Result maps an error to a "ok"/"error" label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

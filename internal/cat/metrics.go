package cat

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	attemptsStarted    prometheus.Counter
	attemptsCompleted  *prometheus.CounterVec
	answers            *prometheus.CounterVec
	estimationWarnings prometheus.Counter
	itemsAdministered  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attemptsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "cat_attempts_started_total",
			Help: "Total adaptive test attempts started",
		}),
		attemptsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cat_attempts_completed_total",
			Help: "Total attempts finalized by stop reason",
		}, []string{"reason"}),
		answers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cat_answers_total",
			Help: "Total accepted answers by correctness",
		}, []string{"correct"}),
		estimationWarnings: f.NewCounter(prometheus.CounterOpts{
			Name: "cat_estimation_warnings_total",
			Help: "Ability estimation rounds that kept the previous estimate",
		}),
		itemsAdministered: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cat_items_administered",
			Help:    "Items administered per completed attempt",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 50},
		}),
	}
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.attemptsStarted.Inc()
}

func (m *Metrics) answered(correct bool) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

func (m *Metrics) warned() {
	if m == nil {
		return
	}
	m.estimationWarnings.Inc()
}

func (m *Metrics) completed(reason string, administered int) {
	if m == nil {
		return
	}
	m.attemptsCompleted.WithLabelValues(reason).Inc()
	m.itemsAdministered.Observe(float64(administered))
}

package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "checkin"

// Metrics holds the keeper's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	checkins     *prometheus.CounterVec
	attempts     prometheus.Counter
	rescans      prometheus.Counter
	pendingTasks prometheus.Gauge
	gasPrice     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		checkins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Check-in executions by result.",
		}, []string{"result"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_attempts_total",
			Help:      "Transaction build and submit attempts, including retries.",
		}),
		rescans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rescans_total",
			Help:      "Full re-derivations of next eligible times from the contract.",
		}),
		pendingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_tasks",
			Help:      "Tasks waiting in the scheduler queue.",
		}),
		gasPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gas_price_wei",
			Help:      "Last cached gas price.",
		}),
	}
	m.Registry.MustRegister(
		m.checkins,
		m.attempts,
		m.rescans,
		m.pendingTasks,
		m.gasPrice,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ExecutionSucceeded() {
	if m != nil {
		m.checkins.WithLabelValues("success").Inc()
	}
}

func (m *Metrics) ExecutionFailed() {
	if m != nil {
		m.checkins.WithLabelValues("failure").Inc()
	}
}

func (m *Metrics) SubmissionAttempt() {
	if m != nil {
		m.attempts.Inc()
	}
}

func (m *Metrics) Rescan() {
	if m != nil {
		m.rescans.Inc()
	}
}

func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.pendingTasks.Set(float64(n))
	}
}

func (m *Metrics) SetGasPrice(wei *big.Int) {
	if m == nil || wei == nil {
		return
	}
	f, _ := new(big.Float).SetInt(wei).Float64()
	m.gasPrice.Set(f)
}

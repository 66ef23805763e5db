package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records the daemon's operation counters.
type Metrics struct {
	executions   *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	accruals     *prometheus.CounterVec
	priceReads   *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsReg  *Metrics
)

// NewMetrics returns the lazily-initialised counter set registered with the
// default prometheus registry.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsReg = &Metrics{
			executions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "leverbank",
				Subsystem: "bankd",
				Name:      "executions_total",
				Help:      "Total position executions segmented by spell and outcome.",
			}, []string{"spell", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "leverbank",
				Subsystem: "bankd",
				Name:      "liquidations_total",
				Help:      "Total liquidation attempts segmented by outcome.",
			}, []string{"outcome"}),
			accruals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "leverbank",
				Subsystem: "bankd",
				Name:      "accruals_total",
				Help:      "Total interest accrual runs segmented by outcome.",
			}, []string{"outcome"}),
			priceReads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "leverbank",
				Subsystem: "bankd",
				Name:      "price_reads_total",
				Help:      "Total oracle price reads segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			metricsReg.executions,
			metricsReg.liquidations,
			metricsReg.accruals,
			metricsReg.priceReads,
		)
	})
	return metricsReg
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

package metrics

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the minter's Prometheus collectors. A nil *Registry is a no-op.
type Registry struct {
	registry          *prometheus.Registry
	readinessChecks   *prometheus.CounterVec
	mintAttemptsTotal *prometheus.CounterVec
	gasPriceWei       prometheus.Gauge
	adjustedGasPrice  prometheus.Gauge
	pollerState       prometheus.Gauge
}

func NewRegistry() *Registry {
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mintwatch_readiness_checks_total",
		Help: "Readiness checks against the mint contract",
	}, []string{"result"})

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mintwatch_mint_attempts_total",
		Help: "Mint transaction attempts by outcome",
	}, []string{"result"})

	gas := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mintwatch_gas_price_wei",
		Help: "Last gas price suggested by the node",
	})

	adjusted := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mintwatch_adjusted_gas_price_wei",
		Help: "Gas price used for the last mint submission",
	})

	state := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mintwatch_poller_state",
		Help: "Poller state (0 idle, 1 polling, 2 ready, 3 cancelled, 4 exhausted)",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(checks, attempts, gas, adjusted, state)

	return &Registry{
		registry:          r,
		readinessChecks:   checks,
		mintAttemptsTotal: attempts,
		gasPriceWei:       gas,
		adjustedGasPrice:  adjusted,
		pollerState:       state,
	}
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Registry) IncReadiness(result string) {
	if m == nil {
		return
	}
	m.readinessChecks.WithLabelValues(result).Inc()
}

func (m *Registry) IncAttempt(result string) {
	if m == nil {
		return
	}
	m.mintAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *Registry) SetGasPrices(observed, adjusted *big.Int) {
	if m == nil {
		return
	}
	if observed != nil {
		f, _ := new(big.Float).SetInt(observed).Float64()
		m.gasPriceWei.Set(f)
	}
	if adjusted != nil {
		f, _ := new(big.Float).SetInt(adjusted).Float64()
		m.adjustedGasPrice.Set(f)
	}
}

func (m *Registry) SetPollerState(state int) {
	if m == nil {
		return
	}
	m.pollerState.Set(float64(state))
}

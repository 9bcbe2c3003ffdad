package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles Prometheus metrics for a simulation run and
// satisfies the engine's metrics recorder interface.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Ticks         prometheus.Counter
	TickDurations prometheus.Histogram

	NetworkEvents *prometheus.CounterVec
	Receptions    *prometheus.CounterVec
	NodeDeaths    prometheus.Counter

	NodeStates    *prometheus.GaugeVec
	BatteryCharge *prometheus.GaugeVec
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lorasim_ticks_total",
		Help: "Global ticks simulated.",
	}), "lorasim_ticks_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lorasim_tick_duration_seconds",
		Help:    "Wall-clock time spent ticking every node once.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "lorasim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lorasim_network_events_total",
		Help: "Events pushed to the global event log, labeled by medium and kind.",
	}, []string{"medium", "kind"}), "lorasim_network_events_total")
	if err != nil {
		return nil, err
	}

	receptions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lorasim_receptions_total",
		Help: "Transmissions received without collision, labeled by medium.",
	}, []string{"medium"}), "lorasim_receptions_total")
	if err != nil {
		return nil, err
	}

	deaths, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lorasim_node_deaths_total",
		Help: "Times a node ran out of energy.",
	}), "lorasim_node_deaths_total")
	if err != nil {
		return nil, err
	}

	states, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lorasim_nodes",
		Help: "Current number of nodes per power state.",
	}, []string{"state"}), "lorasim_nodes")
	if err != nil {
		return nil, err
	}

	charge, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lorasim_battery_charge_joules",
		Help: "Last sampled battery charge per node.",
	}, []string{"node"}), "lorasim_battery_charge_joules")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:      gatherer,
		Ticks:         ticks,
		TickDurations: durations,
		NetworkEvents: events,
		Receptions:    receptions,
		NodeDeaths:    deaths,
		NodeStates:    states,
		BatteryCharge: charge,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick counts one global tick and its duration.
func (c *SimCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	if c.Ticks != nil {
		c.Ticks.Inc()
	}
	if c.TickDurations != nil {
		c.TickDurations.Observe(d.Seconds())
	}
}

// RecordNetworkEvent counts one event pushed to the event log.
func (c *SimCollector) RecordNetworkEvent(medium, kind string) {
	if c == nil || c.NetworkEvents == nil {
		return
	}
	c.NetworkEvents.WithLabelValues(medium, kind).Inc()
}

// RecordReception counts one successful reception.
func (c *SimCollector) RecordReception(medium string) {
	if c == nil || c.Receptions == nil {
		return
	}
	c.Receptions.WithLabelValues(medium).Inc()
}

// RecordNodeDeath counts one node running out of energy.
func (c *SimCollector) RecordNodeDeath() {
	if c == nil || c.NodeDeaths == nil {
		return
	}
	c.NodeDeaths.Inc()
}

// SetNodeStates replaces the per-state node counts.
func (c *SimCollector) SetNodeStates(counts map[string]int) {
	if c == nil || c.NodeStates == nil {
		return
	}
	for state, n := range counts {
		c.NodeStates.WithLabelValues(state).Set(float64(n))
	}
}

// SetBatteryCharge records the sampled charge of one node.
func (c *SimCollector) SetBatteryCharge(node string, joules float64) {
	if c == nil || c.BatteryCharge == nil {
		return
	}
	c.BatteryCharge.WithLabelValues(node).Set(joules)
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

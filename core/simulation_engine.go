package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/lora-simulator/internal/logging"
	"github.com/signalsfoundry/lora-simulator/internal/simlog"
	"github.com/signalsfoundry/lora-simulator/timectrl"
)

// ErrNodeExists is returned when a node ID is registered twice.
var ErrNodeExists = errors.New("node already exists")

// MetricsRecorder receives simulation counters. The observability
// package's SimCollector satisfies it.
type MetricsRecorder interface {
	ObserveTick(d time.Duration)
	RecordNetworkEvent(medium, kind string)
	RecordReception(medium string)
	RecordNodeDeath()
	SetNodeStates(counts map[string]int)
	SetBatteryCharge(node string, joules float64)
}

// EngineStats are the running totals of one engine.
type EngineStats struct {
	Ticks         int64
	Transmissions int64
	Cancellations int64
	Receptions    int64
	Deaths        int64
}

// EngineOption configures optional engine behaviour.
type EngineOption func(*SimulationEngine)

// WithMetrics forwards counters to m.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(se *SimulationEngine) {
		se.metrics = m
	}
}

// WithRecorder writes the run's history to r.
func WithRecorder(r *simlog.Recorder) EngineOption {
	return func(se *SimulationEngine) {
		se.recorder = r
	}
}

// WithEngineLogger attaches a structured logger.
func WithEngineLogger(l logging.Logger) EngineOption {
	return func(se *SimulationEngine) {
		if l != nil {
			se.logger = l
		}
	}
}

// WithSampleInterval records battery and local clock data points every n
// ticks. Zero disables sampling.
func WithSampleInterval(n int64) EngineOption {
	return func(se *SimulationEngine) {
		if n >= 0 {
			se.sampleInterval = n
		}
	}
}

// WithTracing emits an engine.sample span per sample tick as a child of the
// span carried by parent.
func WithTracing(parent context.Context, t trace.Tracer) EngineOption {
	return func(se *SimulationEngine) {
		if parent != nil {
			se.traceParent = parent
		}
		if t != nil {
			se.tracer = t
		}
	}
}

// SimulationEngine ticks every node once per global tick, in the order
// they were added, and routes each transmission on the event log to the
// other nodes' radios.
type SimulationEngine struct {
	Log *EventLog

	mu            sync.RWMutex
	nodes         []*Node
	byID          map[int]*Node
	tickListeners []func(int64)

	metrics        MetricsRecorder
	recorder       *simlog.Recorder
	logger         logging.Logger
	sampleInterval int64
	tracer         trace.Tracer
	traceParent    context.Context

	ticks         atomic.Int64
	transmissions atomic.Int64
	cancellations atomic.Int64
	receptions    atomic.Int64
	deaths        atomic.Int64
}

// NewSimulationEngine builds an engine over log. A nil log gets a fresh one.
func NewSimulationEngine(log *EventLog, opts ...EngineOption) *SimulationEngine {
	if log == nil {
		log = NewEventLog()
	}
	se := &SimulationEngine{
		Log:         log,
		byID:        make(map[int]*Node),
		logger:      logging.Noop(),
		tracer:      otel.Tracer("github.com/signalsfoundry/lora-simulator/core"),
		traceParent: context.Background(),
	}
	for _, opt := range opts {
		opt(se)
	}
	log.AddListener(se.onNetworkEvent)
	return se
}

// NewNode builds a node on the engine's event log and adds it.
func (se *SimulationEngine) NewNode(cfg NodeConfig, opts ...NodeOption) (*Node, error) {
	opts = append([]NodeOption{WithNodeLogger(se.logger)}, opts...)
	n, err := NewNode(cfg, se.Log, opts...)
	if err != nil {
		return nil, err
	}
	if err := se.AddNode(n); err != nil {
		return nil, err
	}
	return n, nil
}

// AddNode registers n. The engine becomes the node's observer.
func (se *SimulationEngine) AddNode(n *Node) error {
	se.mu.Lock()
	defer se.mu.Unlock()
	if _, ok := se.byID[n.ID()]; ok {
		return fmt.Errorf("%w: %d", ErrNodeExists, n.ID())
	}
	n.observer = se
	se.nodes = append(se.nodes, n)
	se.byID[n.ID()] = n
	return nil
}

// Node returns the node with id.
func (se *SimulationEngine) Node(id int) (*Node, bool) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	n, ok := se.byID[id]
	return n, ok
}

// Nodes returns every node in tick order.
func (se *SimulationEngine) Nodes() []*Node {
	se.mu.RLock()
	defer se.mu.RUnlock()
	out := make([]*Node, len(se.nodes))
	copy(out, se.nodes)
	return out
}

// RegisterTickListener adds fn to be called after every node has ticked.
func (se *SimulationEngine) RegisterTickListener(fn func(int64)) {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.tickListeners = append(se.tickListeners, fn)
}

// Step runs one global tick at now.
func (se *SimulationEngine) Step(now int64) {
	start := time.Now()

	se.mu.RLock()
	nodes := se.nodes
	listeners := se.tickListeners
	se.mu.RUnlock()

	for _, n := range nodes {
		n.Tick(now)
	}
	for _, fn := range listeners {
		fn(now)
	}
	if se.sampleInterval > 0 && now%se.sampleInterval == 0 {
		se.sample(now, nodes)
	}

	se.ticks.Add(1)
	if se.metrics != nil {
		se.metrics.ObserveTick(time.Since(start))
		se.metrics.SetNodeStates(countStates(nodes))
	}
}

// Run advances clock by ticks steps synchronously.
func (se *SimulationEngine) Run(clock *timectrl.Clock, ticks int64) {
	for range ticks {
		se.Step(clock.Now())
		clock.Advance(1)
	}
}

// Attach drives the engine from tc, one Step per controller tick.
func (se *SimulationEngine) Attach(tc *timectrl.TimeController) {
	tc.AddListener(se.Step)
}

// Stats returns the totals so far. Safe to call while a run is active.
func (se *SimulationEngine) Stats() EngineStats {
	return EngineStats{
		Ticks:         se.ticks.Load(),
		Transmissions: se.transmissions.Load(),
		Cancellations: se.cancellations.Load(),
		Receptions:    se.receptions.Load(),
		Deaths:        se.deaths.Load(),
	}
}

// NodeStateChanged implements NodeObserver.
func (se *SimulationEngine) NodeStateChanged(nodeID int, from, to NodeState, now int64) {
	if to == NodeJustDied {
		se.deaths.Add(1)
		if se.metrics != nil {
			se.metrics.RecordNodeDeath()
		}
		se.note(simlog.SeverityWarning, simlog.AreaNode, "node %d ran out of energy in %s", nodeID, from)
		return
	}
	se.note(simlog.SeverityDebug, simlog.AreaNode, "node %d %s -> %s", nodeID, from, to)
}

// NodeReceived implements NodeObserver.
func (se *SimulationEngine) NodeReceived(nodeID int, ev NetworkEvent, now int64) {
	se.receptions.Add(1)
	if se.metrics != nil {
		se.metrics.RecordReception(ev.Medium().String())
	}
	se.note(simlog.SeverityInfo, simlog.AreaTransceiver, "node %d received %d bytes from node %d on %s [%d,%d]",
		nodeID, len(ev.data), ev.NodeID(), ev.Medium(), ev.Start(), ev.End())
}

func (se *SimulationEngine) onNetworkEvent(ev NetworkEvent) {
	if ev.Cancelled() {
		se.cancellations.Add(1)
	} else {
		se.transmissions.Add(1)
	}
	if se.metrics != nil {
		se.metrics.RecordNetworkEvent(ev.Medium().String(), ev.Kind().String())
	}
	se.note(simlog.SeverityDebug, simlog.AreaTransceiver, "node %d %s on %s [%d,%d]",
		ev.NodeID(), ev.Kind(), ev.Medium(), ev.Start(), ev.End())

	se.mu.RLock()
	nodes := se.nodes
	se.mu.RUnlock()
	for _, n := range nodes {
		n.Deliver(ev)
	}
}

func (se *SimulationEngine) sample(now int64, nodes []*Node) {
	_, span := se.tracer.Start(se.traceParent, "engine.sample", trace.WithAttributes(
		attribute.Int64("tick", now),
		attribute.Int("nodes", len(nodes)),
	))
	defer span.End()

	var dead int
	var total float64
	for _, n := range nodes {
		charge := n.Battery().Charge()
		total += charge
		if n.State() == NodeDead {
			dead++
		}
		if se.metrics != nil {
			se.metrics.SetBatteryCharge(strconv.Itoa(n.ID()), charge)
		}
		if se.recorder == nil {
			continue
		}
		prefix := fmt.Sprintf("node-%d", n.ID())
		_ = se.recorder.AddData(simlog.AreaBattery, prefix+"/charge", charge, "J")
		_ = se.recorder.AddData(simlog.AreaClock, prefix+"/local_time", float64(n.Clock().Time()), "units")
	}
	span.SetAttributes(
		attribute.Int("nodes.dead", dead),
		attribute.Float64("battery.total_joules", total),
	)
}

func (se *SimulationEngine) note(sev simlog.Severity, area simlog.Area, format string, args ...any) {
	if se.recorder == nil {
		return
	}
	if err := se.recorder.Addf(sev, area, format, args...); err != nil {
		se.logger.Warn(context.Background(), "recording simulation log entry", logging.Err(err))
	}
}

func countStates(nodes []*Node) map[string]int {
	counts := make(map[string]int, 3)
	for _, s := range NodeStates() {
		counts[s.String()] = 0
	}
	for _, n := range nodes {
		counts[n.State().String()]++
	}
	return counts
}

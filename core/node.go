package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/lora-simulator/internal/logging"
)

// ErrInvalidNode is returned for a node configuration that cannot be built.
var ErrInvalidNode = errors.New("invalid node")

// NodeState is the power state of a node.
type NodeState int

const (
	NodeDead NodeState = iota
	NodeSleep
	NodeWake
	// NodeJustDied is transient: a node that enters it resets its modules
	// and becomes NodeDead within the same tick.
	NodeJustDied
)

func (s NodeState) String() string {
	switch s {
	case NodeDead:
		return "DEAD"
	case NodeSleep:
		return "SLEEP"
	case NodeWake:
		return "WAKE"
	case NodeJustDied:
		return "JUST_DIED"
	default:
		return fmt.Sprintf("NodeState(%d)", int(s))
	}
}

// NodeStates lists the steady states in display order.
func NodeStates() []NodeState {
	return []NodeState{NodeDead, NodeSleep, NodeWake}
}

// nextState is the node transition function given whether the battery
// still had charge after this tick.
func nextState(s NodeState, hasPower bool) NodeState {
	switch s {
	case NodeDead:
		if hasPower {
			return NodeSleep
		}
		return NodeDead
	case NodeSleep, NodeWake:
		if !hasPower {
			return NodeJustDied
		}
		return NodeWake
	default:
		return NodeDead
	}
}

// NodeConfig describes one simulated device.
type NodeConfig struct {
	ID                   int
	TicksPerSecond       float64
	Battery              BatteryConfig
	ClockJoulesPerSecond float64
	Radios               []RadioProfile
	OverlapPolicy        OverlapPolicy
}

// NodeObserver is notified of node activity. Calls happen on the
// scheduler goroutine during Node.Tick.
type NodeObserver interface {
	NodeStateChanged(nodeID int, from, to NodeState, now int64)
	NodeReceived(nodeID int, ev NetworkEvent, now int64)
}

// ReceiveHandler is implemented by applications that want the
// transmissions their node received.
type ReceiveHandler interface {
	HandleReceived(ev NetworkEvent, now int64)
}

// NodeOption configures optional node behaviour.
type NodeOption func(*Node)

// WithObserver registers o for state changes and receptions.
func WithObserver(o NodeObserver) NodeOption {
	return func(n *Node) {
		n.observer = o
	}
}

// WithNodeLogger attaches a structured logger to the node and its radios.
func WithNodeLogger(l logging.Logger) NodeOption {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

// Node is one simulated device: a battery powering a local clock, a set of
// radios and optional applications, all talking through one mailbox.
type Node struct {
	id      int
	state   NodeState
	mailbox *Mailbox
	battery *Battery
	clock   *LocalClock
	radios  *TransceiverManager
	apps    []Module

	observer NodeObserver
	logger   logging.Logger
}

// NewNode builds a dead node whose radios push to events.
func NewNode(cfg NodeConfig, events *EventLog, opts ...NodeOption) (*Node, error) {
	if cfg.TicksPerSecond <= 0 {
		return nil, fmt.Errorf("%w: node %d: ticks per second %v must be positive", ErrInvalidNode, cfg.ID, cfg.TicksPerSecond)
	}
	battery, err := NewBattery(cfg.Battery, cfg.TicksPerSecond)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", cfg.ID, err)
	}

	n := &Node{
		id:      cfg.ID,
		state:   NodeDead,
		mailbox: NewMailbox(),
		battery: battery,
		logger:  logging.Noop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With(logging.Int("node_id", cfg.ID))

	clockDraw := cfg.ClockJoulesPerSecond
	if clockDraw < 0 {
		return nil, fmt.Errorf("%w: node %d: negative clock draw %v", ErrInvalidNode, cfg.ID, clockDraw)
	}
	n.clock = NewLocalClock(n.mailbox, clockDraw, cfg.TicksPerSecond)

	seen := make(map[Medium]bool, len(cfg.Radios))
	radios := make([]*Transceiver, 0, len(cfg.Radios))
	for _, p := range cfg.Radios {
		if seen[p.Medium] {
			return nil, fmt.Errorf("%w: node %d: duplicate radio for %s", ErrInvalidNode, cfg.ID, p.Medium)
		}
		seen[p.Medium] = true
		t, err := NewTransceiver(cfg.ID, p, cfg.TicksPerSecond, events, n.mailbox,
			WithOverlapPolicy(cfg.OverlapPolicy),
			WithTransceiverLogger(n.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", cfg.ID, err)
		}
		radios = append(radios, t)
	}
	n.radios = NewTransceiverManager(n.mailbox, radios...)
	return n, nil
}

// AddApplication registers an application module. Applications are ticked
// in registration order while the node is awake, before its radios.
func (n *Node) AddApplication(app Module) {
	n.apps = append(n.apps, app)
}

// Tick advances the node by one global tick.
func (n *Node) Tick(now int64) {
	var hasPower bool
	switch n.state {
	case NodeDead:
		hasPower = n.battery.Tick(0)
	case NodeSleep:
		hasPower = n.battery.Tick(n.clock.Tick(now))
	case NodeWake:
		draw := n.clock.Tick(now)
		for _, app := range n.apps {
			draw += app.Tick(now)
		}
		draw += n.radios.Tick(now)
		n.dispatchReceived(now)
		hasPower = n.battery.Tick(draw)
	}

	next := nextState(n.state, hasPower)
	n.transition(next, now)

	if next == NodeJustDied {
		n.clock.Reset(now)
		n.radios.Reset(now)
		for _, app := range n.apps {
			app.Reset(now)
		}
		n.mailbox.Reset()
		n.transition(NodeDead, now)
		return
	}

	n.mailbox.Swap()
}

// Reset kills the node without draining its battery.
func (n *Node) Reset(now int64) {
	n.clock.Reset(now)
	n.radios.Reset(now)
	for _, app := range n.apps {
		app.Reset(now)
	}
	n.mailbox.Reset()
	n.transition(NodeDead, now)
}

// Deliver hands a transmission seen on the shared medium to the node's
// radios. A dead node hears nothing.
func (n *Node) Deliver(ev NetworkEvent) {
	if n.state == NodeDead {
		return
	}
	n.radios.Deliver(ev)
}

func (n *Node) dispatchReceived(now int64) {
	for _, le := range n.mailbox.Query(LocalTransceiverReceivedData) {
		ev, ok := le.Payload.(NetworkEvent)
		if !ok {
			continue
		}
		if n.observer != nil {
			n.observer.NodeReceived(n.id, ev, now)
		}
		for _, app := range n.apps {
			if h, ok := app.(ReceiveHandler); ok {
				h.HandleReceived(ev, now)
			}
		}
	}
}

func (n *Node) transition(to NodeState, now int64) {
	from := n.state
	if from == to {
		return
	}
	n.state = to
	n.logger.Debug(context.Background(), "node state changed",
		logging.Int64("tick", now),
		logging.String("from", from.String()),
		logging.String("to", to.String()),
	)
	if n.observer != nil {
		n.observer.NodeStateChanged(n.id, from, to, now)
	}
}

func (n *Node) ID() int                           { return n.id }
func (n *Node) State() NodeState                  { return n.state }
func (n *Node) Battery() *Battery                 { return n.battery }
func (n *Node) Mailbox() *Mailbox                 { return n.mailbox }
func (n *Node) Clock() *LocalClock                { return n.clock }
func (n *Node) Transceivers() *TransceiverManager { return n.radios }

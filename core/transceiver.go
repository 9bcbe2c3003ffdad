package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/signalsfoundry/lora-simulator/internal/logging"
)

// ErrUnknownOverlapPolicy is returned when an overlap policy name cannot
// be parsed.
var ErrUnknownOverlapPolicy = errors.New("unknown overlap policy")

// TransceiverState is the radio state of one transceiver.
type TransceiverState int

const (
	TransceiverIdle TransceiverState = iota
	TransceiverSending
	TransceiverReceiving
)

func (s TransceiverState) String() string {
	switch s {
	case TransceiverIdle:
		return "IDLE"
	case TransceiverSending:
		return "SENDING"
	case TransceiverReceiving:
		return "RECEIVING"
	default:
		return fmt.Sprintf("TransceiverState(%d)", int(s))
	}
}

// OverlapPolicy selects the interval test used by collision resolution to
// decide whether another buffered transmission collides with a candidate.
type OverlapPolicy int

const (
	// OverlapPermissive flags a collision when other starts no later than
	// the candidate ends OR other ends no earlier than the candidate
	// starts. Nearly every pair collides under this test. It is the
	// documented reception rule and the default.
	OverlapPermissive OverlapPolicy = iota
	// OverlapIntersect flags a collision only when the two closed
	// intervals share at least one tick.
	OverlapIntersect
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapIntersect:
		return "intersect"
	case OverlapPermissive:
		return "permissive"
	default:
		return fmt.Sprintf("OverlapPolicy(%d)", int(p))
	}
}

// ParseOverlapPolicy maps a config name to a policy. The empty string
// selects OverlapPermissive.
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "permissive":
		return OverlapPermissive, nil
	case "intersect":
		return OverlapIntersect, nil
	default:
		return OverlapPermissive, fmt.Errorf("%w: %q", ErrUnknownOverlapPolicy, s)
	}
}

// collides tests [oStart, oEnd] against the candidate [eStart, eEnd], bounds
// inclusive.
func (p OverlapPolicy) collides(oStart, oEnd, eStart, eEnd int64) bool {
	if p == OverlapIntersect {
		return oStart <= eEnd && oEnd >= eStart
	}
	return oStart <= eEnd || oEnd >= eStart
}

// TransceiverOption configures optional transceiver behaviour.
type TransceiverOption func(*Transceiver)

// WithOverlapPolicy selects the collision test.
func WithOverlapPolicy(p OverlapPolicy) TransceiverOption {
	return func(t *Transceiver) {
		t.policy = p
	}
}

// WithTransceiverLogger attaches a structured logger.
func WithTransceiverLogger(l logging.Logger) TransceiverOption {
	return func(t *Transceiver) {
		if l != nil {
			t.logger = l
		}
	}
}

// Transceiver is one radio of a node. It turns transmit requests from the
// mailbox into NetworkEvents on the shared EventLog, and resolves which
// buffered transmissions from other nodes were received without collision.
type Transceiver struct {
	nodeID         int
	profile        RadioProfile
	ticksPerSecond float64
	events         *EventLog
	mailbox        *Mailbox
	policy         OverlapPolicy
	logger         logging.Logger

	state TransceiverState

	transmitting bool
	transmitEnd  int64
	transmitData []byte

	receiving      bool
	receptionStart int64

	// receiveQueue buffers transmissions heard from other nodes until
	// collision resolution settles them.
	receiveQueue []NetworkEvent

	txPerTick   float64
	rxPerTick   float64
	idlePerTick float64
}

// NewTransceiver builds an idle transceiver for profile. Transmissions are
// pushed to events; local traffic flows through mb.
func NewTransceiver(nodeID int, profile RadioProfile, ticksPerSecond float64, events *EventLog, mb *Mailbox, opts ...TransceiverOption) (*Transceiver, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if ticksPerSecond <= 0 {
		return nil, fmt.Errorf("%w: ticks per second %v must be positive", ErrInvalidRadioProfile, ticksPerSecond)
	}
	if events == nil || mb == nil {
		return nil, fmt.Errorf("transceiver %s: event log and mailbox are required", profile.Medium)
	}

	t := &Transceiver{
		nodeID:         nodeID,
		profile:        profile,
		ticksPerSecond: ticksPerSecond,
		events:         events,
		mailbox:        mb,
		logger:         logging.Noop(),
		txPerTick:      perTick(profile.TxJoulesPerSecond, ticksPerSecond),
		rxPerTick:      perTick(profile.RxJoulesPerSecond, ticksPerSecond),
		idlePerTick:    perTick(profile.IdleJoulesPerSecond, ticksPerSecond),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(
		logging.Int("node_id", nodeID),
		logging.String("medium", profile.Medium.String()),
	)
	return t, nil
}

// Tick advances the transceiver by one global tick and returns the energy
// drawn in the state it ends the tick in.
func (t *Transceiver) Tick(now int64) float64 {
	t.housekeep(now)

	if reqs := t.mailbox.QuerySub(LocalTransceiverSetState, t.profile.Medium); len(reqs) > 0 {
		if next, ok := reqs[0].Payload.(TransceiverState); ok && next != t.state {
			t.cancel(now)
			t.state = next
			if next == TransceiverReceiving {
				t.receiving = true
				t.receptionStart = now
			}
		}
	}

	if t.state == TransceiverIdle {
		// Only the first request of a tick is honoured; the rest are dropped.
		if reqs := t.mailbox.QuerySub(LocalTransceiverTransmitData, t.profile.Medium); len(reqs) > 0 {
			t.transmit(now, reqs[0])
		}
	}

	if t.state == TransceiverSending {
		if !t.transmitting || now >= t.transmitEnd {
			t.transmitting = false
			t.transmitEnd = 0
			t.transmitData = nil
			t.state = TransceiverIdle
		}
	}

	if t.state == TransceiverReceiving {
		for _, ev := range t.SuccessfulReceptions(now) {
			t.mailbox.PublishNow(LocalEvent{
				Kind:    LocalTransceiverReceivedData,
				SubKind: t.profile.Medium,
				Payload: ev,
			})
		}
	}

	switch t.state {
	case TransceiverSending:
		return t.txPerTick
	case TransceiverReceiving:
		return t.rxPerTick
	default:
		return t.idlePerTick
	}
}

// Reset aborts any transmission or reception in flight and returns the
// radio to idle.
func (t *Transceiver) Reset(now int64) {
	t.cancel(now)
	t.state = TransceiverIdle
}

// Deliver buffers a transmission from another node on this medium. Own
// transmissions and other media are ignored.
func (t *Transceiver) Deliver(ev NetworkEvent) {
	if ev.Medium() != t.profile.Medium || ev.NodeID() == t.nodeID {
		return
	}
	t.receiveQueue = append(t.receiveQueue, ev)
}

// SuccessfulReceptions resolves the receive queue at now and returns every
// buffered transmission that fully arrived during the current reception
// without colliding. Resolved events are pruned, so a second call with
// the same now returns nothing new.
func (t *Transceiver) SuccessfulReceptions(now int64) []NetworkEvent {
	if !t.receiving {
		return nil
	}

	cancellations := make(map[int][]NetworkEvent)
	var candidates []NetworkEvent
	for _, ev := range t.receiveQueue {
		if ev.Cancelled() {
			cancellations[ev.NodeID()] = append(cancellations[ev.NodeID()], ev)
			continue
		}
		candidates = append(candidates, ev)
	}

	var received []NetworkEvent
	for i, e := range candidates {
		if e.End() > now || t.receptionStart > e.Start() {
			continue
		}
		if _, aborted := cancellations[e.NodeID()]; aborted {
			continue
		}
		if t.collides(i, candidates, cancellations) {
			continue
		}
		received = append(received, e)
	}

	var maxEnd int64
	for _, ev := range received {
		maxEnd = max(maxEnd, ev.End())
	}
	kept := t.receiveQueue[:0]
	for _, ev := range t.receiveQueue {
		if ev.Start() > maxEnd {
			kept = append(kept, ev)
		}
	}
	clear(t.receiveQueue[len(kept):])
	t.receiveQueue = kept

	return received
}

func (t *Transceiver) collides(idx int, candidates []NetworkEvent, cancellations map[int][]NetworkEvent) bool {
	e := candidates[idx]
	for j, o := range candidates {
		if j == idx {
			continue
		}
		if t.policy.collides(o.Start(), effectiveEnd(o, cancellations[o.NodeID()], e.Start()), e.Start(), e.End()) {
			return true
		}
	}
	return false
}

// effectiveEnd shortens o to the earliest abort recorded for its sender
// that was still scheduled past from.
func effectiveEnd(o NetworkEvent, aborts []NetworkEvent, from int64) int64 {
	end := o.End()
	for _, c := range aborts {
		if c.End() > from {
			end = min(end, c.Start())
		}
	}
	return end
}

func (t *Transceiver) housekeep(now int64) {
	if t.receiving {
		return
	}
	kept := t.receiveQueue[:0]
	for _, ev := range t.receiveQueue {
		if ev.End() > now {
			kept = append(kept, ev)
		}
	}
	clear(t.receiveQueue[len(kept):])
	t.receiveQueue = kept
}

func (t *Transceiver) transmit(now int64, req LocalEvent) {
	var data []byte
	switch p := req.Payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		t.logger.Warn(context.Background(), "dropping transmit request with unsupported payload",
			logging.Int64("tick", now),
			logging.String("payload_type", fmt.Sprintf("%T", req.Payload)),
		)
		return
	}

	end := now + t.profile.AirTimeTicks(len(data), t.ticksPerSecond)
	ev, err := NewNetworkEvent(t.nodeID, now, end, data, EventTransmit, t.profile.Medium)
	if err != nil {
		t.logger.Error(context.Background(), "building transmission", logging.Err(err))
		return
	}

	t.transmitting = true
	t.transmitEnd = end
	t.transmitData = ev.data
	t.state = TransceiverSending
	t.events.PushBack(ev)

	t.logger.Debug(context.Background(), "transmission started",
		logging.Int64("tick", now),
		logging.Int64("end", end),
		logging.Int("bytes", len(data)),
	)
}

// cancel aborts the in-flight transmission, recording a Cancelled event
// over its unsent remainder, and drops the reception marker. Aborted
// receptions leave no trace on the EventLog.
func (t *Transceiver) cancel(now int64) {
	if t.transmitting {
		ev, err := NewNetworkEvent(t.nodeID, min(now, t.transmitEnd), t.transmitEnd, t.transmitData, EventCancelled, t.profile.Medium)
		if err == nil {
			t.events.PushBack(ev)
		}
		t.logger.Debug(context.Background(), "transmission cancelled",
			logging.Int64("tick", now),
			logging.Int64("scheduled_end", t.transmitEnd),
		)
		t.transmitting = false
		t.transmitEnd = 0
		t.transmitData = nil
	}
	t.receiving = false
	t.receptionStart = 0
}

// Medium returns the radio medium this transceiver serves.
func (t *Transceiver) Medium() Medium { return t.profile.Medium }

// Profile returns the physical-layer configuration.
func (t *Transceiver) Profile() RadioProfile { return t.profile }

// Policy returns the collision test in use.
func (t *Transceiver) Policy() OverlapPolicy { return t.policy }

// State returns the current radio state.
func (t *Transceiver) State() TransceiverState { return t.state }

// ReceptionStart returns the tick the current reception began at, and
// false when no reception is in progress.
func (t *Transceiver) ReceptionStart() (int64, bool) {
	return t.receptionStart, t.receiving
}

// TransmitEnd returns the scheduled end of the current transmission, and
// false when nothing is being sent.
func (t *Transceiver) TransmitEnd() (int64, bool) {
	return t.transmitEnd, t.transmitting
}

// QueueLen returns the number of buffered transmissions awaiting
// resolution.
func (t *Transceiver) QueueLen() int { return len(t.receiveQueue) }

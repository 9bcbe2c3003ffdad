package core

import (
	"fmt"
	"slices"
)

// LocalEventKind is the topic of an event passed between a node's modules.
type LocalEventKind int

const (
	LocalTime LocalEventKind = iota
	LocalTransceiverStatus
	LocalTransceiverReceivedData
	LocalTransceiverTransmitData
	LocalTransceiverSetState
)

func (k LocalEventKind) String() string {
	switch k {
	case LocalTime:
		return "LOCAL_TIME"
	case LocalTransceiverStatus:
		return "TRANSCEIVER_STATUS"
	case LocalTransceiverReceivedData:
		return "TRANSCEIVER_RECEIVED_DATA"
	case LocalTransceiverTransmitData:
		return "TRANSCEIVER_TRANSMIT_DATA"
	case LocalTransceiverSetState:
		return "TRANSCEIVER_SET_STATE"
	default:
		return fmt.Sprintf("LocalEventKind(%d)", int(k))
	}
}

// LocalEvent is a typed message on a node's mailbox. SubKind is the radio
// medium the event targets, or MediumNone.
//
// Payload conventions:
//   - LocalTime: int, the local clock time
//   - LocalTransceiverStatus: map[Medium]TransceiverState
//   - LocalTransceiverReceivedData: NetworkEvent
//   - LocalTransceiverTransmitData: []byte
//   - LocalTransceiverSetState: TransceiverState
type LocalEvent struct {
	Kind    LocalEventKind
	SubKind Medium
	Payload any
}

// Mailbox is a node's double-buffered local event queue. Events published
// with PublishNow are visible to modules ticked later in the same global
// tick; events published with PublishNext become visible after Swap.
type Mailbox struct {
	current []LocalEvent
	next    []LocalEvent
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// PublishNow makes ev visible for the rest of the current tick.
func (m *Mailbox) PublishNow(ev LocalEvent) {
	m.current = append(m.current, ev)
}

// PublishNext makes ev visible starting with the next tick.
func (m *Mailbox) PublishNext(ev LocalEvent) {
	m.next = append(m.next, ev)
}

// Current returns every event visible this tick, in publish order.
func (m *Mailbox) Current() []LocalEvent {
	return slices.Clone(m.current)
}

// Query returns the current events of the given kind regardless of sub-kind.
func (m *Mailbox) Query(kind LocalEventKind) []LocalEvent {
	var out []LocalEvent
	for _, ev := range m.current {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// QuerySub returns the current events of the given kind whose sub-kind is
// exactly sub.
func (m *Mailbox) QuerySub(kind LocalEventKind, sub Medium) []LocalEvent {
	var out []LocalEvent
	for _, ev := range m.current {
		if ev.Kind == kind && ev.SubKind == sub {
			out = append(out, ev)
		}
	}
	return out
}

// Swap ends the tick: next-tick events become current and the next buffer
// starts empty.
func (m *Mailbox) Swap() {
	m.current = m.next
	m.next = nil
}

// Reset drops every pending event.
func (m *Mailbox) Reset() {
	m.current = nil
	m.next = nil
}

package core

import "slices"

// TransceiverManager owns the radios of one node, one per medium, and
// ticks them in a stable order.
type TransceiverManager struct {
	mailbox      *Mailbox
	transceivers []*Transceiver
}

// NewTransceiverManager groups trx under one manager. Radios are ticked in
// the order given.
func NewTransceiverManager(mb *Mailbox, trx ...*Transceiver) *TransceiverManager {
	return &TransceiverManager{
		mailbox:      mb,
		transceivers: slices.Clone(trx),
	}
}

// Tick advances every radio, sums their draw and publishes the aggregate
// status for the modules of the next tick.
func (m *TransceiverManager) Tick(now int64) float64 {
	var draw float64
	for _, t := range m.transceivers {
		draw += t.Tick(now)
	}
	m.mailbox.PublishNext(LocalEvent{Kind: LocalTransceiverStatus, Payload: m.States()})
	return draw
}

// Reset aborts all radio activity.
func (m *TransceiverManager) Reset(now int64) {
	for _, t := range m.transceivers {
		t.Reset(now)
	}
}

// Deliver hands ev to the radio of its medium, if the node has one.
func (m *TransceiverManager) Deliver(ev NetworkEvent) {
	if t, ok := m.Transceiver(ev.Medium()); ok {
		t.Deliver(ev)
	}
}

// Transceiver returns the radio serving medium.
func (m *TransceiverManager) Transceiver(medium Medium) (*Transceiver, bool) {
	for _, t := range m.transceivers {
		if t.Medium() == medium {
			return t, true
		}
	}
	return nil, false
}

// Transceivers returns every radio in tick order.
func (m *TransceiverManager) Transceivers() []*Transceiver {
	return slices.Clone(m.transceivers)
}

// States maps each medium to its radio's current state.
func (m *TransceiverManager) States() map[Medium]TransceiverState {
	out := make(map[Medium]TransceiverState, len(m.transceivers))
	for _, t := range m.transceivers {
		out[t.Medium()] = t.State()
	}
	return out
}

package core

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidApplication is returned for an application that cannot run.
var ErrInvalidApplication = errors.New("invalid application")

// sequenceBytes is the size of the big-endian counter that prefixes every
// TrafficSource payload.
const sequenceBytes = 4

// MinPayloadBytes is the smallest TrafficSource payload, the sequence
// counter alone.
const MinPayloadBytes = sequenceBytes

// TrafficSource asks one radio to transmit a fixed-size frame every
// Interval ticks, starting at Offset.
type TrafficSource struct {
	mailbox     *Mailbox
	medium      Medium
	interval    int64
	offset      int64
	payloadSize int

	seq uint32
}

// NewTrafficSource builds a periodic sender publishing to mb. payloadSize
// counts the sequence prefix and must be at least MinPayloadBytes.
func NewTrafficSource(mb *Mailbox, medium Medium, interval, offset int64, payloadSize int) (*TrafficSource, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: traffic interval %d must be positive", ErrInvalidApplication, interval)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: traffic offset %d must not be negative", ErrInvalidApplication, offset)
	}
	if payloadSize < MinPayloadBytes {
		return nil, fmt.Errorf("%w: traffic payload of %d bytes is shorter than the %d-byte sequence", ErrInvalidApplication, payloadSize, MinPayloadBytes)
	}
	return &TrafficSource{
		mailbox:     mb,
		medium:      medium,
		interval:    interval,
		offset:      offset,
		payloadSize: payloadSize,
	}, nil
}

// Tick publishes a transmit request on every period boundary. The request
// is dropped by the radio if it is not idle.
func (s *TrafficSource) Tick(now int64) float64 {
	if now < s.offset || (now-s.offset)%s.interval != 0 {
		return 0
	}
	payload := make([]byte, s.payloadSize)
	binary.BigEndian.PutUint32(payload, s.seq)
	s.seq++
	s.mailbox.PublishNow(LocalEvent{
		Kind:    LocalTransceiverTransmitData,
		SubKind: s.medium,
		Payload: payload,
	})
	return 0
}

// Reset restarts the sequence counter.
func (s *TrafficSource) Reset(int64) {
	s.seq = 0
}

// Sent returns how many requests have been issued since the last reset.
func (s *TrafficSource) Sent() uint32 { return s.seq }

// Listener keeps one radio in the receiving state and counts what it hears.
type Listener struct {
	mailbox *Mailbox
	medium  Medium

	received []NetworkEvent
}

// NewListener builds a listener for medium publishing to mb.
func NewListener(mb *Mailbox, medium Medium) *Listener {
	return &Listener{mailbox: mb, medium: medium}
}

// Tick requests the receiving state. Repeating the request while already
// receiving leaves the reception window untouched.
func (l *Listener) Tick(int64) float64 {
	l.mailbox.PublishNow(LocalEvent{
		Kind:    LocalTransceiverSetState,
		SubKind: l.medium,
		Payload: TransceiverReceiving,
	})
	return 0
}

// Reset keeps the reception history; only the radio state is volatile.
func (l *Listener) Reset(int64) {}

// HandleReceived records ev if it was heard on this listener's medium.
func (l *Listener) HandleReceived(ev NetworkEvent, _ int64) {
	if ev.Medium() == l.medium {
		l.received = append(l.received, ev)
	}
}

// Received returns every transmission heard so far.
func (l *Listener) Received() []NetworkEvent {
	out := make([]NetworkEvent, len(l.received))
	copy(out, l.received)
	return out
}

// Sequence decodes the counter a TrafficSource stamped into data.
func Sequence(data []byte) (uint32, bool) {
	if len(data) < sequenceBytes {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}

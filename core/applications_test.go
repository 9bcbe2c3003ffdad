package core

import (
	"errors"
	"testing"
)

func TestTrafficSourceSchedule(t *testing.T) {
	mb := NewMailbox()
	src, err := NewTrafficSource(mb, MediumLoRaWAN, 10, 3, MinPayloadBytes)
	if err != nil {
		t.Fatalf("NewTrafficSource: %v", err)
	}

	var fired []int64
	for tick := range int64(30) {
		src.Tick(tick)
		if reqs := mb.QuerySub(LocalTransceiverTransmitData, MediumLoRaWAN); len(reqs) > 0 {
			fired = append(fired, tick)
			payload := reqs[0].Payload.([]byte)
			if len(payload) != sequenceBytes {
				t.Fatalf("payload len = %d, want %d", len(payload), sequenceBytes)
			}
			seq, ok := Sequence(payload)
			if !ok || seq != uint32(len(fired)-1) {
				t.Fatalf("sequence = %d, want %d", seq, len(fired)-1)
			}
		}
		mb.Swap()
	}
	want := []int64{3, 13, 23}
	if len(fired) != len(want) {
		t.Fatalf("fired at %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired at %v, want %v", fired, want)
		}
	}

	src.Reset(30)
	if src.Sent() != 0 {
		t.Fatalf("reset should restart the sequence")
	}
}

func TestTrafficSourceValidation(t *testing.T) {
	if _, err := NewTrafficSource(NewMailbox(), MediumD2D, 0, 0, 8); !errors.Is(err, ErrInvalidApplication) {
		t.Fatalf("expected ErrInvalidApplication for zero interval, got %v", err)
	}
	if _, err := NewTrafficSource(NewMailbox(), MediumD2D, 1, -1, 8); !errors.Is(err, ErrInvalidApplication) {
		t.Fatalf("expected ErrInvalidApplication for negative offset, got %v", err)
	}
}

func TestTrafficSourceRejectsPayloadShorterThanSequence(t *testing.T) {
	for _, size := range []int{-1, 0, 1, MinPayloadBytes - 1} {
		if _, err := NewTrafficSource(NewMailbox(), MediumD2D, 10, 0, size); !errors.Is(err, ErrInvalidApplication) {
			t.Fatalf("payload %d: expected ErrInvalidApplication, got %v", size, err)
		}
	}

	mb := NewMailbox()
	src, err := NewTrafficSource(mb, MediumD2D, 10, 0, 12)
	if err != nil {
		t.Fatalf("NewTrafficSource: %v", err)
	}
	src.Tick(0)
	reqs := mb.QuerySub(LocalTransceiverTransmitData, MediumD2D)
	if len(reqs) != 1 {
		t.Fatalf("requests = %v", reqs)
	}
	if got := len(reqs[0].Payload.([]byte)); got != 12 {
		t.Fatalf("payload len = %d, want the configured 12", got)
	}
}

func TestListenerRequestsReceivingAndRecords(t *testing.T) {
	mb := NewMailbox()
	l := NewListener(mb, MediumD2D)

	if draw := l.Tick(0); draw != 0 {
		t.Fatalf("listener draw = %v, want 0", draw)
	}
	reqs := mb.QuerySub(LocalTransceiverSetState, MediumD2D)
	if len(reqs) != 1 || reqs[0].Payload != TransceiverReceiving {
		t.Fatalf("requests = %v", reqs)
	}

	d2d, _ := NewNetworkEvent(2, 0, 5, []byte{0, 0, 0, 7}, EventTransmit, MediumD2D)
	wan, _ := NewNetworkEvent(2, 0, 5, nil, EventTransmit, MediumLoRaWAN)
	l.HandleReceived(d2d, 5)
	l.HandleReceived(wan, 5)

	got := l.Received()
	if len(got) != 1 || !got[0].Equal(d2d) {
		t.Fatalf("received = %v", got)
	}
	if seq, ok := Sequence(got[0].Data()); !ok || seq != 7 {
		t.Fatalf("sequence = %d,%v want 7", seq, ok)
	}
	if _, ok := Sequence([]byte{1}); ok {
		t.Fatalf("short payload has no sequence")
	}
}

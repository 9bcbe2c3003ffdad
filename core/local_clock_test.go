package core

import "testing"

func TestLocalClockAdvancesEveryHundredTicks(t *testing.T) {
	mb := NewMailbox()
	c := NewLocalClock(mb, 1, 1000)

	var draw float64
	for i := range int64(99) {
		draw = c.Tick(i)
		mb.Swap()
	}
	if c.Time() != 0 {
		t.Fatalf("local time advanced after 99 ticks: %d", c.Time())
	}
	if draw != 1.0/1000 {
		t.Fatalf("draw = %v, want 0.001", draw)
	}

	c.Tick(99)
	if c.Time() != 1 {
		t.Fatalf("local time = %d after 100 ticks, want 1", c.Time())
	}
	evs := mb.Query(LocalTime)
	if len(evs) != 1 || evs[0].Payload != 1 {
		t.Fatalf("LocalTime event = %v, want payload 1", evs)
	}
}

func TestLocalClockReset(t *testing.T) {
	mb := NewMailbox()
	c := NewLocalClock(mb, DefaultClockJoulesPerSecond, 1)
	for i := range int64(250) {
		c.Tick(i)
	}
	if c.Time() != 2 {
		t.Fatalf("local time = %d, want 2", c.Time())
	}

	c.Reset(250)
	if c.Time() != 0 {
		t.Fatalf("reset did not zero local time")
	}
	for i := range int64(99) {
		c.Tick(251 + i)
	}
	if c.Time() != 0 {
		t.Fatalf("reset did not zero the sub-tick counter")
	}
}

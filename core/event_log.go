package core

import (
	"slices"
	"sync"
)

// EventLog is the global, append-ordered record of every transmission
// interval issued by any node. It never evicts; retention is left to
// whoever exports it.
//
// Pushes are serialized by an internal lock. Listeners run synchronously
// after each push, outside the lock, in registration order.
type EventLog struct {
	mu        sync.RWMutex
	events    []NetworkEvent
	listeners []func(NetworkEvent)
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// AddListener registers fn to be called with every pushed event.
func (l *EventLog) AddListener(fn func(NetworkEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// PushBack appends ev at the end of the log.
func (l *EventLog) PushBack(ev NetworkEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	listeners := l.listeners
	l.mu.Unlock()

	notify(listeners, ev)
}

// PushFront inserts ev at the start of the log.
func (l *EventLog) PushFront(ev NetworkEvent) {
	l.mu.Lock()
	l.events = slices.Insert(l.events, 0, ev)
	listeners := l.listeners
	l.mu.Unlock()

	notify(listeners, ev)
}

// PopFront removes and returns the first event.
func (l *EventLog) PopFront() (NetworkEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return NetworkEvent{}, false
	}
	ev := l.events[0]
	l.events = slices.Delete(l.events, 0, 1)
	return ev, true
}

// PopBack removes and returns the last event.
func (l *EventLog) PopBack() (NetworkEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.events)
	if n == 0 {
		return NetworkEvent{}, false
	}
	ev := l.events[n-1]
	l.events = l.events[:n-1]
	return ev, true
}

// Front returns the first event without removing it.
func (l *EventLog) Front() (NetworkEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return NetworkEvent{}, false
	}
	return l.events[0], true
}

// Back returns the last event without removing it.
func (l *EventLog) Back() (NetworkEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return NetworkEvent{}, false
	}
	return l.events[len(l.events)-1], true
}

// Len returns the number of events in the log.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Events returns a copy of every event in log order.
func (l *EventLog) Events() []NetworkEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.events)
}

// EventsAt returns the events whose interval contains tick t.
func (l *EventLog) EventsAt(t int64) []NetworkEvent {
	return l.filter(func(ev NetworkEvent) bool { return ev.Contains(t) })
}

// EventsBetween returns the events whose interval intersects [start, end],
// bounds inclusive.
func (l *EventLog) EventsBetween(start, end int64) []NetworkEvent {
	return l.filter(func(ev NetworkEvent) bool { return ev.Intersects(start, end) })
}

// SortByStart stably orders the log by start tick.
func (l *EventLog) SortByStart() {
	l.mu.Lock()
	defer l.mu.Unlock()
	slices.SortStableFunc(l.events, func(a, b NetworkEvent) int {
		switch {
		case a.timeStart < b.timeStart:
			return -1
		case a.timeStart > b.timeStart:
			return 1
		default:
			return 0
		}
	})
}

func (l *EventLog) filter(keep func(NetworkEvent) bool) []NetworkEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []NetworkEvent
	for _, ev := range l.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func notify(listeners []func(NetworkEvent), ev NetworkEvent) {
	for _, fn := range listeners {
		fn(ev)
	}
}

// Package simlog records the simulation's own event history: severity and
// area tagged messages plus labelled data points, each stamped with the
// global tick at which it was recorded.
package simlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/signalsfoundry/lora-simulator/internal/logging"
	"github.com/signalsfoundry/lora-simulator/timectrl"
)

var (
	ErrInvalidSeverity = errors.New("invalid severity")
	ErrInvalidArea     = errors.New("invalid area")
	ErrInvalidLabel    = errors.New("invalid data label")
)

// Severity ranks a log entry. The zero value is not a valid severity.
type Severity int

const (
	SeverityDebug Severity = iota + 1
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityDebug:    "DEBUG",
	SeverityInfo:     "INFO",
	SeverityWarning:  "WARNING",
	SeverityError:    "ERROR",
	SeverityCritical: "CRITICAL",
}

// Severities lists every valid severity, lowest first.
func Severities() []Severity {
	return []Severity{SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}
}

func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ParseSeverity maps a name such as "warning" to its Severity.
func ParseSeverity(s string) (Severity, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for sev, name := range severityNames {
		if name == want {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
}

// Area names the part of the system an entry is about. The zero value is
// not a valid area.
type Area int

const (
	AreaSimulator Area = iota + 1
	AreaNode
	AreaGateway
	AreaBattery
	AreaClock
	AreaTransceiver
)

var areaNames = map[Area]string{
	AreaSimulator:   "simulator",
	AreaNode:        "node",
	AreaGateway:     "gateway",
	AreaBattery:     "battery",
	AreaClock:       "clock",
	AreaTransceiver: "transceiver",
}

// Areas lists every valid area.
func Areas() []Area {
	return []Area{AreaSimulator, AreaNode, AreaGateway, AreaBattery, AreaClock, AreaTransceiver}
}

func (a Area) Valid() bool {
	_, ok := areaNames[a]
	return ok
}

func (a Area) String() string {
	if name, ok := areaNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Area(%d)", int(a))
}

// ParseArea maps a name such as "battery" to its Area.
func ParseArea(s string) (Area, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for area, name := range areaNames {
		if name == want {
			return area, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidArea, s)
}

// Entry is one recorded message.
type Entry struct {
	Tick     int64
	Severity Severity
	Area     Area
	Message  string
}

// Format renders e as one line of the text log.
func (e Entry) Format() string {
	return fmt.Sprintf("[t=%d] [%s] (%s): %s", e.Tick, e.Severity, e.Area, e.Message)
}

// DataPoint is one recorded measurement.
type DataPoint struct {
	Tick  int64
	Area  Area
	Label string
	Value float64
	Unit  string
}

// Filter selects entries in Get. Zero fields match everything.
type Filter struct {
	Severity Severity
	Area     Area
	Contains string
}

func (f Filter) match(e Entry) bool {
	if f.Severity != 0 && e.Severity != f.Severity {
		return false
	}
	if f.Area != 0 && e.Area != f.Area {
		return false
	}
	return f.Contains == "" || strings.Contains(e.Message, f.Contains)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger mirrors every entry to l.
func WithLogger(l logging.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithSink streams every entry to w as a formatted text line.
func WithSink(w io.Writer) Option {
	return func(r *Recorder) {
		r.sink = w
	}
}

// Recorder accumulates entries and data points in memory. It is safe for
// concurrent use, so a control goroutine can read while the scheduler
// records.
type Recorder struct {
	clock timectrl.TickSource
	log   logging.Logger
	sink  io.Writer

	mu      sync.RWMutex
	entries []Entry
	data    []DataPoint
}

// NewRecorder stamps records with the time read from clock.
func NewRecorder(clock timectrl.TickSource, opts ...Option) *Recorder {
	r := &Recorder{clock: clock, log: logging.Noop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add records a message. Unknown severities or areas are rejected.
func (r *Recorder) Add(sev Severity, area Area, msg string) error {
	if !sev.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSeverity, int(sev))
	}
	if !area.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidArea, int(area))
	}

	e := Entry{Tick: r.clock.Now(), Severity: sev, Area: area, Message: msg}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	var sinkErr error
	if r.sink != nil {
		_, sinkErr = io.WriteString(r.sink, e.Format()+"\n")
	}
	r.mu.Unlock()

	r.mirror(e)
	if sinkErr != nil {
		return fmt.Errorf("write log line: %w", sinkErr)
	}
	return nil
}

// Addf formats and records a message.
func (r *Recorder) Addf(sev Severity, area Area, format string, args ...any) error {
	return r.Add(sev, area, fmt.Sprintf(format, args...))
}

// AddData records a measurement.
func (r *Recorder) AddData(area Area, label string, value float64, unit string) error {
	if !area.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidArea, int(area))
	}
	if strings.TrimSpace(label) == "" {
		return ErrInvalidLabel
	}

	p := DataPoint{Tick: r.clock.Now(), Area: area, Label: label, Value: value, Unit: unit}
	r.mu.Lock()
	r.data = append(r.data, p)
	r.mu.Unlock()
	return nil
}

// Get returns the entries matching f in record order.
func (r *Recorder) Get(f Filter) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns every recorded entry.
func (r *Recorder) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.entries)
}

// Data returns every recorded data point.
func (r *Recorder) Data() []DataPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.data)
}

// Labels returns the distinct data labels recorded for area, sorted.
func (r *Recorder) Labels(area Area) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{})
	for _, p := range r.data {
		if p.Area == area {
			set[p.Label] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// Counts tallies entries per severity.
func (r *Recorder) Counts() map[Severity]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Severity]int, len(severityNames))
	for _, e := range r.entries {
		out[e.Severity]++
	}
	return out
}

func (r *Recorder) mirror(e Entry) {
	fields := []logging.Field{
		logging.Int64("tick", e.Tick),
		logging.String("area", e.Area.String()),
	}
	ctx := context.Background()
	switch e.Severity {
	case SeverityDebug:
		r.log.Debug(ctx, e.Message, fields...)
	case SeverityInfo:
		r.log.Info(ctx, e.Message, fields...)
	case SeverityWarning:
		r.log.Warn(ctx, e.Message, fields...)
	default:
		r.log.Error(ctx, e.Message, append(fields, logging.String("severity", e.Severity.String()))...)
	}
}

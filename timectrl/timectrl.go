package timectrl

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/lora-simulator/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ErrAlreadyRunning is returned when a run is requested while another run
// loop is still advancing time.
var ErrAlreadyRunning = errors.New("time controller already running")

// TickSource is read-only access to the global tick counter. Components
// that only need to observe time depend on this rather than on *Clock.
type TickSource interface {
	// Now returns the current global tick.
	Now() int64
}

// Clock is the global tick counter of one simulation run. Only the
// TimeController (or test setup) writes it.
type Clock struct {
	mu  sync.RWMutex
	now int64
}

// NewClock returns a clock at tick 0.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the current tick. Implements TickSource.
func (c *Clock) Now() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set overrides the current tick. Intended for setup and tests.
func (c *Clock) Set(v int64) {
	c.mu.Lock()
	c.now = v
	c.mu.Unlock()
}

// Advance moves the clock forward by delta ticks.
func (c *Clock) Advance(delta int64) {
	c.mu.Lock()
	c.now += delta
	c.mu.Unlock()
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime paces ticks to TicksPerSecond of wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// DefaultPollInterval is how often a paused run loop re-checks its flags.
const DefaultPollInterval = 100 * time.Millisecond

// TimeController drives the global clock and invokes the registered
// listeners once per tick, in registration order. At most one run loop
// is active at a time; Pause, Resume and Stop are flags observed at the
// next tick boundary and never interrupt a tick in progress.
type TimeController struct {
	Clock          *Clock
	Mode           Mode
	TicksPerSecond float64
	PollInterval   time.Duration

	mu        sync.Mutex
	listeners []func(int64)
	done      chan struct{}

	running atomic.Bool
	paused  atomic.Bool
	stop    atomic.Bool

	log    logging.Logger
	tracer trace.Tracer
}

// Option customises a TimeController.
type Option func(*TimeController)

// WithLogger attaches a structured logger for run lifecycle events.
func WithLogger(l logging.Logger) Option {
	return func(tc *TimeController) {
		if l != nil {
			tc.log = l
		}
	}
}

// WithPollInterval overrides how often a paused loop polls its flags.
func WithPollInterval(d time.Duration) Option {
	return func(tc *TimeController) {
		if d > 0 {
			tc.PollInterval = d
		}
	}
}

// NewTimeController constructs a controller over clock. A nil clock gets
// a fresh one starting at tick 0.
func NewTimeController(clock *Clock, ticksPerSecond float64, mode Mode, opts ...Option) *TimeController {
	if clock == nil {
		clock = NewClock()
	}
	tc := &TimeController{
		Clock:          clock,
		Mode:           mode,
		TicksPerSecond: ticksPerSecond,
		PollInterval:   DefaultPollInterval,
		log:            logging.Noop(),
		tracer:         otel.Tracer("github.com/signalsfoundry/lora-simulator/timectrl"),
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// Now returns the current global tick. Implements TickSource.
func (tc *TimeController) Now() int64 {
	return tc.Clock.Now()
}

// AddListener registers a callback invoked with the current tick on every
// tick. Listeners added while a run is active take effect on the next run.
func (tc *TimeController) AddListener(fn func(int64)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Running reports whether a run loop is active (including while paused).
func (tc *TimeController) Running() bool { return tc.running.Load() }

// Paused reports whether the active run loop is paused.
func (tc *TimeController) Paused() bool { return tc.paused.Load() }

// Run advances time until Stop is called or ctx is done. If a run is
// already active but paused, it is resumed instead. The returned channel
// is closed when the loop exits.
func (tc *TimeController) Run(ctx context.Context) (<-chan struct{}, error) {
	return tc.start(ctx, 0, false)
}

// RunFor advances time by n ticks from the current tick, then exits.
func (tc *TimeController) RunFor(ctx context.Context, n int64) (<-chan struct{}, error) {
	return tc.start(ctx, tc.Clock.Now()+n, true)
}

// Pause suspends the active run loop at the next tick boundary.
func (tc *TimeController) Pause() {
	if tc.running.Load() {
		tc.paused.Store(true)
	}
}

// Resume continues a paused run loop.
func (tc *TimeController) Resume() {
	tc.paused.Store(false)
}

// Stop asks the active run loop to exit at the next tick boundary.
func (tc *TimeController) Stop() {
	if tc.running.Load() {
		tc.stop.Store(true)
		tc.paused.Store(false)
	}
}

// Wait blocks until the most recently started run loop has exited.
func (tc *TimeController) Wait() {
	tc.mu.Lock()
	done := tc.done
	tc.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (tc *TimeController) start(ctx context.Context, stopAt int64, bounded bool) (<-chan struct{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.running.Load() {
		if tc.paused.Load() {
			tc.paused.Store(false)
			return tc.done, nil
		}
		return nil, ErrAlreadyRunning
	}

	tc.stop.Store(false)
	tc.paused.Store(false)
	tc.running.Store(true)

	done := make(chan struct{})
	tc.done = done
	listeners := slices.Clone(tc.listeners)

	go tc.loop(ctx, listeners, stopAt, bounded, done)
	return done, nil
}

func (tc *TimeController) loop(ctx context.Context, listeners []func(int64), stopAt int64, bounded bool, done chan struct{}) {
	defer func() {
		tc.paused.Store(false)
		tc.running.Store(false)
		close(done)
	}()

	startTick := tc.Clock.Now()
	ctx, span := tc.tracer.Start(ctx, "timectrl.run", trace.WithAttributes(
		attribute.Int64("tick.start", startTick),
		attribute.Bool("bounded", bounded),
		attribute.String("mode", tc.Mode.String()),
	))
	defer span.End()

	if bounded {
		tc.log.Info(ctx, "time controller running",
			logging.Int64("from_tick", startTick),
			logging.Int64("to_tick", stopAt),
			logging.String("mode", tc.Mode.String()))
	} else {
		tc.log.Info(ctx, "time controller running until stopped",
			logging.Int64("from_tick", startTick),
			logging.String("mode", tc.Mode.String()))
	}

	var limiter *rate.Limiter
	if tc.Mode == RealTime && tc.TicksPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(tc.TicksPerSecond), 1)
	}

	for {
		if tc.stop.Load() || ctx.Err() != nil {
			tc.log.Info(ctx, "time controller stopped", logging.Int64("tick", tc.Clock.Now()))
			break
		}
		if bounded && tc.Clock.Now() >= stopAt {
			break
		}
		if tc.paused.Load() {
			tc.log.Info(ctx, "time controller paused", logging.Int64("tick", tc.Clock.Now()))
			for tc.paused.Load() && !tc.stop.Load() && ctx.Err() == nil {
				time.Sleep(tc.PollInterval)
			}
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}

		now := tc.Clock.Now()
		for _, fn := range listeners {
			fn(now)
		}
		tc.Clock.Advance(1)
	}

	end := tc.Clock.Now()
	span.SetAttributes(attribute.Int64("tick.end", end))
	tc.log.Info(ctx, "time controller finished", logging.Int64("tick", end))
}

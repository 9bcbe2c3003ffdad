package core

// subTicksPerLocalUnit is how many global ticks the local oscillator counts
// before its time advances by one unit.
const subTicksPerLocalUnit = 100

// DefaultClockJoulesPerSecond is the oscillator draw used when a scenario
// does not set one.
const DefaultClockJoulesPerSecond = 1.0

// LocalClock is a node's own time source, distinct from the global tick.
// Every tick it publishes its current time on the mailbox.
type LocalClock struct {
	mailbox     *Mailbox
	drawPerTick float64

	localTime int
	subTick   int
}

// NewLocalClock builds a clock drawing joulesPerSecond while powered.
func NewLocalClock(mb *Mailbox, joulesPerSecond, ticksPerSecond float64) *LocalClock {
	return &LocalClock{
		mailbox:     mb,
		drawPerTick: perTick(joulesPerSecond, ticksPerSecond),
	}
}

// Tick advances the oscillator and publishes a LocalTime event.
func (c *LocalClock) Tick(int64) float64 {
	c.subTick++
	if c.subTick >= subTicksPerLocalUnit {
		c.localTime++
		c.subTick = 0
	}

	c.mailbox.PublishNow(LocalEvent{Kind: LocalTime, Payload: c.localTime})
	return c.drawPerTick
}

// Reset zeroes both counters.
func (c *LocalClock) Reset(int64) {
	c.localTime = 0
	c.subTick = 0
}

// Time returns the local time in oscillator units.
func (c *LocalClock) Time() int { return c.localTime }

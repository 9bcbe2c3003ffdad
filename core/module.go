package core

// Module is a per-node component advanced once per global tick. Tick
// returns the energy in joules the module drew during that tick; Reset
// returns it to its power-on state.
type Module interface {
	Tick(now int64) float64
	Reset(now int64)
}

// perTick converts a per-second rate into a per-tick amount by dividing by
// ticksPerSecond, so a J/s draw at 1000 ticks/s costs rate/1000 J per tick.
func perTick(ratePerSecond, ticksPerSecond float64) float64 {
	return ratePerSecond / ticksPerSecond
}

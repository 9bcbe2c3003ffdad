package core

import (
	"errors"
	"fmt"
)

// ErrInvalidBattery is returned for a battery without positive capacity.
var ErrInvalidBattery = errors.New("invalid battery")

// BatteryConfig describes an energy reservoir. A nil InitialChargeJ starts
// the battery full.
type BatteryConfig struct {
	CapacityJ          float64
	InitialChargeJ     *float64
	RechargeJPerSecond float64
}

// DefaultBatteryConfig is a 1 kJ cell recharging at 10 J/s, starting full.
func DefaultBatteryConfig() BatteryConfig {
	return BatteryConfig{
		CapacityJ:          1000,
		RechargeJPerSecond: 10,
	}
}

// Battery recharges linearly and is drained by the modules of its node.
// Charge always stays within [0, capacity].
type Battery struct {
	capacity        float64
	charge          float64
	rechargePerTick float64
}

// NewBattery builds a battery from cfg for a simulation running at
// ticksPerSecond.
func NewBattery(cfg BatteryConfig, ticksPerSecond float64) (*Battery, error) {
	if cfg.CapacityJ <= 0 {
		return nil, fmt.Errorf("%w: capacity %v must be positive", ErrInvalidBattery, cfg.CapacityJ)
	}
	if ticksPerSecond <= 0 {
		return nil, fmt.Errorf("%w: ticks per second %v must be positive", ErrInvalidBattery, ticksPerSecond)
	}
	if cfg.RechargeJPerSecond < 0 {
		return nil, fmt.Errorf("%w: negative recharge rate %v", ErrInvalidBattery, cfg.RechargeJPerSecond)
	}

	charge := cfg.CapacityJ
	if cfg.InitialChargeJ != nil {
		charge = clamp(*cfg.InitialChargeJ, 0, cfg.CapacityJ)
	}
	return &Battery{
		capacity:        cfg.CapacityJ,
		charge:          charge,
		rechargePerTick: perTick(cfg.RechargeJPerSecond, ticksPerSecond),
	}, nil
}

// Tick recharges, then applies consumption, and reports whether any charge
// is left. Recharge happens first, so a tick's consumption can be covered
// by that tick's recharge.
func (b *Battery) Tick(consumption float64) bool {
	b.charge = min(b.capacity, b.charge+b.rechargePerTick)
	b.charge = max(0, b.charge-consumption)
	return b.charge > 0
}

func (b *Battery) Charge() float64          { return b.charge }
func (b *Battery) Capacity() float64        { return b.capacity }
func (b *Battery) RechargePerTick() float64 { return b.rechargePerTick }

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

package core

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRadioProfile is returned when physical-layer parameters cannot
// produce a positive bit rate.
var ErrInvalidRadioProfile = errors.New("invalid radio profile")

// preambleSyncSymbols is the fixed sync-word length added to the
// programmed preamble of a wide-area frame.
const preambleSyncSymbols = 4.25

// RadioProfile describes the physical layer and power draw of one radio
// protocol. The D2D variant has no preamble term; the wide-area variant
// adds PreambleSymbols to every frame.
type RadioProfile struct {
	Medium Medium

	SpreadingFactor int     // SF, chips per symbol = 2^SF
	BandwidthHz     float64 // BW
	CodingRate      int     // CR denominator offset: 1 means 4/5, 2 means 4/6, ...

	// WideArea enables the preamble term of the air-time formula.
	WideArea        bool
	PreambleSymbols float64 // PL

	TxJoulesPerSecond   float64
	RxJoulesPerSecond   float64
	IdleJoulesPerSecond float64
}

// DefaultD2DProfile is the short-range peer-to-peer radio.
func DefaultD2DProfile() RadioProfile {
	return RadioProfile{
		Medium:              MediumD2D,
		SpreadingFactor:     7,
		BandwidthHz:         125000,
		CodingRate:          1,
		TxJoulesPerSecond:   0.5,
		RxJoulesPerSecond:   0.05,
		IdleJoulesPerSecond: 0.001,
	}
}

// DefaultLoRaWANProfile is the long-range wide-area radio.
func DefaultLoRaWANProfile() RadioProfile {
	return RadioProfile{
		Medium:              MediumLoRaWAN,
		SpreadingFactor:     7,
		BandwidthHz:         125000,
		CodingRate:          1,
		WideArea:            true,
		PreambleSymbols:     8,
		TxJoulesPerSecond:   1,
		RxJoulesPerSecond:   0.1,
		IdleJoulesPerSecond: 0.001,
	}
}

// DefaultProfile returns the built-in profile for m.
func DefaultProfile(m Medium) (RadioProfile, error) {
	switch m {
	case MediumD2D:
		return DefaultD2DProfile(), nil
	case MediumLoRaWAN:
		return DefaultLoRaWANProfile(), nil
	default:
		return RadioProfile{}, fmt.Errorf("%w: %s", ErrUnknownMedium, m)
	}
}

// Validate checks that the profile yields a usable bit rate and
// non-negative power figures.
func (p RadioProfile) Validate() error {
	switch {
	case p.Medium != MediumD2D && p.Medium != MediumLoRaWAN:
		return fmt.Errorf("%w: medium %s", ErrInvalidRadioProfile, p.Medium)
	case p.SpreadingFactor < 1:
		return fmt.Errorf("%w: spreading factor %d", ErrInvalidRadioProfile, p.SpreadingFactor)
	case p.BandwidthHz <= 0:
		return fmt.Errorf("%w: bandwidth %v", ErrInvalidRadioProfile, p.BandwidthHz)
	case p.CodingRate < 0:
		return fmt.Errorf("%w: coding rate %d", ErrInvalidRadioProfile, p.CodingRate)
	case p.PreambleSymbols < 0:
		return fmt.Errorf("%w: preamble %v", ErrInvalidRadioProfile, p.PreambleSymbols)
	case p.TxJoulesPerSecond < 0 || p.RxJoulesPerSecond < 0 || p.IdleJoulesPerSecond < 0:
		return fmt.Errorf("%w: negative power draw", ErrInvalidRadioProfile)
	}
	return nil
}

// IsCompatible returns true if both radios share a medium and can hear
// each other.
func (p RadioProfile) IsCompatible(other RadioProfile) bool {
	return p.Medium == other.Medium
}

func (p RadioProfile) chips() float64 {
	return math.Exp2(float64(p.SpreadingFactor))
}

// EffectiveBitRate is (BW / 2^SF) * (4 / (4 + CR)) in bits per second.
func (p RadioProfile) EffectiveBitRate() float64 {
	return (p.BandwidthHz / p.chips()) * (4 / (4 + float64(p.CodingRate)))
}

// AirTimeSeconds is the on-air duration of a payloadBytes frame.
func (p RadioProfile) AirTimeSeconds(payloadBytes int) float64 {
	seconds := float64(payloadBytes*8) / p.EffectiveBitRate()
	if p.WideArea {
		seconds += (p.PreambleSymbols + preambleSyncSymbols) * p.chips() / p.BandwidthHz
	}
	return seconds
}

// AirTimeTicks is the air time rounded up to whole ticks. The ceiling is
// load-bearing: it fixes the collision windows seen by receivers.
func (p RadioProfile) AirTimeTicks(payloadBytes int, ticksPerSecond float64) int64 {
	return int64(math.Ceil(p.AirTimeSeconds(payloadBytes) * ticksPerSecond))
}

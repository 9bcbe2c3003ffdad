// Package config loads simulation scenarios from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/lora-simulator/core"
	"github.com/signalsfoundry/lora-simulator/timectrl"
)

// ErrInvalidConfig wraps every scenario validation failure.
var ErrInvalidConfig = errors.New("invalid scenario config")

// Scenario is the top-level YAML document.
type Scenario struct {
	TicksPerSecond       float64                `yaml:"ticks_per_second"`
	Ticks                int64                  `yaml:"ticks"`
	Mode                 string                 `yaml:"mode"`           // accelerated | realtime
	OverlapPolicy        string                 `yaml:"overlap_policy"` // permissive | intersect
	SampleInterval       int64                  `yaml:"sample_interval"`
	ClockJoulesPerSecond *float64               `yaml:"clock_joules_per_second,omitempty"`
	Radios               map[string]RadioConfig `yaml:"radios,omitempty"`
	Nodes                []NodeSpec             `yaml:"nodes"`
}

// RadioConfig overrides fields of a medium's built-in profile. Unset
// fields keep the default.
type RadioConfig struct {
	SpreadingFactor     *int     `yaml:"spreading_factor,omitempty"`
	BandwidthHz         *float64 `yaml:"bandwidth_hz,omitempty"`
	CodingRate          *int     `yaml:"coding_rate,omitempty"`
	PreambleSymbols     *float64 `yaml:"preamble_symbols,omitempty"`
	TxJoulesPerSecond   *float64 `yaml:"tx_joules_per_second,omitempty"`
	RxJoulesPerSecond   *float64 `yaml:"rx_joules_per_second,omitempty"`
	IdleJoulesPerSecond *float64 `yaml:"idle_joules_per_second,omitempty"`
}

// BatterySpec overrides the default battery. Unset fields keep the default.
type BatterySpec struct {
	CapacityJ          *float64 `yaml:"capacity_j,omitempty"`
	InitialChargeJ     *float64 `yaml:"initial_charge_j,omitempty"`
	RechargeJPerSecond *float64 `yaml:"recharge_j_per_second,omitempty"`
}

// TrafficSpec configures a periodic sender.
type TrafficSpec struct {
	Medium       string `yaml:"medium"`
	Interval     int64  `yaml:"interval"`
	Offset       int64  `yaml:"offset"`
	PayloadBytes int    `yaml:"payload_bytes"` // at least core.MinPayloadBytes
}

// NodeSpec describes one device. An empty Radios list fits every medium.
type NodeSpec struct {
	ID      int           `yaml:"id"`
	Radios  []string      `yaml:"radios,omitempty"`
	Battery BatterySpec   `yaml:"battery,omitempty"`
	Listen  []string      `yaml:"listen,omitempty"`
	Traffic []TrafficSpec `yaml:"traffic,omitempty"`
}

// Default returns a two-node D2D scenario: node 1 sends a 20 byte frame
// every second and node 2 listens.
func Default() *Scenario {
	return &Scenario{
		TicksPerSecond: 1000,
		Ticks:          10000,
		Mode:           timectrl.Accelerated.String(),
		OverlapPolicy:  core.OverlapPermissive.String(),
		SampleInterval: 100,
		Nodes: []NodeSpec{
			{ID: 1, Radios: []string{"d2d"}, Traffic: []TrafficSpec{{Medium: "d2d", Interval: 1000, Offset: 10, PayloadBytes: 20}}},
			{ID: 2, Radios: []string{"d2d"}, Listen: []string{"d2d"}},
		},
	}
}

// Load reads and validates the scenario at path.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario %q: %w", path, err)
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load scenario %q: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Scenario, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads one YAML document from r. Unknown keys are rejected and
// zero-valued top-level settings fall back to the defaults.
func Decode(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) applyDefaults() {
	def := Default()
	if s.TicksPerSecond == 0 {
		s.TicksPerSecond = def.TicksPerSecond
	}
	if s.Ticks == 0 {
		s.Ticks = def.Ticks
	}
	if s.Mode == "" {
		s.Mode = def.Mode
	}
	if s.OverlapPolicy == "" {
		s.OverlapPolicy = def.OverlapPolicy
	}
}

// Validate checks the scenario for values the simulator cannot run.
func (s *Scenario) Validate() error {
	if s.TicksPerSecond <= 0 {
		return fmt.Errorf("%w: ticks_per_second must be positive", ErrInvalidConfig)
	}
	if s.Ticks < 0 {
		return fmt.Errorf("%w: ticks must not be negative", ErrInvalidConfig)
	}
	if s.SampleInterval < 0 {
		return fmt.Errorf("%w: sample_interval must not be negative", ErrInvalidConfig)
	}
	if s.ClockJoulesPerSecond != nil && *s.ClockJoulesPerSecond < 0 {
		return fmt.Errorf("%w: clock_joules_per_second must not be negative", ErrInvalidConfig)
	}
	if _, err := s.TimeMode(); err != nil {
		return err
	}
	if _, err := s.Policy(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := s.RadioProfiles(); err != nil {
		return err
	}
	if len(s.Nodes) == 0 {
		return fmt.Errorf("%w: at least one node is required", ErrInvalidConfig)
	}

	seen := make(map[int]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %d", ErrInvalidConfig, n.ID)
		}
		seen[n.ID] = true
		if err := n.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (n NodeSpec) validate() error {
	radios, err := n.media()
	if err != nil {
		return err
	}
	listening := make(map[core.Medium]bool)
	for _, name := range n.Listen {
		m, err := parseMedium(n.ID, name)
		if err != nil {
			return err
		}
		if !slices.Contains(radios, m) {
			return fmt.Errorf("%w: node %d listens on %s without a radio for it", ErrInvalidConfig, n.ID, m)
		}
		listening[m] = true
	}
	for _, tr := range n.Traffic {
		m, err := parseMedium(n.ID, tr.Medium)
		if err != nil {
			return err
		}
		if !slices.Contains(radios, m) {
			return fmt.Errorf("%w: node %d sends on %s without a radio for it", ErrInvalidConfig, n.ID, m)
		}
		if listening[m] {
			return fmt.Errorf("%w: node %d both listens and sends on %s", ErrInvalidConfig, n.ID, m)
		}
		if tr.Interval <= 0 {
			return fmt.Errorf("%w: node %d traffic interval must be positive", ErrInvalidConfig, n.ID)
		}
		if tr.Offset < 0 {
			return fmt.Errorf("%w: node %d traffic offset must not be negative", ErrInvalidConfig, n.ID)
		}
		if tr.PayloadBytes < core.MinPayloadBytes {
			return fmt.Errorf("%w: node %d traffic payload_bytes must be at least %d", ErrInvalidConfig, n.ID, core.MinPayloadBytes)
		}
	}
	if c := n.Battery.CapacityJ; c != nil && *c <= 0 {
		return fmt.Errorf("%w: node %d battery capacity must be positive", ErrInvalidConfig, n.ID)
	}
	if r := n.Battery.RechargeJPerSecond; r != nil && *r < 0 {
		return fmt.Errorf("%w: node %d recharge rate must not be negative", ErrInvalidConfig, n.ID)
	}
	return nil
}

func (n NodeSpec) media() ([]core.Medium, error) {
	if len(n.Radios) == 0 {
		return core.Media(), nil
	}
	out := make([]core.Medium, 0, len(n.Radios))
	for _, name := range n.Radios {
		m, err := parseMedium(n.ID, name)
		if err != nil {
			return nil, err
		}
		if slices.Contains(out, m) {
			return nil, fmt.Errorf("%w: node %d lists radio %s twice", ErrInvalidConfig, n.ID, m)
		}
		out = append(out, m)
	}
	return out, nil
}

func parseMedium(nodeID int, name string) (core.Medium, error) {
	m, err := core.ParseMedium(name)
	if err != nil {
		return core.MediumNone, fmt.Errorf("%w: node %d: %w", ErrInvalidConfig, nodeID, err)
	}
	return m, nil
}

// TimeMode parses the scheduler mode.
func (s *Scenario) TimeMode() (timectrl.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s.Mode)) {
	case "", "accelerated":
		return timectrl.Accelerated, nil
	case "realtime", "real_time":
		return timectrl.RealTime, nil
	default:
		return timectrl.Accelerated, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s.Mode)
	}
}

// Policy parses the collision overlap policy.
func (s *Scenario) Policy() (core.OverlapPolicy, error) {
	return core.ParseOverlapPolicy(s.OverlapPolicy)
}

// ClockDraw returns the local clock draw in J/s.
func (s *Scenario) ClockDraw() float64 {
	if s.ClockJoulesPerSecond != nil {
		return *s.ClockJoulesPerSecond
	}
	return core.DefaultClockJoulesPerSecond
}

// RadioProfiles returns the built-in profile of every medium with the
// scenario's overrides applied.
func (s *Scenario) RadioProfiles() (map[core.Medium]core.RadioProfile, error) {
	out := make(map[core.Medium]core.RadioProfile, len(core.Media()))
	for _, m := range core.Media() {
		p, err := core.DefaultProfile(m)
		if err != nil {
			return nil, err
		}
		out[m] = p
	}
	for name, rc := range s.Radios {
		m, err := core.ParseMedium(name)
		if err != nil {
			return nil, fmt.Errorf("%w: radios: %w", ErrInvalidConfig, err)
		}
		p := rc.apply(out[m])
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: radios.%s: %w", ErrInvalidConfig, name, err)
		}
		out[m] = p
	}
	return out, nil
}

func (rc RadioConfig) apply(p core.RadioProfile) core.RadioProfile {
	if rc.SpreadingFactor != nil {
		p.SpreadingFactor = *rc.SpreadingFactor
	}
	if rc.BandwidthHz != nil {
		p.BandwidthHz = *rc.BandwidthHz
	}
	if rc.CodingRate != nil {
		p.CodingRate = *rc.CodingRate
	}
	if rc.PreambleSymbols != nil {
		p.PreambleSymbols = *rc.PreambleSymbols
	}
	if rc.TxJoulesPerSecond != nil {
		p.TxJoulesPerSecond = *rc.TxJoulesPerSecond
	}
	if rc.RxJoulesPerSecond != nil {
		p.RxJoulesPerSecond = *rc.RxJoulesPerSecond
	}
	if rc.IdleJoulesPerSecond != nil {
		p.IdleJoulesPerSecond = *rc.IdleJoulesPerSecond
	}
	return p
}

func (b BatterySpec) config() core.BatteryConfig {
	cfg := core.DefaultBatteryConfig()
	if b.CapacityJ != nil {
		cfg.CapacityJ = *b.CapacityJ
	}
	if b.RechargeJPerSecond != nil {
		cfg.RechargeJPerSecond = *b.RechargeJPerSecond
	}
	cfg.InitialChargeJ = b.InitialChargeJ
	return cfg
}

// Populate builds every node of the scenario, with its applications, on se.
func (s *Scenario) Populate(se *core.SimulationEngine, opts ...core.NodeOption) error {
	profiles, err := s.RadioProfiles()
	if err != nil {
		return err
	}
	policy, err := s.Policy()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for _, spec := range s.Nodes {
		media, err := spec.media()
		if err != nil {
			return err
		}
		radios := make([]core.RadioProfile, 0, len(media))
		for _, m := range media {
			radios = append(radios, profiles[m])
		}

		n, err := se.NewNode(core.NodeConfig{
			ID:                   spec.ID,
			TicksPerSecond:       s.TicksPerSecond,
			Battery:              spec.Battery.config(),
			ClockJoulesPerSecond: s.ClockDraw(),
			Radios:               radios,
			OverlapPolicy:        policy,
		}, opts...)
		if err != nil {
			return err
		}

		for _, name := range spec.Listen {
			m, _ := core.ParseMedium(name)
			n.AddApplication(core.NewListener(n.Mailbox(), m))
		}
		for _, tr := range spec.Traffic {
			m, _ := core.ParseMedium(tr.Medium)
			src, err := core.NewTrafficSource(n.Mailbox(), m, tr.Interval, tr.Offset, tr.PayloadBytes)
			if err != nil {
				return fmt.Errorf("node %d: %w", spec.ID, err)
			}
			n.AddApplication(src)
		}
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/lora-simulator/core"
	"github.com/signalsfoundry/lora-simulator/timectrl"
)

const sampleScenario = `
ticks_per_second: 1000
ticks: 3000
mode: realtime
overlap_policy: intersect
sample_interval: 100
clock_joules_per_second: 0.5
radios:
  lorawan:
    preamble_symbols: 12
    rx_joules_per_second: 0.2
nodes:
  - id: 1
    radios: [d2d]
    traffic:
      - {medium: d2d, interval: 1000, offset: 10, payload_bytes: 20}
  - id: 2
    battery: {capacity_j: 50, initial_charge_j: 10, recharge_j_per_second: 0}
    listen: [d2d]
`

func TestParseSample(t *testing.T) {
	s, err := Parse([]byte(sampleScenario))
	require.NoError(t, err)

	require.Equal(t, 1000.0, s.TicksPerSecond)
	require.Equal(t, int64(3000), s.Ticks)
	require.Equal(t, 0.5, s.ClockDraw())

	mode, err := s.TimeMode()
	require.NoError(t, err)
	require.Equal(t, timectrl.RealTime, mode)

	policy, err := s.Policy()
	require.NoError(t, err)
	require.Equal(t, core.OverlapIntersect, policy)

	profiles, err := s.RadioProfiles()
	require.NoError(t, err)
	require.Equal(t, 12.0, profiles[core.MediumLoRaWAN].PreambleSymbols)
	require.Equal(t, 0.2, profiles[core.MediumLoRaWAN].RxJoulesPerSecond)
	require.Equal(t, core.DefaultLoRaWANProfile().TxJoulesPerSecond, profiles[core.MediumLoRaWAN].TxJoulesPerSecond)
	require.Equal(t, core.DefaultD2DProfile(), profiles[core.MediumD2D])
}

func TestParseAppliesDefaults(t *testing.T) {
	s, err := Parse([]byte("nodes:\n  - id: 7\n"))
	require.NoError(t, err)

	require.Equal(t, 1000.0, s.TicksPerSecond)
	require.Equal(t, int64(10000), s.Ticks)
	require.Equal(t, core.DefaultClockJoulesPerSecond, s.ClockDraw())

	mode, err := s.TimeMode()
	require.NoError(t, err)
	require.Equal(t, timectrl.Accelerated, mode)

	policy, err := s.Policy()
	require.NoError(t, err)
	require.Equal(t, core.OverlapPermissive, policy)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("tick_rate: 10\nnodes:\n  - id: 1\n"))
	require.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"no nodes":         "ticks: 10\n",
		"negative ticks":   "ticks: -1\nnodes: [{id: 1}]\n",
		"bad mode":         "mode: warp\nnodes: [{id: 1}]\n",
		"bad policy":       "overlap_policy: loose\nnodes: [{id: 1}]\n",
		"duplicate id":     "nodes: [{id: 1}, {id: 1}]\n",
		"unknown medium":   "nodes: [{id: 1, radios: [wifi]}]\n",
		"duplicate radio":  "nodes: [{id: 1, radios: [d2d, d2d]}]\n",
		"listen no radio":  "nodes: [{id: 1, radios: [d2d], listen: [lorawan]}]\n",
		"send no radio":    "nodes: [{id: 1, radios: [lorawan], traffic: [{medium: d2d, interval: 5}]}]\n",
		"listen and send":  "nodes: [{id: 1, listen: [d2d], traffic: [{medium: d2d, interval: 5}]}]\n",
		"zero interval":    "nodes: [{id: 1, traffic: [{medium: d2d, interval: 0, payload_bytes: 8}]}]\n",
		"zero payload":     "nodes: [{id: 1, traffic: [{medium: d2d, interval: 5, payload_bytes: 0}]}]\n",
		"short payload":    "nodes: [{id: 1, traffic: [{medium: d2d, interval: 5, payload_bytes: 3}]}]\n",
		"omitted payload":  "nodes: [{id: 1, traffic: [{medium: d2d, interval: 5}]}]\n",
		"zero capacity":    "nodes: [{id: 1, battery: {capacity_j: 0}}]\n",
		"bad radio":        "radios: {d2d: {bandwidth_hz: 0}}\nnodes: [{id: 1}]\n",
		"unknown radio":    "radios: {wifi: {}}\nnodes: [{id: 1}]\n",
		"negative clock":   "clock_joules_per_second: -1\nnodes: [{id: 1}]\n",
		"negative samples": "sample_interval: -5\nnodes: [{id: 1}]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleScenario), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	require.Len(t, s.Nodes, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadShippedScenario(t *testing.T) {
	s, err := Load(filepath.Join("..", "..", "configs", "scenario.yaml"))
	require.NoError(t, err)
	require.Len(t, s.Nodes, 4)
}

func TestPopulateBuildsNodes(t *testing.T) {
	s, err := Parse([]byte(sampleScenario))
	require.NoError(t, err)

	se := core.NewSimulationEngine(nil)
	require.NoError(t, s.Populate(se))
	require.Len(t, se.Nodes(), 2)

	sender, ok := se.Node(1)
	require.True(t, ok)
	d2d, hasD2D := sender.Transceivers().Transceiver(core.MediumD2D)
	_, hasWAN := sender.Transceivers().Transceiver(core.MediumLoRaWAN)
	require.True(t, hasD2D)
	require.False(t, hasWAN)
	require.Equal(t, core.OverlapIntersect, d2d.Policy())

	listener, ok := se.Node(2)
	require.True(t, ok)
	require.Len(t, listener.Transceivers().Transceivers(), 2)
	require.Equal(t, 10.0, listener.Battery().Charge())
	require.Equal(t, 50.0, listener.Battery().Capacity())
}

func TestPopulatedScenarioDelivers(t *testing.T) {
	s := Default()
	se := core.NewSimulationEngine(nil)
	require.NoError(t, s.Populate(se))
	for _, n := range se.Nodes() {
		for _, tr := range n.Transceivers().Transceivers() {
			require.Equal(t, core.OverlapPermissive, tr.Policy())
		}
	}

	se.Run(timectrl.NewClock(), 1100)

	stats := se.Stats()
	require.Equal(t, int64(1100), stats.Ticks)
	require.GreaterOrEqual(t, stats.Transmissions, int64(2))
	require.GreaterOrEqual(t, stats.Receptions, int64(1))
}

func TestPopulateRejectsDuplicateNodes(t *testing.T) {
	s := Default()
	se := core.NewSimulationEngine(nil)
	require.NoError(t, s.Populate(se))
	require.ErrorIs(t, s.Populate(se), core.ErrNodeExists)
}

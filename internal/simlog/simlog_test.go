package simlog

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/lora-simulator/timectrl"
)

func TestRecorderAddAndFilter(t *testing.T) {
	clock := timectrl.NewClock()
	r := NewRecorder(clock)

	require.NoError(t, r.Add(SeverityInfo, AreaSimulator, "Simulation started"))
	clock.Advance(5)
	require.NoError(t, r.Add(SeverityError, AreaNode, "Node failure"))

	all := r.Get(Filter{})
	require.Len(t, all, 2)
	require.Equal(t, int64(0), all[0].Tick)
	require.Equal(t, int64(5), all[1].Tick)

	info := r.Get(Filter{Severity: SeverityInfo})
	require.Len(t, info, 1)
	require.Equal(t, "Simulation started", info[0].Message)

	node := r.Get(Filter{Area: AreaNode})
	require.Len(t, node, 1)
	require.Equal(t, SeverityError, node[0].Severity)

	msg := r.Get(Filter{Contains: "failure"})
	require.Len(t, msg, 1)

	none := r.Get(Filter{Severity: SeverityInfo, Area: AreaSimulator, Contains: "notfound"})
	require.Empty(t, none)
}

func TestRecorderRejectsInvalidTags(t *testing.T) {
	r := NewRecorder(timectrl.NewClock())

	err := r.Add(Severity(42), AreaSimulator, "bad severity")
	require.True(t, errors.Is(err, ErrInvalidSeverity), "got %v", err)

	err = r.Add(SeverityInfo, Area(0), "bad area")
	require.True(t, errors.Is(err, ErrInvalidArea), "got %v", err)

	err = r.AddData(AreaBattery, " ", 1, "J")
	require.ErrorIs(t, err, ErrInvalidLabel)

	require.Empty(t, r.Entries())
	require.Empty(t, r.Data())
}

func TestRecorderSinkFormat(t *testing.T) {
	var buf bytes.Buffer
	clock := timectrl.NewClock()
	clock.Set(12)
	r := NewRecorder(clock, WithSink(&buf))

	require.NoError(t, r.Add(SeverityWarning, AreaGateway, "Gateway warning"))
	require.Equal(t, "[t=12] [WARNING] (gateway): Gateway warning\n", buf.String())
}

func TestRecorderDataAndCounts(t *testing.T) {
	clock := timectrl.NewClock()
	r := NewRecorder(clock)

	require.NoError(t, r.AddData(AreaBattery, "node-1/charge", 999.5, "J"))
	require.NoError(t, r.AddData(AreaBattery, "node-0/charge", 1000, "J"))
	require.NoError(t, r.AddData(AreaClock, "node-0/local_time", 3, "units"))
	require.NoError(t, r.Add(SeverityDebug, AreaNode, "a"))
	require.NoError(t, r.Addf(SeverityDebug, AreaNode, "b %d", 2))
	require.NoError(t, r.Add(SeverityCritical, AreaNode, "c"))

	require.Len(t, r.Data(), 3)
	require.Equal(t, []string{"node-0/charge", "node-1/charge"}, r.Labels(AreaBattery))

	counts := r.Counts()
	require.Equal(t, 2, counts[SeverityDebug])
	require.Equal(t, 1, counts[SeverityCritical])
	require.Zero(t, counts[SeverityInfo])
	require.Equal(t, "b 2", r.Get(Filter{Contains: "b"})[0].Message)
}

func TestParseTags(t *testing.T) {
	for _, sev := range Severities() {
		got, err := ParseSeverity(sev.String())
		require.NoError(t, err)
		require.Equal(t, sev, got)
	}
	for _, area := range Areas() {
		got, err := ParseArea(area.String())
		require.NoError(t, err)
		require.Equal(t, area, got)
	}

	sev, err := ParseSeverity("warning")
	require.NoError(t, err)
	require.Equal(t, SeverityWarning, sev)

	_, err = ParseSeverity("NOT_A_SEVERITY")
	require.ErrorIs(t, err, ErrInvalidSeverity)
	_, err = ParseArea("NOT_AN_AREA")
	require.ErrorIs(t, err, ErrInvalidArea)
}

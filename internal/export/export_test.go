package export

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/lora-simulator/core"
	"github.com/signalsfoundry/lora-simulator/internal/simlog"
	"github.com/signalsfoundry/lora-simulator/timectrl"
)

func newRecorder(t *testing.T) *simlog.Recorder {
	t.Helper()
	clock := timectrl.NewClock()
	rec := simlog.NewRecorder(clock)

	require.NoError(t, rec.Add(simlog.SeverityInfo, simlog.AreaSimulator, "run started"))
	clock.Set(100)
	require.NoError(t, rec.AddData(simlog.AreaBattery, "node-1/charge", 999.5, "J"))
	require.NoError(t, rec.AddData(simlog.AreaClock, "node-1/local_time", 1, "units"))
	require.NoError(t, rec.Add(simlog.SeverityWarning, simlog.AreaNode, "node 1 ran out of energy in WAKE"))
	return rec
}

func TestWriteDataCSV(t *testing.T) {
	rec := newRecorder(t)

	var buf bytes.Buffer
	require.NoError(t, WriteDataCSV(&buf, rec.Data()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"timestamp", "area", "label", "data", "unit"},
		{"100", simlog.AreaBattery.String(), "node-1/charge", "999.5", "J"},
		{"100", simlog.AreaClock.String(), "node-1/local_time", "1", "units"},
	}, rows)
}

func TestWriteDataCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDataCSV(&buf, nil))
	require.Equal(t, "timestamp,area,label,data,unit\n", buf.String())
}

func TestWriteLogText(t *testing.T) {
	rec := newRecorder(t)

	var buf bytes.Buffer
	require.NoError(t, WriteLogText(&buf, rec.Entries()))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, rec.Entries()[0].Format(), lines[0])
	require.True(t, strings.HasPrefix(lines[1], "[t=100] "), lines[1])
}

func TestWriteEventsJSONL(t *testing.T) {
	tx, err := core.NewNetworkEvent(1, 10, 215, []byte{0, 0, 0, 7}, core.EventTransmit, core.MediumD2D)
	require.NoError(t, err)
	cx, err := core.NewNetworkEvent(1, 50, 215, nil, core.EventCancelled, core.MediumLoRaWAN)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteEventsJSONL(&buf, []core.NetworkEvent{tx, cx}))

	var got []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		got = append(got, m)
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, 2)

	require.Equal(t, 1.0, got[0]["node_id"])
	require.Equal(t, 10.0, got[0]["time_start"])
	require.Equal(t, 215.0, got[0]["time_end"])
	require.Equal(t, []any{0.0, 0.0, 0.0, 7.0}, got[0]["data"])
	require.Equal(t, "TRANSMIT", got[0]["kind"])
	require.Equal(t, "D2D_LORA", got[0]["medium"])

	require.Equal(t, "CANCELED", got[1]["kind"])
	require.Equal(t, "LORA_WAN", got[1]["medium"])
	require.Equal(t, []any{}, got[1]["data"])
}

func TestWriteRunArtifacts(t *testing.T) {
	rec := newRecorder(t)
	log := core.NewEventLog()
	ev, err := core.NewNetworkEvent(2, 0, 5, []byte("hi"), core.EventTransmit, core.MediumD2D)
	require.NoError(t, err)
	log.PushBack(ev)

	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, WriteRunArtifacts(dir, rec, log))

	for _, name := range []string{LogFile, DataFile, EventsFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		require.NotEmpty(t, data, name)
	}
}

func TestWriteRunArtifactsSkipsMissingSources(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteRunArtifacts(dir, nil, nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// Package export writes the history of a finished run to disk.
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"

	"github.com/signalsfoundry/lora-simulator/core"
	"github.com/signalsfoundry/lora-simulator/internal/simlog"
)

// Artifact file names written by WriteRunArtifacts.
const (
	LogFile    = "simulation.log"
	DataFile   = "results.csv"
	EventsFile = "events.jsonl"
)

var dataHeader = []string{"timestamp", "area", "label", "data", "unit"}

// WriteDataCSV writes one row per data point, in recording order.
func WriteDataCSV(w io.Writer, points []simlog.DataPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(dataHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range points {
		row := []string{
			strconv.FormatInt(p.Tick, 10),
			p.Area.String(),
			p.Label,
			strconv.FormatFloat(p.Value, 'g', -1, 64),
			p.Unit,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteLogText writes every entry as one formatted line.
func WriteLogText(w io.Writer, entries []simlog.Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintln(bw, e.Format()); err != nil {
			return fmt.Errorf("write log line: %w", err)
		}
	}
	return bw.Flush()
}

// WriteEventsJSONL writes each network event as a single-line JSON object.
func WriteEventsJSONL(w io.Writer, events []core.NetworkEvent) error {
	bw := bufio.NewWriter(w)
	opts := protojson.MarshalOptions{UseProtoNames: true}
	for _, ev := range events {
		st, err := ev.AsStruct()
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev, err)
		}
		line, err := opts.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev, err)
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteRunArtifacts writes the text log, the data CSV and the event dump
// into dir, creating it if needed. A nil recorder skips the first two.
func WriteRunArtifacts(dir string, rec *simlog.Recorder, events *core.EventLog) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if rec != nil {
		err = errors.Join(err,
			writeFile(filepath.Join(dir, LogFile), func(w io.Writer) error { return WriteLogText(w, rec.Entries()) }),
			writeFile(filepath.Join(dir, DataFile), func(w io.Writer) error { return WriteDataCSV(w, rec.Data()) }),
		)
	}
	if events != nil {
		err = errors.Join(err,
			writeFile(filepath.Join(dir, EventsFile), func(w io.Writer) error { return WriteEventsJSONL(w, events.Events()) }),
		)
	}
	return err
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/signalsfoundry/lora-simulator/core"
	"github.com/signalsfoundry/lora-simulator/internal/simlog"

	_ "modernc.org/sqlite"
)

// ResultsDBFile is the database name used by the simulator CLI.
const ResultsDBFile = "results.db"

// ErrRunNotFound is returned when a run ID has no stored summary.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is the per-run row of the results database.
type RunSummary struct {
	RunID         string
	Ticks         int64
	Transmissions int64
	Cancellations int64
	Receptions    int64
	Deaths        int64
}

// ResultStore keeps the history of many runs in one SQLite database.
type ResultStore struct {
	db *sql.DB
}

// OpenResultStore opens (creating if needed) the database at path.
func OpenResultStore(ctx context.Context, path string) (*ResultStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &ResultStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init results schema: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

func (s *ResultStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		ticks INTEGER NOT NULL,
		transmissions INTEGER NOT NULL,
		cancellations INTEGER NOT NULL,
		receptions INTEGER NOT NULL,
		deaths INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS log_entries (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		severity TEXT NOT NULL,
		area TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS data_points (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		area TEXT NOT NULL,
		label TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS network_events (
		run_id TEXT NOT NULL,
		node_id INTEGER NOT NULL,
		time_start INTEGER NOT NULL,
		time_end INTEGER NOT NULL,
		kind TEXT NOT NULL,
		medium TEXT NOT NULL,
		data BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_data_points_label ON data_points (run_id, label, tick);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// SaveRun stores one run's summary, log, data points and network events in
// a single transaction.
func (s *ResultStore) SaveRun(ctx context.Context, sum RunSummary, entries []simlog.Entry, points []simlog.DataPoint, events []core.NetworkEvent) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, ticks, transmissions, cancellations, receptions, deaths) VALUES (?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Ticks, sum.Transmissions, sum.Cancellations, sum.Receptions, sum.Deaths,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", sum.RunID, err)
	}

	for _, e := range entries {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO log_entries (run_id, tick, severity, area, message) VALUES (?, ?, ?, ?, ?)`,
			sum.RunID, e.Tick, e.Severity.String(), e.Area.String(), e.Message,
		); err != nil {
			return fmt.Errorf("insert log entry: %w", err)
		}
	}
	for _, p := range points {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO data_points (run_id, tick, area, label, value, unit) VALUES (?, ?, ?, ?, ?, ?)`,
			sum.RunID, p.Tick, p.Area.String(), p.Label, p.Value, p.Unit,
		); err != nil {
			return fmt.Errorf("insert data point: %w", err)
		}
	}
	for _, ev := range events {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO network_events (run_id, node_id, time_start, time_end, kind, medium, data) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sum.RunID, ev.NodeID(), ev.Start(), ev.End(), ev.Kind().String(), ev.Medium().String(), ev.Data(),
		); err != nil {
			return fmt.Errorf("insert network event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", sum.RunID, err)
	}
	return nil
}

// Run returns the stored summary of runID.
func (s *ResultStore) Run(ctx context.Context, runID string) (RunSummary, error) {
	var sum RunSummary
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, ticks, transmissions, cancellations, receptions, deaths FROM runs WHERE run_id = ?`, runID,
	).Scan(&sum.RunID, &sum.Ticks, &sum.Transmissions, &sum.Cancellations, &sum.Receptions, &sum.Deaths)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return RunSummary{}, err
	}
	return sum, nil
}

// Series returns the data points of one label in tick order.
func (s *ResultStore) Series(ctx context.Context, runID, label string) ([]simlog.DataPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick, area, value, unit FROM data_points WHERE run_id = ? AND label = ? ORDER BY tick`, runID, label)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []simlog.DataPoint
	for rows.Next() {
		p := simlog.DataPoint{Label: label}
		var area string
		if err := rows.Scan(&p.Tick, &area, &p.Value, &p.Unit); err != nil {
			return nil, err
		}
		if p.Area, err = simlog.ParseArea(area); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EventCounts returns how many network events of each kind a run logged.
func (s *ResultStore) EventCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM network_events WHERE run_id = ? GROUP BY kind`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

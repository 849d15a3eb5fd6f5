// Package record stores acquisition runs in a SQLite database, so that a
// scan survives the plot window it was shown in.
package record

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/baldwint/wanglib/lib/acquire"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver
)

// Store is a database of runs.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		started TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS points (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		trace INTEGER NOT NULL,
		x REAL,
		y REAL,
		PRIMARY KEY (run_id, seq, trace)
	);
	`)
	return err
}

// Run is one acquisition being recorded.
type Run struct {
	ID      uuid.UUID
	Name    string
	Started time.Time

	store *Store
	seq   int
}

// StartRun registers a new run.
func (s *Store) StartRun(ctx context.Context, name string) (*Run, error) {
	r := &Run{ID: uuid.New(), Name: name, Started: time.Now().UTC(), store: s}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id, name, started) VALUES (?, ?, ?)`,
		r.ID.String(), name, r.Started.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("start run %q: %w", name, err)
	}
	return r, nil
}

// Append stores one sample.
func (r *Run) Append(ctx context.Context, smp acquire.Sample) error {
	if len(smp)%2 != 0 {
		return fmt.Errorf("sample of %d values is not a set of X,Y pairs", len(smp))
	}
	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i := range smp.Traces() {
		x, y := smp.Pair(i)
		if _, err := tx.ExecContext(ctx, `INSERT INTO points (run_id, seq, trace, x, y) VALUES (?, ?, ?, ?, ?)`,
			r.ID.String(), r.seq, i, nullable(x), nullable(y)); err != nil {
			return fmt.Errorf("append to run %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.seq++
	return nil
}

// Recorder returns a function for acquire.Tee that appends every sample.
func (r *Run) Recorder(ctx context.Context) func(acquire.Sample) error {
	return func(s acquire.Sample) error { return r.Append(ctx, s) }
}

// RunInfo summarizes a stored run.
type RunInfo struct {
	ID      uuid.UUID
	Name    string
	Started time.Time
	Samples int
}

// Runs lists the stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT r.id, r.name, r.started, COUNT(DISTINCT p.seq)
	FROM runs r LEFT JOIN points p ON p.run_id = r.id
	GROUP BY r.id
	ORDER BY r.started, r.rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunInfo
	for rows.Next() {
		var (
			info        RunInfo
			id, started string
		)
		if err := rows.Scan(&id, &info.Name, &started, &info.Samples); err != nil {
			return nil, err
		}
		if info.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		if info.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s start time: %w", id, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Points returns the samples of a run in acquisition order.
func (s *Store) Points(ctx context.Context, runID uuid.UUID) ([]acquire.Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, x, y FROM points WHERE run_id = ? ORDER BY seq, trace`, runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		out  []acquire.Sample
		last = -1
	)
	for rows.Next() {
		var (
			seq  int
			x, y sql.NullFloat64
		)
		if err := rows.Scan(&seq, &x, &y); err != nil {
			return nil, err
		}
		if seq != last {
			out = append(out, nil)
			last = seq
		}
		i := len(out) - 1
		out[i] = append(out[i], value(x), value(y))
	}
	return out, rows.Err()
}

// SQLite has no NaN; masked or unlocked readings are stored as NULL.
func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func value(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

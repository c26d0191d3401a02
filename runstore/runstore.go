// Package runstore keeps a ledger of training runs in a SQLite database.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ieee0824/gendismix-go/classifier"
	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/trainer"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("runstore: run not found")

// Run is one ledger row.
type Run struct {
	ID              uuid.UUID
	Started         time.Time
	Beta            classifier.Beta
	Algorithm       string
	Threads         int
	Classes         int
	Sequences       int
	Params          int
	Value           float64
	Iterations      int
	FuncEvaluations int
	GradEvaluations int
	Status          string
	Runtime         time.Duration
	ModelPath       string
	StartValues     []float64
}

// FromResult builds the ledger row of a finished training run.
func FromResult(res *trainer.Result, cl *classifier.Classifier, data *corpus.Corpus, cfg trainer.Config) Run {
	return Run{
		ID:              res.RunID,
		Started:         time.Now().Add(-res.Runtime),
		Beta:            cl.Beta(),
		Algorithm:       cfg.Algorithm.String(),
		Threads:         cfg.Threads,
		Classes:         data.NumClasses(),
		Sequences:       data.Len(),
		Params:          cl.NumberOfParameters(),
		Value:           res.Value,
		Iterations:      res.Iterations,
		FuncEvaluations: res.FuncEvaluations,
		GradEvaluations: res.GradEvaluations,
		Status:          res.Status,
		Runtime:         res.Runtime,
		StartValues:     append([]float64(nil), res.StartValues...),
	}
}

// Store is an open ledger.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs(
			id TEXT PRIMARY KEY,
			ts REAL NOT NULL,
			beta_gen REAL NOT NULL,
			beta_disc REAL NOT NULL,
			beta_prior REAL NOT NULL,
			algorithm TEXT NOT NULL,
			threads INTEGER NOT NULL,
			classes INTEGER NOT NULL,
			sequences INTEGER NOT NULL,
			params INTEGER NOT NULL,
			value REAL NOT NULL,
			iterations INTEGER NOT NULL,
			func_evals INTEGER NOT NULL,
			grad_evals INTEGER NOT NULL,
			status TEXT,
			runtime_ms INTEGER NOT NULL,
			model_path TEXT
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("runstore: schema: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS run_starts(
			run_id TEXT NOT NULL REFERENCES runs(id),
			start INTEGER NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY(run_id, start)
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("runstore: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func toTS(t time.Time) float64 { return float64(t.UnixMilli()) / 1000.0 }

func fromTS(ts float64) time.Time { return time.UnixMilli(int64(math.Round(ts * 1000))) }

// Record inserts r and its per-start values in one transaction.
func (s *Store) Record(ctx context.Context, r Run) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO runs(id, ts, beta_gen, beta_disc, beta_prior, algorithm, threads,
		classes, sequences, params, value, iterations, func_evals, grad_evals, status, runtime_ms, model_path)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID.String(), toTS(r.Started), r.Beta.Gen, r.Beta.Disc, r.Beta.Prior, r.Algorithm, r.Threads,
		r.Classes, r.Sequences, r.Params, r.Value, r.Iterations, r.FuncEvaluations, r.GradEvaluations,
		r.Status, r.Runtime.Milliseconds(), r.ModelPath)
	if err != nil {
		return fmt.Errorf("runstore: record %s: %w", r.ID, err)
	}
	for i, v := range r.StartValues {
		if _, err := tx.ExecContext(ctx, "INSERT INTO run_starts(run_id, start, value) VALUES(?,?,?)", r.ID.String(), i, v); err != nil {
			return fmt.Errorf("runstore: record %s start %d: %w", r.ID, i, err)
		}
	}
	return tx.Commit()
}

const selectRuns = `SELECT id, ts, beta_gen, beta_disc, beta_prior, algorithm, threads, classes, sequences,
	params, value, iterations, func_evals, grad_evals, status, runtime_ms, model_path FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r         Run
		id        string
		ts        float64
		status    sql.NullString
		modelPath sql.NullString
		runtimeMS int64
	)
	err := sc.Scan(&id, &ts, &r.Beta.Gen, &r.Beta.Disc, &r.Beta.Prior, &r.Algorithm, &r.Threads,
		&r.Classes, &r.Sequences, &r.Params, &r.Value, &r.Iterations, &r.FuncEvaluations,
		&r.GradEvaluations, &status, &runtimeMS, &modelPath)
	if err != nil {
		return Run{}, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return Run{}, fmt.Errorf("runstore: bad id %q: %w", id, err)
	}
	r.Started = fromTS(ts)
	r.Status = status.String
	r.ModelPath = modelPath.String
	r.Runtime = time.Duration(runtimeMS) * time.Millisecond
	return r, nil
}

func (s *Store) startValues(ctx context.Context, id uuid.UUID) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT value FROM run_starts WHERE run_id = ? ORDER BY start", id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Get returns the run with the given id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRuns+" WHERE id = ?", id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}
	if r.StartValues, err = s.startValues(ctx, id); err != nil {
		return Run{}, err
	}
	return r, nil
}

// List returns up to limit runs, newest first. limit <= 0 lists all runs.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	q := selectRuns + " ORDER BY ts DESC, id"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].StartValues, err = s.startValues(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// Best returns the run with the highest objective value among those with
// the given algorithm, or among all runs when algorithm is empty.
func (s *Store) Best(ctx context.Context, algorithm string) (Run, error) {
	q := selectRuns
	var args []any
	if algorithm != "" {
		q += " WHERE algorithm = ?"
		args = append(args, algorithm)
	}
	r, err := scanRun(s.db.QueryRowContext(ctx, q+" ORDER BY value DESC LIMIT 1", args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	if r.StartValues, err = s.startValues(ctx, r.ID); err != nil {
		return Run{}, err
	}
	return r, nil
}

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned by GetRun for an unknown ID.
var ErrRunNotFound = errors.New("run not found")

// Run records one loss or difference product.
type Run struct {
	ID         string
	Kind       string
	Region     string
	AsOf       time.Time
	Policy     string
	Inputs     []string // blob keys, in the order they were applied
	OutputKey  string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StartRun inserts r with a fresh ID and status running, and returns the
// stored record.
func (c *Catalog) StartRun(ctx context.Context, r Run) (Run, error) {
	r.ID = uuid.NewString()
	r.Status = StatusRunning
	r.StartedAt = c.Clock.Now().UTC()
	r.FinishedAt = time.Time{}
	r.Inputs = append([]string(nil), r.Inputs...)

	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, kind, region, as_of_date, policy, status, started_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.Region, r.AsOf.UTC().Format(time.DateOnly), r.Policy, r.Status, r.StartedAt.UnixNano()); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	for i, key := range r.Inputs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_inputs (run_id, position, key) VALUES (?, ?, ?)`, r.ID, i, key); err != nil {
			return Run{}, fmt.Errorf("insert run input: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Run{}, err
	}
	return r, nil
}

// FinishRun marks a run succeeded, or failed when runErr is non-nil.
func (c *Catalog) FinishRun(ctx context.Context, id, outputKey string, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := c.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, output_key = ?, finished_at_ns = ?
		WHERE run_id = ?`,
		status, msg, outputKey, c.Clock.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `run_id, kind, region, as_of_date, policy, output_key, status, error, started_at_ns, finished_at_ns`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (Run, error) {
	var (
		r                   Run
		asOf                string
		startedNs, finishNs int64
	)
	if err := s.Scan(&r.ID, &r.Kind, &r.Region, &asOf, &r.Policy, &r.OutputKey, &r.Status, &r.Error, &startedNs, &finishNs); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.DateOnly, asOf)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: bad as_of_date %q: %w", r.ID, asOf, err)
	}
	r.AsOf = t
	r.StartedAt = time.Unix(0, startedNs).UTC()
	if finishNs != 0 {
		r.FinishedAt = time.Unix(0, finishNs).UTC()
	}
	return r, nil
}

func (c *Catalog) runInputs(ctx context.Context, id string) ([]string, error) {
	rows, err := c.QueryContext(ctx, `SELECT key FROM run_inputs WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetRun loads a run and its inputs.
func (c *Catalog) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(c.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}
	if r.Inputs, err = c.runInputs(ctx, id); err != nil {
		return Run{}, err
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first. An empty kind lists
// every kind; limit <= 0 means no limit.
func (c *Catalog) ListRuns(ctx context.Context, kind string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE (? = '' OR kind = ?)
		ORDER BY started_at_ns DESC, run_id DESC
		LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
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
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if runs[i].Inputs, err = c.runInputs(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Granule is one indexed classification mask.
type Granule struct {
	Key        string // blob key of the mask
	ID         string // granule ID, e.g. s1/008/056/2021/03/<name>
	Dataset    string
	Classifier string
	Acquired   time.Time // date only, UTC
	Size       int64
	IndexedAt  time.Time
}

// UpsertGranules records masks in a single transaction. Rows with an existing
// key are updated in place. IndexedAt is stamped from the catalog clock.
func (c *Catalog) UpsertGranules(ctx context.Context, gs []Granule) error {
	if len(gs) == 0 {
		return nil
	}
	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO granules (key, granule_id, dataset, classifier, acquired_date, size_bytes, indexed_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			granule_id = excluded.granule_id,
			dataset = excluded.dataset,
			classifier = excluded.classifier,
			acquired_date = excluded.acquired_date,
			size_bytes = excluded.size_bytes,
			indexed_at_ns = excluded.indexed_at_ns`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := c.Clock.Now().UnixNano()
	for _, g := range gs {
		if g.Key == "" || g.Acquired.IsZero() {
			return fmt.Errorf("granule %q: key and acquisition date are required", g.ID)
		}
		if _, err := stmt.ExecContext(ctx, g.Key, g.ID, g.Dataset, g.Classifier,
			g.Acquired.UTC().Format(time.DateOnly), g.Size, now); err != nil {
			return fmt.Errorf("upsert %s: %w", g.Key, err)
		}
	}
	return tx.Commit()
}

// escapeLike escapes LIKE metacharacters with a backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Latest returns up to n masks whose granule ID starts with prefix, made by
// classifier and acquired on or before the given date, most recent first.
// Ties on date are broken by key, descending.
func (c *Catalog) Latest(ctx context.Context, prefix, classifier string, before time.Time, n int) ([]Granule, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := c.QueryContext(ctx, `
		SELECT key, granule_id, dataset, classifier, acquired_date, size_bytes, indexed_at_ns
		FROM granules
		WHERE granule_id LIKE ? ESCAPE '\' AND classifier = ? AND acquired_date <= ?
		ORDER BY acquired_date DESC, key DESC
		LIMIT ?`,
		escapeLike(prefix)+"%", classifier, before.UTC().Format(time.DateOnly), n)
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}
	defer rows.Close()
	return scanGranules(rows)
}

// Granules lists every indexed mask under prefix in acquisition order.
func (c *Catalog) Granules(ctx context.Context, prefix string) ([]Granule, error) {
	rows, err := c.QueryContext(ctx, `
		SELECT key, granule_id, dataset, classifier, acquired_date, size_bytes, indexed_at_ns
		FROM granules
		WHERE granule_id LIKE ? ESCAPE '\'
		ORDER BY acquired_date ASC, key ASC`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("query granules: %w", err)
	}
	defer rows.Close()
	return scanGranules(rows)
}

func scanGranules(rows *sql.Rows) ([]Granule, error) {
	var out []Granule
	for rows.Next() {
		var (
			g         Granule
			acquired  string
			indexedNs int64
		)
		if err := rows.Scan(&g.Key, &g.ID, &g.Dataset, &g.Classifier, &acquired, &g.Size, &indexedNs); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.DateOnly, acquired)
		if err != nil {
			return nil, fmt.Errorf("granule %s: bad acquired_date %q: %w", g.Key, acquired, err)
		}
		g.Acquired = t
		g.IndexedAt = time.Unix(0, indexedNs).UTC()
		out = append(out, g)
	}
	return out, rows.Err()
}

// Package catalog indexes classified granules by acquisition date and keeps
// a record of change-detection runs, in SQLite.
package catalog

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

// Catalog wraps the SQLite handle.
type Catalog struct {
	*sql.DB
	// Clock stamps index and run times.
	Clock timeutil.Clock
}

var logf = monitoring.Component("catalog")

// pragmas are applied to every pooled connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
}

func dsn(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// OpenDB opens the database without touching the schema. Used by the
// migrate subcommand.
func OpenDB(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	return &Catalog{DB: db, Clock: timeutil.RealClock{}}, nil
}

// Open opens the catalog and applies pending migrations.
func Open(path string) (*Catalog, error) {
	c, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := c.MigrateUp(); err != nil {
		c.Close()
		return nil, err
	}
	logf("opened %s", path)
	return c, nil
}

package catalog

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand: up, down, status,
// force <version> and help. Output goes to w.
func RunMigrateCommand(args []string, dbPath string, w io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("migrate: missing action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(w)
		return nil
	}

	// The schema is left alone: migrations manage it.
	c, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to catalog: %w", err)
	}
	defer c.Close()

	switch action {
	case "up":
		if err := c.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(w, "All migrations applied")
	case "down":
		if err := c.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(w, "Rolled back one migration")
	case "status":
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: canopy migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return fmt.Errorf("invalid version %q", args[1])
		}
		if err := c.MigrateForce(v); err != nil {
			return err
		}
		fmt.Fprintf(w, "Forced version %d\n", v)
	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	version, dirty, err := c.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(w, "WARNING: a migration failed mid-execution. Inspect the catalog, then run 'canopy migrate force <version>'.")
	}
	return nil
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: canopy migrate <action> [args] [-catalog path]

Actions:
  up                Apply all pending migrations
  down              Roll back the most recent migration
  status            Show the current schema version
  force <version>   Set the version without running migrations (recovery only)
  help              Show this help
`)
}

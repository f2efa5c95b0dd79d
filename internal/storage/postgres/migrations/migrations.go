// Package migrations applies the Postgres schema this module needs. It
// deliberately does not use golang-migrate (declared in go.mod by the
// teacher but never actually called anywhere in its own source): embedding
// the .sql files and running them in filename order is what the teacher
// itself does in system/platform/migrations/migrations.go, so this follows
// that practice rather than the unused dependency.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Apply runs every embedded .sql file against db, in filename order.
// Migrations are plain idempotent DDL (CREATE TABLE IF NOT EXISTS); there is
// no migration-version bookkeeping table, matching the teacher's own
// embed+Apply approach.
func Apply(ctx context.Context, db *sql.DB) error {
	entries, err := files.ReadDir(".")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

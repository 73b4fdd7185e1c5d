package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrations returns the schema scripts in apply order. Every script is
// idempotent, so applying them twice is harmless.
func Migrations() []string {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		panic(err)
	}
	sort.Strings(names)

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		b, err := migrationFS.ReadFile(name)
		if err != nil {
			panic(err)
		}
		scripts = append(scripts, string(b))
	}
	return scripts
}

// Migrate applies every migration in one transaction.
func (db *DB) Migrate(ctx context.Context) error {
	scripts := Migrations()
	err := db.WithinTx(ctx, func(ctx context.Context) error {
		for i, script := range scripts {
			if _, err := db.Conn(ctx).ExecContext(ctx, script); err != nil {
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.logger.Info().Int("count", len(scripts)).Msg("database migrations applied")
	return nil
}

// Package migrations embeds the relational schema and applies it with a
// versioned schema_migrations table. Files live in one directory per driver and
// are named NNNN_name.up.sql / NNNN_name.down.sql.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed postgres/*.sql sqlite3/*.sql
var sqlFS embed.FS

const tableName = "schema_migrations"

var upFileRe = regexp.MustCompile(`^(\d{4})_(.+)\.up\.sql$`)

// Migration is one versioned schema change
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// Load returns the embedded migrations for driver ordered by version
func Load(driver string) ([]Migration, error) {
	entries, err := fs.ReadDir(sqlFS, driver)
	if err != nil {
		return nil, fmt.Errorf("no migrations for driver %q: %w", driver, err)
	}

	var out []Migration
	for _, e := range entries {
		m := upFileRe.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}

		up, err := fs.ReadFile(sqlFS, driver+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		down, err := fs.ReadFile(sqlFS, driver+"/"+strings.TrimSuffix(e.Name(), ".up.sql")+".down.sql")
		if err != nil {
			return nil, fmt.Errorf("read down migration for %s: %w", e.Name(), err)
		}

		out = append(out, Migration{Version: m[1], Name: m[2], Up: string(up), Down: string(down)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Up applies every migration not yet recorded and returns the ones it applied
func Up(ctx context.Context, db *sqlx.DB) ([]Migration, error) {
	all, err := Load(db.DriverName())
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure migrations table: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	var done []Migration
	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		err := inTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, db.Rebind("INSERT INTO "+tableName+" (version, name) VALUES (?, ?)"), m.Version, m.Name)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("apply %s_%s: %w", m.Version, m.Name, err)
		}
		done = append(done, m)
	}
	return done, nil
}

// Down reverts every applied migration, newest first, and returns the ones it reverted
func Down(ctx context.Context, db *sqlx.DB) ([]Migration, error) {
	all, err := Load(db.DriverName())
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure migrations table: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	var done []Migration
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if !applied[m.Version] {
			continue
		}
		err := inTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, db.Rebind("DELETE FROM "+tableName+" WHERE version = ?"), m.Version)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("revert %s_%s: %w", m.Version, m.Name, err)
		}
		done = append(done, m)
	}
	return done, nil
}

func ensureMigrationsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func appliedVersions(ctx context.Context, db *sqlx.DB) (map[string]bool, error) {
	var versions []string
	if err := db.SelectContext(ctx, &versions, "SELECT version FROM "+tableName); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(versions))
	for _, v := range versions {
		out[v] = true
	}
	return out, nil
}

func inTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

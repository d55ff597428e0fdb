package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"stockledger/pkg/logger"
)

// Migration files follow the goose layout so they can also be applied with
// the goose CLI: NNNNN_name.sql with "-- +goose Up" and "-- +goose Down" sections.
//
//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationLockKey = "stockledger:migrate"

// Migration is one embedded schema step.
type Migration struct {
	Version int64
	Name    string
	Up      string
}

// LoadMigrations parses the embedded migrations in version order.
func LoadMigrations() ([]Migration, error) {
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(files))
	for _, f := range files {
		raw, err := migrationFS.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		m, err := parseMigration(strings.TrimPrefix(f, "migrations/"), string(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func parseMigration(name, body string) (Migration, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return Migration{}, fmt.Errorf("migration %s: missing version prefix", name)
	}
	version, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return Migration{}, fmt.Errorf("migration %s: bad version: %w", name, err)
	}

	_, up, ok := strings.Cut(body, "-- +goose Up")
	if !ok {
		return Migration{}, fmt.Errorf("migration %s: missing Up section", name)
	}
	up, _, _ = strings.Cut(up, "-- +goose Down")
	up = strings.NewReplacer("-- +goose StatementBegin", "", "-- +goose StatementEnd", "").Replace(up)

	return Migration{Version: version, Name: name, Up: strings.TrimSpace(up)}, nil
}

// Migrate applies pending embedded migrations in one transaction each.
func Migrate(ctx context.Context, txm *TxManager) error {
	migrations, err := LoadMigrations()
	if err != nil {
		return err
	}

	_, err = txm.GetQuerier(ctx).Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    BIGINT PRIMARY KEY,
			name       TEXT        NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		m := m
		applied := false
		err := txm.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := txm.AdvisoryXactLock(ctx, migrationLockKey); err != nil {
				return err
			}
			q := txm.GetQuerier(ctx)

			var exists bool
			if err := q.QueryRow(ctx,
				"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", m.Version,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check migration %d: %w", m.Version, err)
			}
			if exists {
				return nil
			}
			if _, err := q.Exec(ctx, m.Up); err != nil {
				return fmt.Errorf("apply %s: %w", m.Name, err)
			}
			if _, err := q.Exec(ctx,
				"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.Version, m.Name,
			); err != nil {
				return fmt.Errorf("record %s: %w", m.Name, err)
			}
			applied = true
			return nil
		})
		if err != nil {
			return err
		}
		if applied {
			logger.Info(ctx, "migration applied", "version", m.Version, "name", m.Name)
		}
	}
	return nil
}

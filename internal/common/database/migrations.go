package database

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgtype/pgxtype"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Migration struct {
	id   int
	name string
	sql  string
}

func (m Migration) Id() int      { return m.id }
func (m Migration) Name() string { return m.name }

// Migrator is the part of *pgxpool.Pool needed to apply migrations.
type Migrator interface {
	pgxtype.Querier
	BeginFunc(ctx context.Context, f func(pgx.Tx) error) error
}

// migrationLock is the advisory lock key held while a migration is applied, so that replicas
// migrating on startup apply each migration once.
const migrationLock = 0x7472616365

// UpdateDatabase applies, in id order, every migration not yet recorded in schema_migrations.
// Each migration runs in its own transaction together with its bookkeeping row.
func UpdateDatabase(ctx context.Context, db Migrator, migrations []Migration) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id         integer PRIMARY KEY,
			name       text NOT NULL,
			applied_at timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return errors.WithStack(err)
	}

	applied := 0
	for _, m := range migrations {
		err := db.BeginFunc(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLock); err != nil {
				return errors.WithStack(err)
			}
			var done bool
			err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE id = $1)`, m.id).Scan(&done)
			if err != nil {
				return errors.WithStack(err)
			}
			if done {
				return nil
			}
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return errors.Wrapf(err, "applying migration %s", m.name)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (id, name) VALUES ($1, $2)`, m.id, m.name); err != nil {
				return errors.WithStack(err)
			}
			log.WithField("migration", m.name).Info("Applied migration")
			applied++
			return nil
		})
		if err != nil {
			return err
		}
	}
	log.Infof("%d of %d migrations applied, schema is up to date", applied, len(migrations))
	return nil
}

// ReadMigrations loads every *.sql file in dir. File names must start with a numeric id followed
// by an underscore, e.g. 001_init.sql. The result is sorted by id.
func ReadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	migrations := []Migration{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		id, err := strconv.Atoi(strings.Split(entry.Name(), "_")[0])
		if err != nil {
			return nil, errors.Wrapf(err, "migration %s has no numeric prefix", entry.Name())
		}
		contents, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		migrations = append(migrations, Migration{
			id:   id,
			name: entry.Name(),
			sql:  string(contents),
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].id < migrations[j].id })
	return migrations, nil
}

package tracelens

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/tracelens/internal/common/database"
	"github.com/armadaproject/tracelens/internal/runstore"
)

// postgresHandles are the two connection pools over one database: pgx for the write path and
// database/sql for the goqu read path.
type postgresHandles struct {
	pgx *pgxpool.Pool
	sql *sql.DB
}

func openPostgres(ctx context.Context, config database.PostgresConfig) (*postgresHandles, error) {
	pool, err := database.OpenPgxPool(ctx, config)
	if err != nil {
		return nil, err
	}
	db, err := database.OpenSqlDb(ctx, config)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresHandles{pgx: pool, sql: db}, nil
}

func (h *postgresHandles) Close() {
	h.pgx.Close()
	if err := h.sql.Close(); err != nil {
		log.WithError(errors.WithStack(err)).Warn("Postgres connection didn't close down cleanly")
	}
}

// MigrateDatabase applies every pending schema migration.
func MigrateDatabase(ctx context.Context, db database.Migrator) error {
	start := time.Now()
	log.Info("Beginning database migration")
	migrations, err := runstore.Migrations()
	if err != nil {
		return err
	}
	if err := database.UpdateDatabase(ctx, db, migrations); err != nil {
		return errors.WithMessage(err, "failed to migrate database")
	}
	log.Infof("Database migrated in %s", time.Since(start))
	return nil
}

// MigrateDatabaseWithConfig connects using config and migrates the database.
func MigrateDatabaseWithConfig(ctx context.Context, config database.PostgresConfig) error {
	pool, err := database.OpenPgxPool(ctx, config)
	if err != nil {
		return errors.WithMessage(err, "failed to connect to database")
	}
	defer pool.Close()
	return MigrateDatabase(ctx, pool)
}

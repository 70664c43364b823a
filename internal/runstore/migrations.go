package runstore

import (
	"embed"

	"github.com/armadaproject/tracelens/internal/common/database"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema migrations for the runs database, in order.
func Migrations() ([]database.Migration, error) {
	return database.ReadMigrations(migrationFiles, "migrations")
}

package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// DefaultMigrationsSource is relative to the working directory docinteld
// runs in.
const DefaultMigrationsSource = "file://migrations"

type MigrationOp int

const (
	MigrateUp MigrationOp = iota
	// MigrateDown rolls back a single migration.
	MigrateDown
	MigrateVersion
	// MigrateForce records a version without running anything; used to
	// clear the dirty flag after a failed migration was fixed by hand.
	MigrateForce
)

// SchemaVersion is the state golang-migrate records in schema_migrations.
// Version is zero when nothing has been applied.
type SchemaVersion struct {
	Version uint
	Dirty   bool
}

// ErrDirtySchema is returned when a previous migration stopped half way.
var ErrDirtySchema = errors.New("schema is dirty, fix it by hand and run migrate force <version>")

// Migrate runs op against databaseURL with the migrations found at source.
// forceVersion is only read for MigrateForce.
func Migrate(databaseURL, source string, op MigrationOp, forceVersion int) (SchemaVersion, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("failed to load migrations from %s: %w", source, err)
	}

	switch op {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Steps(-1)
	case MigrateForce:
		err = m.Force(forceVersion)
	case MigrateVersion:
	default:
		return SchemaVersion{}, fmt.Errorf("unknown migration op %d", op)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaVersion{}, fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, nil
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	sv := SchemaVersion{Version: version, Dirty: dirty}
	if dirty {
		return sv, fmt.Errorf("version %d: %w", version, ErrDirtySchema)
	}
	return sv, nil
}

package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

//go:embed seeds/*.sql
var seedFS embed.FS

const migrationDir = "migrations"

// OpenSQL exposes the pool through database/sql for libraries that need it.
func OpenSQL(pool *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(pool)
}

// Migrate applies the embedded goose migrations. command is one of up, down,
// status or version.
func Migrate(ctx context.Context, pool *pgxpool.Pool, command string) error {
	goose.SetBaseFS(migrationFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	sqlDB := OpenSQL(pool)
	defer sqlDB.Close()

	switch command {
	case "", "up":
		return goose.UpContext(ctx, sqlDB, migrationDir)
	case "down":
		return goose.DownContext(ctx, sqlDB, migrationDir)
	case "status":
		return goose.StatusContext(ctx, sqlDB, migrationDir)
	case "version":
		return goose.VersionContext(ctx, sqlDB, migrationDir)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

// Seed returns the contents of an embedded seed file such as "dev_seed.sql".
func Seed(name string) (string, error) {
	contents, err := fs.ReadFile(seedFS, "seeds/"+name)
	if err != nil {
		return "", fmt.Errorf("read seed %s: %w", name, err)
	}
	return string(contents), nil
}

// Package postgres implements the session/user adapter on PostgreSQL using
// pgx connection pools.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/juho05/log"

	"github.com/knurzl/lucia"
	"github.com/knurzl/lucia/config"
)

func ConstructDSN(dbName, host string, port int, user, password string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, password, host, port, dbName)
}

func autoMigrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	defer db.Close()
	migrations := &migrate.HttpFileSystemMigrationSource{
		FileSystem: http.FS(lucia.PostgresMigrationsFS),
	}
	log.Trace("Migrating database...")
	n, err := migrate.Exec(db, "postgres", migrations, migrate.Up)
	log.Tracef("Applied %d migrations!", n)
	if err != nil {
		return err
	}
	return nil
}

// Connect opens a pgx connection pool and optionally bootstraps the
// canonical tables when AUTO_MIGRATE is enabled. Table names and default
// schema come from the environment.
func Connect(dsn string) (*Adapter, error) {
	log.Tracef("Connecting to Postgres database...")
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect DB: %w", err)
	}
	if config.AutoMigrate() {
		err = autoMigrate(dsn)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return New(pool, config.Tables()), nil
}

// IsDuplicate reports whether err stems from a unique constraint violation,
// e.g. inserting a session id that already exists. The adapter never
// rewrites driver errors; this is an opt-in classifier.
func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// IsForeignKeyViolation reports whether err stems from a foreign key
// constraint violation, e.g. inserting a session for a missing user.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}

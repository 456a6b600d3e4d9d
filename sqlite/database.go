// Package sqlite implements the session/user adapter on SQLite using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/juho05/log"

	"github.com/knurzl/lucia"
	"github.com/knurzl/lucia/config"
)

func autoMigrate(db *sql.DB) error {
	migrations := &migrate.HttpFileSystemMigrationSource{
		FileSystem: http.FS(lucia.SQLiteMigrationsFS),
	}
	log.Trace("Migrating database...")
	n, err := migrate.Exec(db, "sqlite3", migrations, migrate.Up)
	log.Tracef("Applied %d migrations!", n)
	if err != nil {
		return err
	}
	return nil
}

// Connect opens a SQLite database, applies the standard pragmas, and
// optionally bootstraps the canonical tables when AUTO_MIGRATE is enabled.
// Table names and default schema come from the environment.
func Connect(connectionString string) (*Adapter, error) {
	rawDB, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}

	_, err = rawDB.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	_, err = rawDB.Exec("PRAGMA foreign_keys = 1")
	if err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	_, err = rawDB.Exec("PRAGMA busy_timeout = 3000")
	if err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if config.AutoMigrate() {
		err = autoMigrate(rawDB)
		if err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	return New(sqlx.NewDb(rawDB, "sqlite"), config.Tables()), nil
}

// IsDuplicate reports whether err stems from a unique or primary key
// constraint violation, e.g. inserting a session id that already exists.
// The adapter never rewrites driver errors; this is an opt-in classifier.
func IsDuplicate(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

// IsForeignKeyViolation reports whether err stems from a foreign key
// constraint violation, e.g. inserting a session for a missing user.
func IsForeignKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/knurzl/lucia"
	"github.com/knurzl/lucia/adaptertest"
)

func TestAdapter(t *testing.T) {
	adaptertest.Run(t, openFixture)
}

func openFixture(t *testing.T) *adaptertest.Fixture {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every new connection to :memory: is a fresh database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("PRAGMA foreign_keys = 1")
	require.NoError(t, err)
	_, err = db.Exec("ATTACH DATABASE ':memory:' AS alt")
	require.NoError(t, err)

	createTables(t, db, "main")
	createTables(t, db, "alt")

	return &adaptertest.Fixture{
		Adapter: New(db, lucia.DefaultTables()),
		InsertUser: func(t *testing.T, schema string, user *lucia.User) {
			insertUser(t, db, schema, user)
		},
		AltSchema: "alt",
	}
}

func createTables(t *testing.T, db *sqlx.DB, schema string) {
	t.Helper()
	statements := []string{
		fmt.Sprintf(`CREATE TABLE %s.users (
			id TEXT PRIMARY KEY,
			username TEXT,
			email TEXT
		)`, schema),
		fmt.Sprintf(`CREATE TABLE %s.sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
			expires_at INTEGER NOT NULL,
			country TEXT
		)`, schema),
	}
	for _, statement := range statements {
		_, err := db.Exec(statement)
		require.NoError(t, err)
	}
}

func insertUser(t *testing.T, db *sqlx.DB, schema string, user *lucia.User) {
	t.Helper()
	if schema == "" {
		schema = "main"
	}
	columns := []string{lucia.ColumnID}
	args := []any{user.ID}
	for _, key := range attributeKeys(user.Attributes) {
		columns = append(columns, quoteIdent(key))
		args = append(args, user.Attributes[key])
	}
	query := fmt.Sprintf("INSERT INTO %s.users (%s) VALUES (%s)",
		quoteIdent(schema), strings.Join(columns, ", "), placeholders(len(args)))
	_, err := db.Exec(query, args...)
	require.NoError(t, err)
}

func TestConnectAutoMigrate(t *testing.T) {
	t.Setenv("AUTO_MIGRATE", "true")
	adapter, err := Connect(filepath.Join(t.TempDir(), "lucia.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	ctx := context.Background()

	// The canonical tables carry only the reserved columns; users are
	// created by the external owner of the user lifecycle.
	_, err = adapter.db.ExecContext(ctx, "INSERT INTO users (id) VALUES (?)", "u1")
	require.NoError(t, err)

	expires := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	require.NoError(t, adapter.SetSession(ctx, &lucia.Session{ID: "s1", UserID: "u1", ExpiresAt: expires}))

	session, user, err := adapter.GetSessionAndUser(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, session)
	require.NotNil(t, user)
	require.Equal(t, "s1", session.ID)
	require.Equal(t, "u1", session.UserID)
	require.True(t, expires.Equal(session.ExpiresAt))
	require.Empty(t, session.Attributes)
	require.Equal(t, "u1", user.ID)
	require.Empty(t, user.Attributes)
}

func TestGetSessionAndUserDuplicateSessionRows(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	// No primary key on sessions: a store that violates the id uniqueness
	// invariant yields a multi-row join, which must collapse into absence
	// rather than surface one of the conflicting rows.
	_, err = db.Exec("CREATE TABLE users (id TEXT PRIMARY KEY, username TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE sessions (id TEXT, user_id TEXT NOT NULL, expires_at INTEGER NOT NULL)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO users (id, username) VALUES ('u1', 'a')")
	require.NoError(t, err)
	expires := time.Now().Add(time.Hour).Unix()
	_, err = db.Exec("INSERT INTO sessions (id, user_id, expires_at) VALUES ('s1', 'u1', ?), ('s1', 'u1', ?)", expires, expires)
	require.NoError(t, err)

	adapter := New(db, lucia.DefaultTables())
	session, user, err := adapter.GetSessionAndUser(context.Background(), "s1")
	require.NoError(t, err)
	require.Nil(t, session)
	require.Nil(t, user)
}

func TestIsDuplicate(t *testing.T) {
	f := openFixture(t)
	ctx := context.Background()

	f.InsertUser(t, "", &lucia.User{ID: "u1"})
	session := &lucia.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, f.Adapter.SetSession(ctx, session))

	err := f.Adapter.SetSession(ctx, session)
	require.Error(t, err)
	require.True(t, IsDuplicate(err))
	require.False(t, IsForeignKeyViolation(err))
}

func TestIsForeignKeyViolation(t *testing.T) {
	f := openFixture(t)

	err := f.Adapter.SetSession(context.Background(), &lucia.Session{
		ID:        "s1",
		UserID:    "missing",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.Error(t, err)
	require.True(t, IsForeignKeyViolation(err))
	require.False(t, IsDuplicate(err))
}

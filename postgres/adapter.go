package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knurzl/lucia"
)

// userSplitColumn marks where the session columns end and the user columns
// begin in the joined result, keeping both backends on one splitting
// mechanism instead of pgx-only field metadata.
const userSplitColumn = "lucia_user_split"

// Adapter implements lucia.Adapter on a PostgreSQL connection pool.
// Expirations are stored as TIMESTAMPTZ.
type Adapter struct {
	db     *pgxpool.Pool
	tables lucia.Tables
}

// New creates an adapter on an already opened pool.
func New(db *pgxpool.Pool, tables lucia.Tables) *Adapter {
	return &Adapter{db: db, tables: tables}
}

func (a *Adapter) Close() error {
	a.db.Close()
	return nil
}

func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionID string, opts ...lucia.Option) (*lucia.Session, *lucia.User, error) {
	t := a.tables.Resolve(opts)
	query := fmt.Sprintf("SELECT s.*, '' AS %s, u.* FROM %s s INNER JOIN %s u ON s.user_id = u.id WHERE s.id = $1",
		userSplitColumn, qualify(t.Schema, t.Sessions), qualify(t.Schema, t.Users))
	rows, err := a.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get session and user: %w", err)
	}
	defer rows.Close()

	var (
		count   int
		columns []string
		values  []any
	)
	for rows.Next() {
		count++
		if count > 1 {
			break
		}
		for _, fd := range rows.FieldDescriptions() {
			columns = append(columns, fd.Name)
		}
		values, err = rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("get session and user: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("get session and user: %w", err)
	}
	if count != 1 {
		// 0 rows: not found or user deleted. >1 rows: an inconsistent join.
		// Both collapse into absence.
		return nil, nil, nil
	}

	split := -1
	for i, c := range columns {
		if c == userSplitColumn {
			split = i
			break
		}
	}
	if split < 0 {
		return nil, nil, fmt.Errorf("get session and user: join result is missing the %s marker", userSplitColumn)
	}
	session, err := rowToSession(columns[:split], values[:split])
	if err != nil {
		return nil, nil, fmt.Errorf("get session and user: %w", err)
	}
	user := rowToUser(columns[split+1:], values[split+1:])
	return session, user, nil
}

func (a *Adapter) GetUserSessions(ctx context.Context, userID string, opts ...lucia.Option) ([]*lucia.Session, error) {
	t := a.tables.Resolve(opts)
	query := fmt.Sprintf("SELECT * FROM %s WHERE user_id = $1", qualify(t.Schema, t.Sessions))
	rows, err := a.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*lucia.Session
	for rows.Next() {
		columns := make([]string, 0, len(rows.FieldDescriptions()))
		for _, fd := range rows.FieldDescriptions() {
			columns = append(columns, fd.Name)
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("get user sessions: %w", err)
		}
		session, err := rowToSession(columns, values)
		if err != nil {
			return nil, fmt.Errorf("get user sessions: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get user sessions: %w", err)
	}
	return sessions, nil
}

func (a *Adapter) SetSession(ctx context.Context, session *lucia.Session, opts ...lucia.Option) error {
	t := a.tables.Resolve(opts)
	columns := []string{lucia.ColumnID, lucia.ColumnUserID, lucia.ColumnExpiresAt}
	args := []any{session.ID, session.UserID, session.ExpiresAt.UTC()}
	for _, key := range attributeKeys(session.Attributes) {
		columns = append(columns, pgx.Identifier{key}.Sanitize())
		args = append(args, session.Attributes[key])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualify(t.Schema, t.Sessions), strings.Join(columns, ", "), placeholders(len(args)))
	_, err := a.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

func (a *Adapter) UpdateSessionExpiration(ctx context.Context, sessionID string, expiresAt time.Time, opts ...lucia.Option) error {
	t := a.tables.Resolve(opts)
	query := fmt.Sprintf("UPDATE %s SET expires_at = $1 WHERE id = $2", qualify(t.Schema, t.Sessions))
	_, err := a.db.Exec(ctx, query, expiresAt.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update session expiration: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteSession(ctx context.Context, sessionID string, opts ...lucia.Option) error {
	t := a.tables.Resolve(opts)
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", qualify(t.Schema, t.Sessions))
	_, err := a.db.Exec(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteUserSessions(ctx context.Context, userID string, opts ...lucia.Option) error {
	t := a.tables.Resolve(opts)
	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = $1", qualify(t.Schema, t.Sessions))
	_, err := a.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteExpiredSessions(ctx context.Context, opts ...lucia.Option) error {
	t := a.tables.Resolve(opts)
	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at <= $1", qualify(t.Schema, t.Sessions))
	_, err := a.db.Exec(ctx, query, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete expired sessions: %w", err)
	}
	return nil
}

func rowToSession(columns []string, values []any) (*lucia.Session, error) {
	session := &lucia.Session{Attributes: lucia.Attributes{}}
	for i, column := range columns {
		switch column {
		case lucia.ColumnID:
			session.ID = asString(values[i])
		case lucia.ColumnUserID:
			session.UserID = asString(values[i])
		case lucia.ColumnExpiresAt:
			expires, ok := values[i].(time.Time)
			if !ok {
				return nil, fmt.Errorf("expires_at is %T, expected a timestamp", values[i])
			}
			session.ExpiresAt = expires.UTC()
		default:
			session.Attributes[column] = values[i]
		}
	}
	return session, nil
}

func rowToUser(columns []string, values []any) *lucia.User {
	user := &lucia.User{Attributes: lucia.Attributes{}}
	for i, column := range columns {
		if column == lucia.ColumnID {
			user.ID = asString(values[i])
			continue
		}
		user.Attributes[column] = values[i]
	}
	return user
}

// attributeKeys returns the attribute column names in deterministic order,
// with reserved names excluded at the boundary.
func attributeKeys(attributes lucia.Attributes) []string {
	keys := make([]string, 0, len(attributes))
	for key := range attributes {
		if lucia.Reserved(key) || key == userSplitColumn {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}

func qualify(schema, table string) string {
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

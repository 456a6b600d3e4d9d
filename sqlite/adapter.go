package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/knurzl/lucia"
)

// userSplitColumn marks where the session columns end and the user columns
// begin in the joined result. database/sql exposes no table-of-origin
// metadata for result columns, so the join selects an empty marker column
// between the two column spans.
const userSplitColumn = "lucia_user_split"

// Adapter implements lucia.Adapter on a SQLite database. Schema overrides
// target ATTACH'd database names. Expirations are stored as unix seconds.
type Adapter struct {
	db     *sqlx.DB
	tables lucia.Tables
}

// New creates an adapter on an already opened database.
func New(db *sqlx.DB, tables lucia.Tables) *Adapter {
	return &Adapter{db: db, tables: tables}
}

func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionID string, opts ...lucia.Option) (*lucia.Session, *lucia.User, error) {
	t := a.tables.Resolve(opts)
	query := fmt.Sprintf("SELECT s.*, '' AS %s, u.* FROM %s s INNER JOIN %s u ON s.user_id = u.id WHERE s.id = ?",
		userSplitColumn, qualify(t.Schema, t.Sessions), qualify(t.Schema, t.Users))
	rows, err := a.db.QueryxContext(ctx, query, sessionID)
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
		columns, err = rows.Columns()
		if err != nil {
			return nil, nil, fmt.Errorf("get session and user: %w", err)
		}
		values, err = rows.SliceScan()
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
	query := fmt.Sprintf("SELECT * FROM %s WHERE user_id = ?", qualify(t.Schema, t.Sessions))
	rows, err := a.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*lucia.Session
	for rows.Next() {
		columns, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("get user sessions: %w", err)
		}
		values, err := rows.SliceScan()
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
	args := []any{session.ID, session.UserID, session.ExpiresAt.Unix()}
	for _, key := range attributeKeys(session.Attributes) {
		columns = append(columns, quoteIdent(key))
		args = append(args, session.Attributes[key])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualify(t.Schema, t.Sessions), strings.Join(columns, ", "), placeholders(len(args)))
	_, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

func (a *Adapter) UpdateSessionExpiration(ctx context.Context, sessionID string, expiresAt time.Time, opts ...lucia.Option) error {
	t := a.tables.Resolve(opts)
	query := fmt.Sprintf("UPDATE %s SET expires_at = ? WHERE id = ?", qualify(t.Schema, t.Sessions))
	_, err := a.db.ExecContext(ctx, query, expiresAt.Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update session expiration: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteSession(ctx context.Context, sessionID string, opts ...lucia.Option) error {
	t := a.tables.Resolve(opts)
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", qualify(t.Schema, t.Sessions))
	_, err := a.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteUserSessions(ctx context.Context, userID string, opts ...lucia.Option) error {
	t := a.tables.Resolve(opts)
	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = ?", qualify(t.Schema, t.Sessions))
	_, err := a.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteExpiredSessions(ctx context.Context, opts ...lucia.Option) error {
	t := a.tables.Resolve(opts)
	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at <= ?", qualify(t.Schema, t.Sessions))
	_, err := a.db.ExecContext(ctx, query, time.Now().Unix())
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
			seconds, ok := values[i].(int64)
			if !ok {
				return nil, fmt.Errorf("expires_at is %T, expected unix seconds", values[i])
			}
			session.ExpiresAt = time.Unix(seconds, 0).UTC()
		default:
			session.Attributes[column] = normalize(values[i])
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
		user.Attributes[column] = normalize(values[i])
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
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func qualify(schema, table string) string {
	if schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
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

// normalize converts text cells the driver reports as byte slices so that
// attribute round trips compare equal.
func normalize(value any) any {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

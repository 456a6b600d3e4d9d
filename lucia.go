// Package lucia defines the persistence contract between a session-based
// authentication library and a relational database. Backends implementing
// the Adapter interface live in the postgres and sqlite subpackages.
package lucia

import (
	"context"
	"time"

	"golang.org/x/exp/maps"
)

// Reserved column names. Everything else on the users and sessions tables
// is carried through the Attributes mapping.
const (
	ColumnID        = "id"
	ColumnUserID    = "user_id"
	ColumnExpiresAt = "expires_at"
)

// Reserved reports whether name is one of the fixed session/user columns.
func Reserved(name string) bool {
	return name == ColumnID || name == ColumnUserID || name == ColumnExpiresAt
}

// Attributes holds the caller-defined extra columns of a row, keyed by
// column name. Values are passed through to the driver unmodified.
// Reserved column names are excluded at the mapping boundary: backends
// skip them when spreading attributes into an insert and never place them
// into the map when destructuring a row.
type Attributes map[string]any

// Clone returns a shallow copy of the attributes.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// Session is a server-issued credential record tying an identifier and
// expiration to a user.
type Session struct {
	ID         string
	UserID     string
	ExpiresAt  time.Time
	Attributes Attributes
}

// User is the owning side of a session. The adapter never creates, mutates,
// or deletes users; their lifecycle belongs to the caller.
type User struct {
	ID         string
	Attributes Attributes
}

// Adapter is the operation set consumed by the authentication library.
//
// Every operation accepts per-call options. WithSchema redirects both tables
// to another database schema for that call only; the adapter's configured
// table descriptor is never mutated, so concurrent calls with different
// schemas do not interfere.
//
// Absence is never an error: lookups return nil results and mutations on
// missing rows succeed as no-ops. Constraint violations (duplicate session
// id, foreign key to a missing user) surface the wrapped driver error
// untranslated.
type Adapter interface {
	// GetSessionAndUser resolves a session and its owning user in a single
	// inner join. Exactly one joined row yields both records; zero rows (not
	// found, or the user was deleted) and more than one row (an inconsistent
	// join) both yield (nil, nil, nil).
	GetSessionAndUser(ctx context.Context, sessionID string, opts ...Option) (*Session, *User, error)

	// GetUserSessions returns all sessions owned by userID, unordered.
	GetUserSessions(ctx context.Context, userID string, opts ...Option) ([]*Session, error)

	// SetSession inserts one session row, spreading the attributes back out
	// as additional columns alongside the reserved fields.
	SetSession(ctx context.Context, session *Session, opts ...Option) error

	// UpdateSessionExpiration sets the expiration of an existing session.
	// A missing session is a successful no-op; no row is created.
	UpdateSessionExpiration(ctx context.Context, sessionID string, expiresAt time.Time, opts ...Option) error

	// DeleteSession removes at most one session.
	DeleteSession(ctx context.Context, sessionID string, opts ...Option) error

	// DeleteUserSessions removes every session owned by userID.
	DeleteUserSessions(ctx context.Context, userID string, opts ...Option) error

	// DeleteExpiredSessions removes every session with an expiration at or
	// before the time of the call.
	DeleteExpiredSessions(ctx context.Context, opts ...Option) error
}

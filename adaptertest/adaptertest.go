// Package adaptertest is a conformance suite for lucia.Adapter
// implementations. Backend packages wire their fixtures into Run from their
// own tests, so every backend is held to the same contract semantics.
//
// The suite expects the users table to carry "username" and "email" text
// columns and the sessions table a "country" text column, since attribute
// columns are defined by the schema, not the adapter.
package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/knurzl/lucia"
)

// Fixture is one backend under test, opened on a clean table pair.
type Fixture struct {
	Adapter lucia.Adapter

	// InsertUser creates a user row directly. The adapter contract never
	// writes users; their lifecycle is external. An empty schema targets
	// the fixture's default tables.
	InsertUser func(t *testing.T, schema string, user *lucia.User)

	// AltSchema names a second clean schema holding the same table pair.
	// Empty skips the schema redirection and concurrency scenarios.
	AltSchema string
}

// Run executes the conformance scenarios. open must return a fixture with
// empty tables on every call.
func Run(t *testing.T, open func(t *testing.T) *Fixture) {
	t.Run("SetAndGetSessionAndUser", func(t *testing.T) {
		f := open(t)
		ctx := context.Background()

		user := newUser(lucia.Attributes{"username": "a", "email": "a@example.com"})
		f.InsertUser(t, "", user)
		session := newSession(user.ID, time.Now().Add(time.Hour), lucia.Attributes{"country": "AT"})
		require.NoError(t, f.Adapter.SetSession(ctx, session))

		gotSession, gotUser, err := f.Adapter.GetSessionAndUser(ctx, session.ID)
		require.NoError(t, err)
		require.NotNil(t, gotSession)
		require.NotNil(t, gotUser)
		requireSessionEqual(t, session, gotSession)
		require.Equal(t, user.ID, gotUser.ID)
		requireAttributes(t, user.Attributes, gotUser.Attributes)
	})

	t.Run("GetSessionAndUserMissing", func(t *testing.T) {
		f := open(t)
		session, user, err := f.Adapter.GetSessionAndUser(context.Background(), ulid.Make().String())
		require.NoError(t, err)
		require.Nil(t, session)
		require.Nil(t, user)
	})

	t.Run("SetSessionDuplicateID", func(t *testing.T) {
		f := open(t)
		ctx := context.Background()

		user := newUser(nil)
		f.InsertUser(t, "", user)
		session := newSession(user.ID, time.Now().Add(time.Hour), nil)
		require.NoError(t, f.Adapter.SetSession(ctx, session))
		require.Error(t, f.Adapter.SetSession(ctx, session))
	})

	t.Run("SetSessionUnknownUser", func(t *testing.T) {
		f := open(t)
		session := newSession(ulid.Make().String(), time.Now().Add(time.Hour), nil)
		require.Error(t, f.Adapter.SetSession(context.Background(), session))
	})

	t.Run("SetSessionSkipsReservedAttributeKeys", func(t *testing.T) {
		f := open(t)
		ctx := context.Background()

		user := newUser(nil)
		f.InsertUser(t, "", user)
		session := newSession(user.ID, time.Now().Add(time.Hour), lucia.Attributes{
			"country":    "DE",
			"id":         "hijacked",
			"user_id":    "hijacked",
			"expires_at": "hijacked",
		})
		require.NoError(t, f.Adapter.SetSession(ctx, session))

		got, _, err := f.Adapter.GetSessionAndUser(ctx, session.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, session.ID, got.ID)
		require.Equal(t, user.ID, got.UserID)
		require.EqualValues(t, "DE", got.Attributes["country"])
	})

	t.Run("DeleteSessionIdempotent", func(t *testing.T) {
		f := open(t)
		ctx := context.Background()

		user := newUser(nil)
		f.InsertUser(t, "", user)
		session := newSession(user.ID, time.Now().Add(time.Hour), nil)
		require.NoError(t, f.Adapter.SetSession(ctx, session))

		require.NoError(t, f.Adapter.DeleteSession(ctx, session.ID))
		gotSession, gotUser, err := f.Adapter.GetSessionAndUser(ctx, session.ID)
		require.NoError(t, err)
		require.Nil(t, gotSession)
		require.Nil(t, gotUser)

		// Deleting an absent session is a no-op, not an error.
		require.NoError(t, f.Adapter.DeleteSession(ctx, session.ID))
	})

	t.Run("UpdateSessionExpiration", func(t *testing.T) {
		f := open(t)
		ctx := context.Background()

		user := newUser(nil)
		f.InsertUser(t, "", user)
		session := newSession(user.ID, time.Now().Add(time.Hour), lucia.Attributes{"country": "FR"})
		require.NoError(t, f.Adapter.SetSession(ctx, session))

		extended := time.Now().Add(48 * time.Hour).Truncate(time.Second).UTC()
		require.NoError(t, f.Adapter.UpdateSessionExpiration(ctx, session.ID, extended))

		got, _, err := f.Adapter.GetSessionAndUser(ctx, session.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.WithinDuration(t, extended, got.ExpiresAt, time.Second)
		require.Equal(t, session.UserID, got.UserID)
		require.EqualValues(t, "FR", got.Attributes["country"])
	})

	t.Run("UpdateSessionExpirationMissing", func(t *testing.T) {
		f := open(t)
		ctx := context.Background()

		id := ulid.Make().String()
		require.NoError(t, f.Adapter.UpdateSessionExpiration(ctx, id, time.Now().Add(time.Hour)))

		// No row may have been created.
		session, user, err := f.Adapter.GetSessionAndUser(ctx, id)
		require.NoError(t, err)
		require.Nil(t, session)
		require.Nil(t, user)
	})

	t.Run("DeleteExpiredSessions", func(t *testing.T) {
		f := open(t)
		ctx := context.Background()

		user := newUser(nil)
		f.InsertUser(t, "", user)
		expired := newSession(user.ID, time.Now().Add(-time.Hour), nil)
		live := newSession(user.ID, time.Now().Add(time.Hour), nil)
		require.NoError(t, f.Adapter.SetSession(ctx, expired))
		require.NoError(t, f.Adapter.SetSession(ctx, live))

		require.NoError(t, f.Adapter.DeleteExpiredSessions(ctx))

		gone, _, err := f.Adapter.GetSessionAndUser(ctx, expired.ID)
		require.NoError(t, err)
		require.Nil(t, gone)
		kept, _, err := f.Adapter.GetSessionAndUser(ctx, live.ID)
		require.NoError(t, err)
		require.NotNil(t, kept)

		// A second sweep with nothing expired is a no-op.
		require.NoError(t, f.Adapter.DeleteExpiredSessions(ctx))
	})

	t.Run("UserSessions", func(t *testing.T) {
		f := open(t)
		ctx := context.Background()

		owner := newUser(nil)
		other := newUser(nil)
		f.InsertUser(t, "", owner)
		f.InsertUser(t, "", other)

		first := newSession(owner.ID, time.Now().Add(time.Hour), nil)
		second := newSession(owner.ID, time.Now().Add(2*time.Hour), nil)
		foreign := newSession(other.ID, time.Now().Add(time.Hour), nil)
		require.NoError(t, f.Adapter.SetSession(ctx, first))
		require.NoError(t, f.Adapter.SetSession(ctx, second))
		require.NoError(t, f.Adapter.SetSession(ctx, foreign))

		sessions, err := f.Adapter.GetUserSessions(ctx, owner.ID)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{first.ID, second.ID}, sessionIDs(sessions))

		require.NoError(t, f.Adapter.DeleteUserSessions(ctx, owner.ID))
		sessions, err = f.Adapter.GetUserSessions(ctx, owner.ID)
		require.NoError(t, err)
		require.Empty(t, sessions)

		// Other users' sessions are untouched.
		sessions, err = f.Adapter.GetUserSessions(ctx, other.ID)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{foreign.ID}, sessionIDs(sessions))

		// Deleting again matches nothing and still succeeds.
		require.NoError(t, f.Adapter.DeleteUserSessions(ctx, owner.ID))
	})

	t.Run("SchemaRedirection", func(t *testing.T) {
		f := open(t)
		if f.AltSchema == "" {
			t.Skip("backend fixture does not provide an alternate schema")
		}
		ctx := context.Background()
		alt := lucia.WithSchema(f.AltSchema)

		defaultUser := newUser(nil)
		altUser := newUser(nil)
		f.InsertUser(t, "", defaultUser)
		f.InsertUser(t, f.AltSchema, altUser)

		// The same session id lives independently in both schemas.
		id := ulid.Make().String()
		defaultSession := &lucia.Session{ID: id, UserID: defaultUser.ID, ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second).UTC()}
		altSession := &lucia.Session{ID: id, UserID: altUser.ID, ExpiresAt: time.Now().Add(2 * time.Hour).Truncate(time.Second).UTC()}
		require.NoError(t, f.Adapter.SetSession(ctx, defaultSession))
		require.NoError(t, f.Adapter.SetSession(ctx, altSession, alt))

		_, gotUser, err := f.Adapter.GetSessionAndUser(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, gotUser)
		require.Equal(t, defaultUser.ID, gotUser.ID)

		_, gotUser, err = f.Adapter.GetSessionAndUser(ctx, id, alt)
		require.NoError(t, err)
		require.NotNil(t, gotUser)
		require.Equal(t, altUser.ID, gotUser.ID)

		// Redirection is call-scoped: deleting in the alternate schema must
		// not leak into subsequent calls without the option.
		require.NoError(t, f.Adapter.DeleteSession(ctx, id, alt))
		gotSession, _, err := f.Adapter.GetSessionAndUser(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, gotSession)
		gotSession, _, err = f.Adapter.GetSessionAndUser(ctx, id, alt)
		require.NoError(t, err)
		require.Nil(t, gotSession)
	})

	t.Run("ConcurrentSchemaCalls", func(t *testing.T) {
		f := open(t)
		if f.AltSchema == "" {
			t.Skip("backend fixture does not provide an alternate schema")
		}
		ctx := context.Background()
		alt := lucia.WithSchema(f.AltSchema)

		defaultUser := newUser(nil)
		altUser := newUser(nil)
		f.InsertUser(t, "", defaultUser)
		f.InsertUser(t, f.AltSchema, altUser)

		// Interleaved calls with different schema arguments must not corrupt
		// each other's target table through the shared descriptor.
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < 8; i++ {
			schemaUser, opts := defaultUser, []lucia.Option{}
			if i%2 == 1 {
				schemaUser, opts = altUser, []lucia.Option{alt}
			}
			g.Go(func() error {
				session := newSession(schemaUser.ID, time.Now().Add(time.Hour), nil)
				if err := f.Adapter.SetSession(gctx, session, opts...); err != nil {
					return err
				}
				_, _, err := f.Adapter.GetSessionAndUser(gctx, session.ID, opts...)
				return err
			})
		}
		require.NoError(t, g.Wait())

		defaultSessions, err := f.Adapter.GetUserSessions(ctx, defaultUser.ID)
		require.NoError(t, err)
		require.Len(t, defaultSessions, 4)
		altSessions, err := f.Adapter.GetUserSessions(ctx, altUser.ID, alt)
		require.NoError(t, err)
		require.Len(t, altSessions, 4)
	})
}

func newUser(attributes lucia.Attributes) *lucia.User {
	return &lucia.User{ID: ulid.Make().String(), Attributes: attributes}
}

func newSession(userID string, expiresAt time.Time, attributes lucia.Attributes) *lucia.Session {
	return &lucia.Session{
		ID:         ulid.Make().String(),
		UserID:     userID,
		ExpiresAt:  expiresAt.Truncate(time.Second).UTC(),
		Attributes: attributes,
	}
}

func sessionIDs(sessions []*lucia.Session) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

func requireSessionEqual(t *testing.T, want, got *lucia.Session) {
	t.Helper()
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.UserID, got.UserID)
	require.WithinDuration(t, want.ExpiresAt, got.ExpiresAt, time.Second)
	requireAttributes(t, want.Attributes, got.Attributes)
}

// requireAttributes checks that every expected attribute round-tripped.
// Schema-defined columns the scenario never set come back as NULL entries;
// those are accepted as long as they are nil.
func requireAttributes(t *testing.T, want, got lucia.Attributes) {
	t.Helper()
	for key, value := range want {
		if lucia.Reserved(key) {
			continue
		}
		require.EqualValues(t, value, got[key], "attribute %q", key)
	}
	for key, value := range got {
		if _, ok := want[key]; !ok {
			require.Nil(t, value, "unexpected non-null attribute %q", key)
		}
	}
}

package lucia

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTablesWithSchema(t *testing.T) {
	base := DefaultTables()
	redirected := base.WithSchema("tenant_a")

	require.Equal(t, "", base.Schema)
	require.Equal(t, "tenant_a", redirected.Schema)
	require.Equal(t, base.Users, redirected.Users)
	require.Equal(t, base.Sessions, redirected.Sessions)
}

func TestTablesResolve(t *testing.T) {
	base := DefaultTables()

	resolved := base.Resolve([]Option{WithSchema("tenant_a")})
	require.Equal(t, "tenant_a", resolved.Schema)
	// The shared descriptor must stay untouched.
	require.Equal(t, "", base.Schema)

	resolved = base.Resolve(nil)
	require.Equal(t, base, resolved)
}

func TestReserved(t *testing.T) {
	require.True(t, Reserved("id"))
	require.True(t, Reserved("user_id"))
	require.True(t, Reserved("expires_at"))
	require.False(t, Reserved("country"))
	require.False(t, Reserved("ID"))
}

func TestAttributesClone(t *testing.T) {
	require.Nil(t, Attributes(nil).Clone())

	original := Attributes{"country": "AT", "device": "mobile"}
	clone := original.Clone()
	require.Equal(t, original, clone)

	clone["country"] = "DE"
	require.EqualValues(t, "AT", original["country"])
}

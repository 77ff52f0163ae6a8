package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolverResolve(t *testing.T) {
	r := NewStaticResolver(map[string]Identity{
		"secret-key": {TenantID: "acme", UserID: "agent-1"},
	})

	id, err := r.Resolve("secret-key")
	require.NoError(t, err)
	assert.Equal(t, "acme", id.TenantID)
	assert.Equal(t, "agent-1", id.UserID)
}

func TestStaticResolverUnknownKey(t *testing.T) {
	r := NewStaticResolver(map[string]Identity{
		"secret-key": {TenantID: "acme", UserID: "agent-1"},
	})

	_, err := r.Resolve("wrong-key")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = r.Resolve("")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestParseKeySpec(t *testing.T) {
	keys := ParseKeySpec("k1:acme:alice, k2:other ,k3:acme")

	require.Len(t, keys, 3)
	assert.Equal(t, Identity{TenantID: "acme", UserID: "alice"}, keys["k1"])
	assert.Equal(t, Identity{TenantID: "other", UserID: "agent"}, keys["k2"])
	assert.Equal(t, Identity{TenantID: "acme", UserID: "agent"}, keys["k3"])
}

func TestParseKeySpecSkipsMalformedEntries(t *testing.T) {
	keys := ParseKeySpec("bare-key,:tenant-only,,k1:acme")

	require.Len(t, keys, 1)
	assert.Equal(t, "acme", keys["k1"].TenantID)
}

// Package identity resolves API credentials to a verified (user, tenant)
// pair. Every read and write downstream is scoped by the resolved tenant.
package identity

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// ErrUnauthorized means the credential resolved to no known identity.
var ErrUnauthorized = errors.New("invalid or missing API key")

// Identity is a verified caller.
type Identity struct {
	UserID   string
	TenantID string
}

// Resolver maps an API key to an Identity.
type Resolver interface {
	Resolve(apiKey string) (*Identity, error)
}

// StaticResolver resolves keys from a fixed map loaded at startup. Key
// comparison is constant-time.
type StaticResolver struct {
	keys map[string]Identity
}

// NewStaticResolver creates a resolver over key → identity entries.
func NewStaticResolver(keys map[string]Identity) *StaticResolver {
	return &StaticResolver{keys: keys}
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(apiKey string) (*Identity, error) {
	if apiKey == "" {
		return nil, ErrUnauthorized
	}
	for k, id := range r.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			identity := id
			return &identity, nil
		}
	}
	return nil, ErrUnauthorized
}

// ParseKeySpec parses the WARDEN_API_KEYS format:
// "key1:tenant1:user1,key2:tenant2:user2". The user part may be omitted, in
// which case it defaults to "agent".
func ParseKeySpec(spec string) map[string]Identity {
	keys := make(map[string]Identity)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		userID := "agent"
		if len(parts) == 3 && parts[2] != "" {
			userID = parts[2]
		}
		keys[parts[0]] = Identity{TenantID: parts[1], UserID: userID}
	}
	return keys
}

package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFallback = Profile{ID: "default", MaxSteps: 20, TTLMinutes: 30}

func TestResolveExplicitProfile(t *testing.T) {
	r := NewResolver(&ProfilesFile{
		Profiles: []Profile{{ID: "research", MaxSteps: 40, TTLMinutes: 90}},
	}, testFallback)

	p, err := r.Resolve("research", "acme")
	require.NoError(t, err)
	assert.Equal(t, 40, p.MaxSteps)
}

func TestResolveUnknownProfileFails(t *testing.T) {
	r := NewResolver(nil, testFallback)

	_, err := r.Resolve("nope", "acme")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestResolveTenantDefault(t *testing.T) {
	r := NewResolver(&ProfilesFile{
		Profiles:       []Profile{{ID: "research", MaxSteps: 40, TTLMinutes: 90}},
		TenantDefaults: map[string]string{"acme": "research"},
	}, testFallback)

	p, err := r.Resolve("", "acme")
	require.NoError(t, err)
	assert.Equal(t, "research", p.ID)

	p, err = r.Resolve("", "other")
	require.NoError(t, err)
	assert.Equal(t, "default", p.ID)
}

func TestResolveDanglingTenantDefaultFallsBack(t *testing.T) {
	r := NewResolver(&ProfilesFile{
		TenantDefaults: map[string]string{"acme": "missing"},
	}, testFallback)

	p, err := r.Resolve("", "acme")
	require.NoError(t, err)
	assert.Equal(t, "default", p.ID)
}

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  - id: research
    max_steps: 40
    ttl_minutes: 90
tenant_defaults:
  acme: research
`), 0o600))

	pf, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, pf.Profiles, 1)
	assert.Equal(t, "research", pf.TenantDefaults["acme"])
}

func TestLoadProfilesMissingFileIsNil(t *testing.T) {
	pf, err := LoadProfiles(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, pf)
}

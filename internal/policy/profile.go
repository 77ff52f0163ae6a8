// Package policy resolves session policy profiles and enforces operator caps
// on session creation via embedded OPA policies.
package policy

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrProfileNotFound is returned when an explicitly requested profile id is
// not configured.
var ErrProfileNotFound = errors.New("policy profile not found")

// Profile bounds one browsing session: step budget and lifetime.
type Profile struct {
	ID         string `yaml:"id" json:"id"`
	MaxSteps   int    `yaml:"max_steps" json:"max_steps"`
	TTLMinutes int    `yaml:"ttl_minutes" json:"ttl_minutes"`
}

// TTL returns the profile lifetime as a duration.
func (p Profile) TTL() time.Duration {
	return time.Duration(p.TTLMinutes) * time.Minute
}

// ProfilesFile is the YAML structure for operator-configured profiles.
type ProfilesFile struct {
	Profiles       []Profile         `yaml:"profiles"`
	TenantDefaults map[string]string `yaml:"tenant_defaults"` // tenant_id → profile id
}

// LoadProfiles reads a profiles YAML file from disk. Returns nil (not an
// error) if the file does not exist, so callers can run with the fallback
// profile only.
func LoadProfiles(path string) (*ProfilesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading policy profiles %s: %w", path, err)
	}
	var pf ProfilesFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing policy profiles %s: %w", path, err)
	}
	return &pf, nil
}

// Resolver resolves the effective profile for a session:
// explicit id → tenant default → fallback.
type Resolver struct {
	profiles       map[string]Profile
	tenantDefaults map[string]string
	fallback       Profile
}

// NewResolver builds a Resolver. pf may be nil (fallback only). The fallback
// profile is used when neither an explicit id nor a tenant default applies.
func NewResolver(pf *ProfilesFile, fallback Profile) *Resolver {
	r := &Resolver{
		profiles:       make(map[string]Profile),
		tenantDefaults: make(map[string]string),
		fallback:       fallback,
	}
	if pf != nil {
		for _, p := range pf.Profiles {
			r.profiles[p.ID] = p
		}
		for tenant, id := range pf.TenantDefaults {
			r.tenantDefaults[tenant] = id
		}
	}
	return r
}

// Resolve returns the effective profile. An explicitly requested id that is
// not configured is an error; a dangling tenant default silently falls back.
func (r *Resolver) Resolve(profileID, tenantID string) (Profile, error) {
	if profileID != "" {
		p, ok := r.profiles[profileID]
		if !ok {
			return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
		}
		return p, nil
	}
	if id, ok := r.tenantDefaults[tenantID]; ok {
		if p, ok := r.profiles[id]; ok {
			return p, nil
		}
	}
	return r.fallback, nil
}

// Fallback returns the resolver's fallback profile.
func (r *Resolver) Fallback() Profile {
	return r.fallback
}

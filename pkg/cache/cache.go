// Package cache holds the node-local caches the sync engine invalidates
// on profile/role/validators/strategies events (§4.5): bounded LRUs so a
// long-running node doesn't grow these without limit, backed by the
// teacher's hashicorp/golang-lru dependency.
package cache

import (
	lru "github.com/hashicorp/golang-lru"
)

const defaultSize = 4096

// Repositories bundles the four caches the sync engine touches by event
// name: profile, role, validators (a single entry keyed by "spec"), and
// strategies.
type Repositories struct {
	Profiles   *lru.Cache
	Roles      *lru.Cache
	Validators *lru.Cache
	Strategies *lru.Cache
}

// NewRepositories builds all four caches with the given per-cache
// capacity, or defaultSize when size <= 0.
func NewRepositories(size int) (*Repositories, error) {
	if size <= 0 {
		size = defaultSize
	}
	profiles, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	roles, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	validators, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	strategies, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Repositories{
		Profiles:   profiles,
		Roles:      roles,
		Validators: validators,
		Strategies: strategies,
	}, nil
}

// InvalidateProfile drops a cached profile by id (§4.5 "profile").
func (r *Repositories) InvalidateProfile(id string) {
	r.Profiles.Remove(id)
}

// InvalidateRole drops a cached role by id (§4.5 "role").
func (r *Repositories) InvalidateRole(id string) {
	r.Roles.Remove(id)
}

// ReloadValidators clears the validators cache; the next lookup recomputes
// from the authoritative specification (§4.5 "validators").
func (r *Repositories) ReloadValidators() {
	r.Validators.Purge()
}

// SetStrategy upserts a strategy's registration payload under name.
func (r *Repositories) SetStrategy(name string, payload []byte) {
	r.Strategies.Add(name, payload)
}

// RemoveStrategy drops a strategy's registration.
func (r *Repositories) RemoveStrategy(name string) {
	r.Strategies.Remove(name)
}

// StrategyNames lists every currently-registered strategy name, used by
// the sync engine's strategies diff (§4.5).
func (r *Repositories) StrategyNames() []string {
	keys := r.Strategies.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if name, ok := k.(string); ok {
			out = append(out, name)
		}
	}
	return out
}

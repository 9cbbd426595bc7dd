package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Registry resolves profile IDs to providers, building each client once.
type Registry struct {
	mu         sync.RWMutex
	profiles   map[string]Profile
	defaultID  string
	providers  map[string]LLMProvider
	generation uint64

	factory Factory
	group   singleflight.Group
}

// NewRegistry creates a registry. A nil factory means New.
func NewRegistry(factory Factory) *Registry {
	if factory == nil {
		factory = New
	}
	return &Registry{
		profiles:  make(map[string]Profile),
		providers: make(map[string]LLMProvider),
		factory:   factory,
	}
}

// Reload replaces the known profiles. Cached clients are kept only for profiles
// that did not change.
func (r *Registry) Reload(profiles []Profile, defaultID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		next[p.ID] = p
	}

	for id := range r.providers {
		if old, ok := r.profiles[id]; !ok || next[id] != old {
			delete(r.providers, id)
		}
	}

	r.profiles = next
	r.defaultID = defaultID
	r.generation++

	log.Debug().
		Int("profiles", len(next)).
		Str("default", defaultID).
		Msg("Provider profiles reloaded")
}

// Profile returns the profile for id, or the default profile when id is empty.
func (r *Registry) Profile(id string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profileLocked(id)
}

func (r *Registry) profileLocked(id string) (Profile, error) {
	if id == "" {
		id = r.defaultID
	}
	if id == "" {
		return Profile{}, fmt.Errorf("no AI profile configured")
	}
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("unknown AI profile: %s", id)
	}
	return p, nil
}

// Profiles lists the known profiles sorted by ID.
func (r *Registry) Profiles() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the provider for id (empty means default) together with its profile.
// Concurrent first calls for the same profile share one client construction.
func (r *Registry) Get(ctx context.Context, id string) (LLMProvider, Profile, error) {
	r.mu.RLock()
	profile, err := r.profileLocked(id)
	if err != nil {
		r.mu.RUnlock()
		return nil, Profile{}, err
	}
	if p, ok := r.providers[profile.ID]; ok {
		r.mu.RUnlock()
		return p, profile, nil
	}
	gen := r.generation
	r.mu.RUnlock()

	key := fmt.Sprintf("%s@%d", profile.ID, gen)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		r.mu.RLock()
		cached, ok := r.providers[profile.ID]
		r.mu.RUnlock()
		if ok && r.currentGeneration() == gen {
			return cached, nil
		}

		p, err := r.factory(ctx, profile)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.generation == gen {
			r.providers[profile.ID] = p
		}
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, Profile{}, fmt.Errorf("build %s provider for profile %s: %w", profile.Provider, profile.ID, err)
	}
	return v.(LLMProvider), profile, nil
}

func (r *Registry) currentGeneration() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

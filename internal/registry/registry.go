// Package registry holds the static catalogue of known printer profiles
package registry

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a profile id is not registered
var ErrNotFound = errors.New("profile not found")

// Registry is an immutable catalogue of printer profiles
type Registry struct {
	profiles []Profile
	index    map[string]int
	def      int
}

// catalogue is the on-disk layout of a profile file
type catalogue struct {
	Default  string    `yaml:"default,omitempty"`
	Printers []Profile `yaml:"printers"`
}

// New creates a registry from a list of profiles. At least one profile is required.
func New(profiles ...Profile) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, errors.New("registry needs at least one printer profile")
	}

	r := &Registry{
		profiles: make([]Profile, 0, len(profiles)),
		index:    make(map[string]int, len(profiles)),
		def:      -1,
	}

	for i, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("profile[%d]: id is required", i)
		}
		if _, exists := r.index[p.ID]; exists {
			return nil, fmt.Errorf("profile[%d]: duplicate id '%s'", i, p.ID)
		}
		if p.Default {
			if r.def >= 0 {
				return nil, fmt.Errorf("profile[%d] '%s': only one default profile allowed (already '%s')",
					i, p.ID, r.profiles[r.def].ID)
			}
			r.def = i
		}
		r.index[p.ID] = i
		r.profiles = append(r.profiles, p.clone())
	}

	// Fall back to the first registered profile
	if r.def < 0 {
		r.def = 0
	}

	return r, nil
}

// Load parses a YAML profile catalogue
func Load(data []byte) (*Registry, error) {
	var cat catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse profile catalogue: %w", err)
	}

	if cat.Default != "" {
		found := false
		for i := range cat.Printers {
			if cat.Printers[i].ID == cat.Default {
				cat.Printers[i].Default = true
				found = true
			} else {
				cat.Printers[i].Default = false
			}
		}
		if !found {
			return nil, fmt.Errorf("default profile '%s': %w", cat.Default, ErrNotFound)
		}
	}

	return New(cat.Printers...)
}

// LoadFile reads a YAML profile catalogue from disk
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile catalogue: %w", err)
	}
	return Load(data)
}

// Default returns the profile flagged default, or the first one registered
func (r *Registry) Default() Profile {
	return r.profiles[r.def].clone()
}

// ByID returns the profile with the given id
func (r *Registry) ByID(id string) (Profile, error) {
	i, ok := r.index[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.profiles[i].clone(), nil
}

// All returns every profile in registration order
func (r *Registry) All() []Profile {
	out := make([]Profile, len(r.profiles))
	for i, p := range r.profiles {
		out[i] = p.clone()
	}
	return out
}

// Len returns the number of registered profiles
func (r *Registry) Len() int {
	return len(r.profiles)
}

package lens

import (
	"fmt"
	"sort"
)

// Store is the read-only set of lens profiles a process runs with.
// It is safe for concurrent use because it is never mutated after NewStore.
type Store struct {
	profiles map[Identity]*Profile
}

// NewStore validates profiles and freezes them into a Store.
// Each lens may appear at most once.
func NewStore(profiles ...*Profile) (*Store, error) {
	s := &Store{profiles: make(map[Identity]*Profile, len(profiles))}
	for _, p := range profiles {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.profiles[p.Lens]; dup {
			return nil, fmt.Errorf("%w: duplicate profile for %s", ErrInvalidProfile, p.Lens)
		}
		s.profiles[p.Lens] = p.Clone()
	}
	return s, nil
}

// Profile returns a copy of the profile for a lens.
func (s *Store) Profile(id Identity) (*Profile, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Lenses lists the calibrated lenses in identity order.
func (s *Store) Lenses() []Identity {
	if s == nil {
		return nil
	}
	ids := make([]Identity, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Supports reports whether both lenses of a mode are calibrated.
func (s *Store) Supports(m Mode) bool {
	a, b := m.Lenses()
	_, okA := s.Profile(a)
	_, okB := s.Profile(b)
	return okA && okB
}

// Baseline returns the physical distance in metres between two lenses'
// optical centres.
func (s *Store) Baseline(a, b Identity) (float64, error) {
	pa, ok := s.Profile(a)
	if !ok {
		return 0, fmt.Errorf("no profile for %s", a)
	}
	pb, ok := s.Profile(b)
	if !ok {
		return 0, fmt.Errorf("no profile for %s", b)
	}
	return pa.BaselineOffset.Distance(pb.BaselineOffset), nil
}

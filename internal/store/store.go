// Package store holds the in-memory entity and relation store with its
// time-based lifecycle. It is written to from exactly one place: the
// orchestrator's writer context (see internal/orchestrator).
package store

import (
	"sort"
	"sync"
	"time"

	"go.meridian.dev/meridian/internal/clock"
	"go.meridian.dev/meridian/internal/model"
)

// Thresholds controls when entities advance through the lifecycle.
type Thresholds struct {
	Stale   time.Duration
	Expired time.Duration
	Remove  time.Duration
}

// DefaultThresholds matches the values named throughout the spec: 30s/60s/90s.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Stale:   30 * time.Second,
		Expired: 60 * time.Second,
		Remove:  90 * time.Second,
	}
}

// Store is the keyed container for entities and relations. It is not
// internally synchronized beyond what's needed for safe snapshot reads from
// a second goroutine (e.g. a metrics scraper); all mutation is expected to
// happen from the single orchestrator writer.
type Store struct {
	mu        sync.RWMutex
	entities  map[string]model.Entity
	relations map[string]model.Relation
	clock     clock.Clock
}

// New creates an empty store using the real wall clock.
func New() *Store {
	return NewWithClock(&clock.RealClock{})
}

// NewWithClock creates an empty store using the supplied clock, for tests.
func NewWithClock(c clock.Clock) *Store {
	return &Store{
		entities:  make(map[string]model.Entity),
		relations: make(map[string]model.Relation),
		clock:     c,
	}
}

// Upsert merges the supplied entity's fields into any existing entity,
// preserves the original firstSeen, refreshes lastSeen to now, and forces
// status to active. Fresh entities get both timestamps set to now.
func (s *Store) Upsert(e model.Entity) model.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UnixMilli()
	existing, ok := s.entities[e.ID]
	if ok {
		e.FirstSeen = existing.FirstSeen
		// Preserve enrichment fields the observation itself doesn't carry,
		// so that re-observation never wipes a prior classification or
		// OS-fingerprint patch (invariant 9).
		if deviceCategoryEmpty(e) && existing.DeviceCategory != "" {
			e.DeviceCategory = existing.DeviceCategory
		}
		if e.ClassifierHint == "" {
			e.ClassifierHint = existing.ClassifierHint
		}
		if e.OSFamily == "" {
			e.OSFamily = existing.OSFamily
			e.OSVersion = existing.OSVersion
			e.OSFingerprintConfidence = existing.OSFingerprintConfidence
		}
		if e.LAN != nil && existing.LAN != nil {
			if e.LAN.DeviceType == "" {
				e.LAN.DeviceType = existing.LAN.DeviceType
			}
			if e.LAN.ProductName == "" {
				e.LAN.ProductName = existing.LAN.ProductName
			}
			if e.LAN.IconKey == "" {
				e.LAN.IconKey = existing.LAN.IconKey
			}
		}
	} else {
		e.FirstSeen = now
	}
	e.LastSeen = now
	e.Status = model.StatusActive
	s.entities[e.ID] = e
	return e
}

// deviceCategoryEmpty reports whether e carries no device category yet.
// Defined as a method on model.Entity would create an import cycle from
// model back into store semantics, so it lives here as a free function
// wrapped for readability at the call site above.
func deviceCategoryEmpty(e model.Entity) bool { return e.DeviceCategory == "" }

// Patch merges a subset of fields into an existing entity without touching
// lastSeen or status. No-op if the id is absent. This is the only path the
// classifier and OS fingerprinter may use (invariant 8).
func (s *Store) Patch(id string, mutate func(e *model.Entity)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return false
	}
	lastSeen, status := e.LastSeen, e.Status
	mutate(&e)
	e.LastSeen = lastSeen
	e.Status = status
	s.entities[id] = e
	return true
}

// Get returns a copy of the entity with the given id.
func (s *Store) Get(id string) (model.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok
}

// UpsertRelation replaces any existing relation with the same id.
func (s *Store) UpsertRelation(r model.Relation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations[r.ID] = r
}

// PruneRelationsOfEntity removes every relation whose source or target
// equals id.
func (s *Store) PruneRelationsOfEntity(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneRelationsOfEntityLocked(id)
}

func (s *Store) pruneRelationsOfEntityLocked(id string) {
	for rid, r := range s.relations {
		if r.Source == id || r.Target == id {
			delete(s.relations, rid)
		}
	}
}

// Remove deletes an entity and prunes its relations in the same atomic step
// (invariant 6).
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
	s.pruneRelationsOfEntityLocked(id)
}

// TickResult reports what a Tick call changed.
type TickResult struct {
	Removed        []string
	StatusesChanged bool
}

// Tick advances lifecycle state for every non-Host entity as a function of
// age. The Host is exempt (invariant 5).
func (s *Store) Tick(th Thresholds) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UnixMilli()
	var result TickResult

	for id, e := range s.entities {
		if e.Type == model.SignalHost {
			continue
		}
		age := time.Duration(now-e.LastSeen) * time.Millisecond
		switch {
		case age > th.Remove:
			delete(s.entities, id)
			s.pruneRelationsOfEntityLocked(id)
			result.Removed = append(result.Removed, id)
		case age > th.Expired:
			if e.Status != model.StatusExpired {
				e.Status = model.StatusExpired
				s.entities[id] = e
				result.StatusesChanged = true
			}
		case age > th.Stale:
			if e.Status != model.StatusStale && e.Status != model.StatusExpired {
				e.Status = model.StatusStale
				s.entities[id] = e
				result.StatusesChanged = true
			}
		}
	}

	sort.Strings(result.Removed)
	return result
}

// Entities returns an ordered list copy of all current entities.
func (s *Store) Entities() []model.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Relations returns an ordered list copy of all current relations.
func (s *Store) Relations() []model.Relation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Relation, 0, len(s.relations))
	for _, r := range s.relations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

package flight

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ormdash.org/internal/errs"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and single-process demos; production uses the SQL store.
type InMemory struct {
	mu      sync.RWMutex
	units   map[string]Unit
	flights map[string]Flight
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		units:   make(map[string]Unit),
		flights: make(map[string]Flight),
	}
}

func (s *InMemory) CreateUnit(ctx context.Context, u Unit) error {
	if u.ID == "" {
		return fmt.Errorf("%w: unit id is required", errs.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[u.ID]; ok {
		return fmt.Errorf("%w: unit %s already exists", errs.ErrConflict, u.ID)
	}
	u.Matrix = u.Matrix.Clone()
	s.units[u.ID] = u
	return nil
}

func (s *InMemory) GetUnit(ctx context.Context, id string) (Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return Unit{}, fmt.Errorf("%w: unit %s", errs.ErrNotFound, id)
	}
	u.Matrix = u.Matrix.Clone()
	return u, nil
}

func (s *InMemory) ListUnits(ctx context.Context) ([]Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Unit, 0, len(s.units))
	for _, u := range s.units {
		u.Matrix = u.Matrix.Clone()
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) UpdateUnit(ctx context.Context, u Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.units[u.ID]
	if !ok {
		return fmt.Errorf("%w: unit %s", errs.ErrNotFound, u.ID)
	}
	if err := CheckUnitUpdate(before, u, s.referencedLocked(u.ID)); err != nil {
		return err
	}
	u.Matrix = u.Matrix.Clone()
	s.units[u.ID] = u
	return nil
}

func (s *InMemory) CreateFlight(ctx context.Context, f Flight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[f.UnitID]; !ok {
		return fmt.Errorf("%w: unit %s", errs.ErrNotFound, f.UnitID)
	}
	if _, ok := s.flights[f.ID]; ok {
		return fmt.Errorf("%w: flight %s already exists", errs.ErrConflict, f.ID)
	}
	s.flights[f.ID] = f.Clone()
	return nil
}

func (s *InMemory) GetFlight(ctx context.Context, id string) (Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flights[id]
	if !ok {
		return Flight{}, fmt.Errorf("%w: flight %s", errs.ErrNotFound, id)
	}
	return f.Clone(), nil
}

func (s *InMemory) ListFlights(ctx context.Context, filter Filter) ([]Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Flight
	for _, f := range s.flights {
		if filter.Matches(f) {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FlightDate.Equal(out[j].FlightDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].FlightDate.After(out[j].FlightDate)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemory) UpdateFlight(ctx context.Context, id string, fn func(*Flight) error) (Flight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.flights[id]
	if !ok {
		return Flight{}, fmt.Errorf("%w: flight %s", errs.ErrNotFound, id)
	}
	working := before.Clone()
	if err := fn(&working); err != nil {
		return Flight{}, err
	}
	if err := CheckMutation(before, working); err != nil {
		return Flight{}, err
	}
	s.flights[id] = working.Clone()
	return working, nil
}

func (s *InMemory) DeleteFlight(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flights[id]; !ok {
		return fmt.Errorf("%w: flight %s", errs.ErrNotFound, id)
	}
	// hazards and crew live inside the flight value, so they go with it
	delete(s.flights, id)
	return nil
}

func (s *InMemory) ScrubCandidates(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []Flight
	for _, f := range s.flights {
		if !f.PIIScrubbed && f.ReferenceTime().Before(cutoff) {
			due = append(due, f)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ReferenceTime().Before(due[j].ReferenceTime()) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, f := range due {
		ids[i] = f.ID
	}
	return ids, nil
}

func (s *InMemory) referencedLocked(unitID string) bool {
	for _, f := range s.flights {
		if f.UnitID == unitID {
			return true
		}
	}
	return false
}

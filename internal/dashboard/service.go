// Package dashboard orchestrates the ORM core: every operation is gated by the
// access engine, audited before it proceeds, and returns PII-projected views.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ormdash.org/internal/audit"
	"ormdash.org/internal/auth"
	"ormdash.org/internal/errs"
	"ormdash.org/internal/flight"
	"ormdash.org/internal/pii"
	"ormdash.org/internal/risk"
)

const (
	DefaultLimit       = 50
	MaxLimit           = 500
	DefaultSummaryDays = 30
	MaxSummaryDays     = 366
)

// allUnits is the audit target id for requests spanning every unit.
const allUnits = "*"

// Service is the dashboard core.
type Service struct {
	flights  flight.Store
	engine   *auth.Engine
	recorder *audit.Recorder
	policy   pii.Policy
	bands    risk.Bands
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New wires the service. defaultBands are frozen into snapshots of unit
// matrices that carry no banding of their own.
func New(flights flight.Store, engine *auth.Engine, recorder *audit.Recorder, defaultBands risk.Bands, opts ...Option) (*Service, error) {
	if flights == nil {
		return nil, errors.New("flight store is required")
	}
	if engine == nil {
		return nil, errors.New("access engine is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	if err := defaultBands.Validate(); err != nil {
		return nil, fmt.Errorf("default bands: %w", err)
	}
	s := &Service{
		flights:  flights,
		engine:   engine,
		recorder: recorder,
		policy:   engine.Policy(),
		bands:    defaultBands,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy exposes the retention policy the service enforces.
func (s *Service) Policy() pii.Policy {
	return s.policy
}

// authorize audits every decision as one batch and fails when any of them is
// a deny. The caller learns nothing about which rule denied it.
func (s *Service) authorize(ctx context.Context, user auth.User, decisions ...auth.Decision) error {
	events := make([]audit.Event, len(decisions))
	for i, d := range decisions {
		events[i] = audit.FromDecision(user.ID, d)
	}
	if err := s.recorder.Record(ctx, events...); err != nil {
		return err
	}
	for _, d := range decisions {
		if !d.Allowed {
			return errs.ErrForbidden
		}
	}
	return nil
}

// flightFor loads a flight and gates action on it.
func (s *Service) flightFor(ctx context.Context, user auth.User, id string, action auth.Action) (flight.Flight, auth.Decision, error) {
	if id == "" {
		return flight.Flight{}, auth.Decision{}, fmt.Errorf("%w: flight id is required", errs.ErrValidation)
	}
	f, err := s.flights.GetFlight(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		d := auth.Missing(auth.Resource{Type: auth.ResourceFlight, ID: id}, action)
		aerr := s.authorize(ctx, user, d)
		if !errors.Is(aerr, errs.ErrForbidden) {
			return flight.Flight{}, d, aerr
		}
		// admins see every unit, so existence tells them nothing new
		if user.IsAdmin() {
			return flight.Flight{}, d, err
		}
		return flight.Flight{}, d, aerr
	}
	if err != nil {
		return flight.Flight{}, auth.Decision{}, err
	}
	d := s.engine.DecideAt(s.now(), user, auth.FlightResource(f), action)
	if err := s.authorize(ctx, user, d); err != nil {
		return flight.Flight{}, d, err
	}
	return f, d, nil
}

// GetFlight returns one flight projected for the caller.
func (s *Service) GetFlight(ctx context.Context, user auth.User, id string) (pii.View, error) {
	f, d, err := s.flightFor(ctx, user, id, auth.ActionView)
	if err != nil {
		return pii.View{}, err
	}
	return s.policy.Project(f, d.RedactPII), nil
}

// UnitInfo is the listing form of a unit.
type UnitInfo struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PatchImageURL string    `json:"patch_image_url,omitempty"`
	LastUpdated   time.Time `json:"last_updated"`
}

// ListUnits returns the units the caller may see; admins see all of them.
func (s *Service) ListUnits(ctx context.Context, user auth.User) ([]UnitInfo, error) {
	units, err := s.flights.ListUnits(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var (
		decisions []auth.Decision
		out       []UnitInfo
	)
	for _, u := range units {
		if !user.IsAdmin() && !user.HasUnit(u.ID) {
			continue
		}
		decisions = append(decisions, s.engine.DecideAt(now, user, auth.UnitResource(u.ID), auth.ActionListUnits))
		out = append(out, UnitInfo{ID: u.ID, Name: u.Name, PatchImageURL: u.PatchImageURL, LastUpdated: u.LastUpdated.UTC()})
	}
	if err := s.authorize(ctx, user, decisions...); err != nil {
		return nil, err
	}
	return out, nil
}

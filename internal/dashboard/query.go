package dashboard

import (
	"context"
	"fmt"
	"time"

	"ormdash.org/internal/auth"
	"ormdash.org/internal/errs"
	"ormdash.org/internal/flight"
	"ormdash.org/internal/pii"
	"ormdash.org/internal/summary"
)

// Query selects flights. Zero times leave that side of the window open.
type Query struct {
	UnitID string
	From   time.Time
	To     time.Time
	Limit  int
}

func (q Query) normalize() (Query, error) {
	switch {
	case q.Limit < 0:
		return q, fmt.Errorf("%w: limit must not be negative", errs.ErrValidation)
	case q.Limit == 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return q, fmt.Errorf("%w: from must not be after to", errs.ErrValidation)
	}
	return q, nil
}

// MetricsQuery selects the flights a summary is computed over.
type MetricsQuery struct {
	UnitID string
	Days   int
}

// scope gates the unit set a request spans and returns the matching filter.
// A non-admin without an explicit unit is scoped to their own units.
func (s *Service) scope(ctx context.Context, user auth.User, unitID string, action auth.Action, now time.Time) (flight.Filter, error) {
	var (
		filter    flight.Filter
		resources []auth.Resource
	)
	switch {
	case unitID != "":
		filter.UnitIDs = []string{unitID}
		resources = append(resources, auth.UnitResource(unitID))
	case user.IsAdmin():
		filter.AllUnits = true
		resources = append(resources, auth.Resource{Type: auth.ResourceUnit, ID: allUnits})
	default:
		filter.UnitIDs = append(filter.UnitIDs, user.UnitAccess...)
		for _, id := range user.UnitAccess {
			resources = append(resources, auth.UnitResource(id))
		}
	}
	if len(resources) == 0 {
		// Users with no units see nothing; there is nothing to decide.
		return filter, nil
	}
	decisions := make([]auth.Decision, len(resources))
	for i, res := range resources {
		decisions[i] = s.engine.DecideAt(now, user, res, action)
	}
	return filter, s.authorize(ctx, user, decisions...)
}

// clampHistorical narrows from so users without historical access never
// select records past the historical window.
func (s *Service) clampHistorical(user auth.User, from, now time.Time) time.Time {
	if user.CanViewHistorical {
		return from
	}
	earliest := now.Add(-s.policy.HistoricalWindow)
	if from.Before(earliest) {
		return earliest
	}
	return from
}

// QueryFlights lists flights newest first, projected for the caller.
func (s *Service) QueryFlights(ctx context.Context, user auth.User, q Query) ([]pii.View, error) {
	return s.list(ctx, user, q, auth.ActionView)
}

// ExportFlights is QueryFlights gated by the export capability.
func (s *Service) ExportFlights(ctx context.Context, user auth.User, q Query) ([]pii.View, error) {
	return s.list(ctx, user, q, auth.ActionExport)
}

func (s *Service) list(ctx context.Context, user auth.User, q Query, action auth.Action) ([]pii.View, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	now := s.now()
	filter, err := s.scope(ctx, user, q.UnitID, action, now)
	if err != nil {
		return nil, err
	}
	filter.From = s.clampHistorical(user, q.From, now)
	filter.To = q.To
	filter.Limit = q.Limit
	if !filter.To.IsZero() && filter.From.After(filter.To) {
		return []pii.View{}, nil
	}

	flights, err := s.flights.ListFlights(ctx, filter)
	if err != nil {
		return nil, err
	}
	decisions := make([]auth.Decision, len(flights))
	for i, f := range flights {
		decisions[i] = s.engine.DecideAt(now, user, auth.FlightResource(f), action)
	}
	// All or nothing: a denied record fails the whole request.
	if err := s.authorize(ctx, user, decisions...); err != nil {
		return nil, err
	}
	views := make([]pii.View, len(flights))
	for i, f := range flights {
		views[i] = s.policy.Project(f, decisions[i].RedactPII)
	}
	return views, nil
}

// Summary aggregates the caller's flights over the last q.Days days.
func (s *Service) Summary(ctx context.Context, user auth.User, q MetricsQuery) (summary.Summary, error) {
	switch {
	case q.Days == 0:
		q.Days = DefaultSummaryDays
	case q.Days < 0 || q.Days > MaxSummaryDays:
		return summary.Summary{}, fmt.Errorf("%w: days must be between 1 and %d", errs.ErrValidation, MaxSummaryDays)
	}
	now := s.now()
	filter, err := s.scope(ctx, user, q.UnitID, auth.ActionMetrics, now)
	if err != nil {
		return summary.Summary{}, err
	}
	window := summary.Window{Start: now.AddDate(0, 0, -q.Days), End: now}
	window.Start = s.clampHistorical(user, window.Start, now)
	filter.From, filter.To = window.Start, window.End

	flights, err := s.flights.ListFlights(ctx, filter)
	if err != nil {
		return summary.Summary{}, err
	}
	return summary.Summarize(flights, window), nil
}

package dashboard

import (
	"context"
	"fmt"

	"ormdash.org/internal/audit"
	"ormdash.org/internal/auth"
	"ormdash.org/internal/errs"
	"ormdash.org/internal/flight"
	"ormdash.org/internal/obs"
	"ormdash.org/internal/pii"
)

// ApproveFlight marks a flight approved. The approver is recorded by name
// while the record is current and by role once it is historical.
func (s *Service) ApproveFlight(ctx context.Context, user auth.User, id string) (pii.View, error) {
	return s.updateStatus(ctx, user, id, auth.ActionApprove, func(f *flight.Flight) {
		f.IsApproved = true
		f.ApprovalRole = user.Role.String()
		if f.PIIScrubbed || s.policy.Expired(*f, s.now()) {
			f.ApprovalBy = user.Role.String()
		} else {
			f.ApprovalBy = user.Name
		}
	})
}

// BriefFlight marks a flight briefed.
func (s *Service) BriefFlight(ctx context.Context, user auth.User, id string) (pii.View, error) {
	return s.updateStatus(ctx, user, id, auth.ActionBrief, func(f *flight.Flight) {
		f.IsBriefed = true
	})
}

func (s *Service) updateStatus(ctx context.Context, user auth.User, id string, action auth.Action, apply func(*flight.Flight)) (pii.View, error) {
	_, d, err := s.flightFor(ctx, user, id, action)
	if err != nil {
		return pii.View{}, err
	}
	updated, err := s.flights.UpdateFlight(ctx, id, func(f *flight.Flight) error {
		apply(f)
		f.LastEdited = s.now().UTC()
		return nil
	})
	if err != nil {
		return pii.View{}, err
	}
	return s.policy.Project(updated, d.RedactPII || updated.PIIScrubbed), nil
}

// ScrubFlight irreversibly redacts a flight's identifying fields. Scrubbing an
// already scrubbed flight changes nothing and succeeds.
func (s *Service) ScrubFlight(ctx context.Context, user auth.User, id string) (pii.View, error) {
	if _, _, err := s.flightFor(ctx, user, id, auth.ActionScrub); err != nil {
		return pii.View{}, err
	}
	updated, _, err := s.scrub(ctx, id, "manual")
	if err != nil {
		return pii.View{}, err
	}
	return s.policy.Project(updated, true), nil
}

func (s *Service) scrub(ctx context.Context, id, trigger string) (flight.Flight, bool, error) {
	var changed bool
	updated, err := s.flights.UpdateFlight(ctx, id, func(f *flight.Flight) error {
		changed = s.policy.Scrub(f)
		if changed {
			f.LastEdited = s.now().UTC()
		}
		return nil
	})
	if err != nil {
		return flight.Flight{}, false, err
	}
	if changed {
		obs.PIIScrubbed(trigger)
	}
	return updated, changed, nil
}

// DeleteFlight removes a flight together with its hazards and crew.
func (s *Service) DeleteFlight(ctx context.Context, user auth.User, id string) error {
	if _, _, err := s.flightFor(ctx, user, id, auth.ActionDelete); err != nil {
		return err
	}
	return s.flights.DeleteFlight(ctx, id)
}

// SweepResult reports one retention sweep.
type SweepResult struct {
	Candidates int      `json:"candidates"`
	Scrubbed   []string `json:"scrubbed"`
}

// SweepExpired scrubs up to limit flights that have outlived the retention
// window, oldest first. Each scrub is audited under the system actor before it
// is applied. A limit of zero means no limit.
func (s *Service) SweepExpired(ctx context.Context, limit int) (SweepResult, error) {
	if limit < 0 {
		return SweepResult{}, fmt.Errorf("%w: limit must not be negative", errs.ErrValidation)
	}
	now := s.now()
	candidates, err := s.flights.ScrubCandidates(ctx, s.policy.Cutoff(now), limit)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Candidates: len(candidates), Scrubbed: []string{}}
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ev := audit.Event{
			ActorID:    audit.SystemActor,
			Action:     string(auth.ActionScrub),
			TargetType: auth.ResourceFlight,
			TargetID:   id,
			Outcome:    audit.OutcomeAllow,
			Context:    map[string]any{"trigger": "sweep", "reason": "retention_expired"},
		}
		if err := s.recorder.Record(ctx, ev); err != nil {
			return res, err
		}
		_, changed, err := s.scrub(ctx, id, "sweep")
		if err != nil {
			return res, fmt.Errorf("scrub flight %s: %w", id, err)
		}
		if changed {
			res.Scrubbed = append(res.Scrubbed, id)
		}
	}
	obs.Log("info", "retention sweep complete", map[string]any{"candidates": res.Candidates, "scrubbed": len(res.Scrubbed)})
	return res, nil
}

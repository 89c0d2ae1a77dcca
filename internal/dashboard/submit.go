package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ormdash.org/internal/auth"
	"ormdash.org/internal/errs"
	"ormdash.org/internal/flight"
	"ormdash.org/internal/ids"
	"ormdash.org/internal/obs"
	"ormdash.org/internal/pii"
	"ormdash.org/internal/risk"
)

// Submission is a completed worksheet as sent by the mobile client. Answers
// reference hazard and option ids of the unit's current matrix; scores and
// severities are always taken from the matrix, never from the client.
type Submission struct {
	UnitID           string           `json:"unit_id"`
	FlightDate       time.Time        `json:"flight_date"`
	Commander        string           `json:"aircraft_commander"`
	Callsign         string           `json:"callsign"`
	TailNumber       string           `json:"tail_number"`
	AircraftType     string           `json:"aircraft_type"`
	MissionType      string           `json:"mission_type"`
	RequiredApproval string           `json:"required_approval,omitempty"`
	TemplateVersion  string           `json:"template_version,omitempty"`
	Hazards          []risk.Selection `json:"hazard_responses"`
	Crew             []CrewSubmission `json:"crew_members"`
}

// CrewSubmission is one crew member's individual worksheet.
type CrewSubmission struct {
	Name      string           `json:"name"`
	Position  string           `json:"position"`
	Responses []risk.Selection `json:"responses"`
}

func (sub Submission) validate() error {
	if strings.TrimSpace(sub.UnitID) == "" {
		return fmt.Errorf("%w: unit_id is required", errs.ErrValidation)
	}
	if sub.FlightDate.IsZero() {
		return fmt.Errorf("%w: flight_date is required", errs.ErrValidation)
	}
	if strings.TrimSpace(sub.Callsign) == "" {
		return fmt.Errorf("%w: callsign is required", errs.ErrValidation)
	}
	if strings.TrimSpace(sub.Commander) == "" {
		return fmt.Errorf("%w: aircraft_commander is required", errs.ErrValidation)
	}
	seen := make(map[string]struct{}, len(sub.Hazards))
	for _, h := range sub.Hazards {
		if _, dup := seen[h.HazardID]; dup {
			return fmt.Errorf("%w: hazard %q answered twice", errs.ErrValidation, h.HazardID)
		}
		seen[h.HazardID] = struct{}{}
	}
	for i, c := range sub.Crew {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: crew member %d has no name", errs.ErrValidation, i+1)
		}
	}
	return nil
}

// SubmitFlight scores a worksheet against the unit's matrix, freezes the
// matrix into the record and persists it with its hazards and crew.
func (s *Service) SubmitFlight(ctx context.Context, user auth.User, sub Submission) (pii.View, error) {
	if err := sub.validate(); err != nil {
		return pii.View{}, err
	}
	now := s.now().UTC()
	f := flight.Flight{
		ID:               ids.NewAt(now),
		UnitID:           strings.TrimSpace(sub.UnitID),
		FlightDate:       sub.FlightDate.UTC(),
		Commander:        strings.TrimSpace(sub.Commander),
		Callsign:         strings.TrimSpace(sub.Callsign),
		TailNumber:       strings.TrimSpace(sub.TailNumber),
		AircraftType:     strings.TrimSpace(sub.AircraftType),
		MissionType:      strings.TrimSpace(sub.MissionType),
		CrewCount:        len(sub.Crew),
		RequiredApproval: strings.TrimSpace(sub.RequiredApproval),
		SubmittedAt:      now,
		LastEdited:       now,
	}

	d := s.engine.DecideAt(now, user, auth.FlightResource(f), auth.ActionSubmit)
	if err := s.authorize(ctx, user, d); err != nil {
		return pii.View{}, err
	}

	unit, err := s.flights.GetUnit(ctx, f.UnitID)
	if err != nil {
		return pii.View{}, err
	}
	if sub.TemplateVersion != "" && sub.TemplateVersion != unit.Matrix.Version {
		return pii.View{}, fmt.Errorf("%w: worksheet version %s is stale, unit %s is on %s",
			errs.ErrConflict, sub.TemplateVersion, unit.ID, unit.Matrix.Version)
	}
	snapshot := unit.Matrix.Freeze(s.bands)
	if err := snapshot.Validate(); err != nil {
		return pii.View{}, err
	}
	bands, err := snapshot.EffectiveBands()
	if err != nil {
		return pii.View{}, err
	}

	responses, err := snapshot.ResolveAll(sub.Hazards)
	if err != nil {
		return pii.View{}, err
	}
	hazards := make([]risk.Contribution, len(responses))
	f.Hazards = make([]flight.Hazard, len(responses))
	for i, r := range responses {
		hazards[i] = r.Contribution()
		f.Hazards[i] = flight.Hazard{ID: ids.NewAt(now), FlightID: f.ID, Response: r}
	}

	crew := make([]risk.Contribution, len(sub.Crew))
	f.Crew = make([]flight.CrewMember, len(sub.Crew))
	for i, c := range sub.Crew {
		rs, err := snapshot.ResolveAll(c.Responses)
		if err != nil {
			return pii.View{}, fmt.Errorf("crew member %d: %w", i+1, err)
		}
		score, err := risk.ScoreResponses(rs)
		if err != nil {
			return pii.View{}, err
		}
		crew[i] = score
		f.Crew[i] = flight.CrewMember{
			ID:         ids.NewAt(now),
			FlightID:   f.ID,
			Name:       strings.TrimSpace(c.Name),
			Position:   strings.TrimSpace(c.Position),
			Responses:  rs,
			TotalScore: score.Score,
			RiskLevel:  score.Severity,
			CreatedAt:  now,
		}
	}

	result, err := risk.Aggregate(hazards, crew, bands)
	if err != nil {
		return pii.View{}, err
	}
	f.TotalRiskScore = result.Total
	f.RiskTier = result.Tier
	f.CrewRisk = result.WorstCrew
	f.TemplateVersion = snapshot.Version
	f.MatrixSnapshot = snapshot

	if err := s.flights.CreateFlight(ctx, f); err != nil {
		return pii.View{}, err
	}
	obs.FlightSubmitted(f.RiskTier.String())
	return s.policy.Project(f, d.RedactPII), nil
}

package pii

import (
	"time"

	"ormdash.org/internal/flight"
	"ormdash.org/internal/risk"
)

// View is the projection of a flight handed to callers.
type View struct {
	ID             string       `json:"id"`
	UnitID         string       `json:"unit_id"`
	FlightDate     time.Time    `json:"flight_date"`
	Callsign       string       `json:"callsign"`
	Commander      string       `json:"aircraft_commander"`
	TailNumber     string       `json:"tail_number"`
	AircraftType   string       `json:"aircraft_type"`
	MissionType    string       `json:"mission_type"`
	CrewCount      int          `json:"crew_count"`
	TotalRiskScore int          `json:"total_risk_score"`
	RiskTier       risk.Level   `json:"risk_tier"`
	CrewRisk       risk.Level   `json:"average_crew_risk"`
	IsBriefed      bool         `json:"is_briefed"`
	IsApproved     bool         `json:"is_approved"`
	ApprovalBy     string       `json:"approval_by,omitempty"`
	SubmittedAt    time.Time    `json:"submitted_at"`
	IsPIIScrubbed  bool         `json:"is_pii_scrubbed"`
	PIIRedacted    bool         `json:"pii_redacted"`
	Hazards        []HazardView `json:"hazard_responses"`
	Crew           []CrewView   `json:"crew_members"`
}

// HazardView is a hazard response without the frozen catalog payload.
type HazardView struct {
	HazardID    string     `json:"hazard_id"`
	HazardName  string     `json:"hazard_name"`
	OptionID    string     `json:"selected_option_id"`
	OptionLabel string     `json:"selected_option_label"`
	Severity    risk.Level `json:"selected_severity"`
	Score       int        `json:"score"`
}

// CrewView is a crew member as exposed to callers.
type CrewView struct {
	Name       string     `json:"name"`
	Position   string     `json:"position"`
	TotalScore int        `json:"total_score"`
	RiskLevel  risk.Level `json:"risk_level"`
}

// Project builds the caller-facing view. When redact is set, or the flight is
// already scrubbed, every identifying field carries the marker.
func (p Policy) Project(f flight.Flight, redact bool) View {
	v := View{
		ID:             f.ID,
		UnitID:         f.UnitID,
		FlightDate:     f.FlightDate.UTC(),
		Callsign:       f.Callsign,
		Commander:      f.Commander,
		TailNumber:     f.TailNumber,
		AircraftType:   f.AircraftType,
		MissionType:    f.MissionType,
		CrewCount:      f.CrewCount,
		TotalRiskScore: f.TotalRiskScore,
		RiskTier:       f.RiskTier,
		CrewRisk:       f.CrewRisk,
		IsBriefed:      f.IsBriefed,
		IsApproved:     f.IsApproved,
		ApprovalBy:     f.ApprovalBy,
		SubmittedAt:    f.SubmittedAt.UTC(),
		IsPIIScrubbed:  f.PIIScrubbed,
		Hazards:        make([]HazardView, len(f.Hazards)),
		Crew:           make([]CrewView, len(f.Crew)),
	}
	for i, h := range f.Hazards {
		v.Hazards[i] = HazardView{
			HazardID:    h.Response.Hazard.ID,
			HazardName:  h.Response.Hazard.Name,
			OptionID:    h.Response.OptionID,
			OptionLabel: h.Response.OptionLabel,
			Severity:    h.Response.Severity,
			Score:       h.Response.Score,
		}
	}
	for i, c := range f.Crew {
		v.Crew[i] = CrewView{Name: c.Name, Position: c.Position, TotalScore: c.TotalScore, RiskLevel: c.RiskLevel}
	}
	if redact || f.PIIScrubbed {
		v.Commander = p.Marker
		v.Callsign = p.Marker
		v.TailNumber = p.Marker
		v.ApprovalBy = p.approver(f)
		for i := range v.Crew {
			v.Crew[i].Name = p.Marker
		}
		v.PIIRedacted = true
	}
	return v
}

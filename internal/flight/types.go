// Package flight holds the ORM record model (units, flights and the hazard and
// crew responses a flight owns) together with the storage contract.
package flight

import (
	"bytes"
	"slices"
	"time"

	"ormdash.org/internal/risk"
)

// Unit is an organizational unit with its live risk matrix.
type Unit struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	PatchImageURL string      `json:"patch_image_url,omitempty"`
	ChecklistURL  string      `json:"checklist_url,omitempty"`
	Matrix        risk.Matrix `json:"orm_matrix"`
	LastUpdated   time.Time   `json:"last_updated"`
}

// Flight is one submitted risk assessment.
type Flight struct {
	ID           string    `json:"id"`
	UnitID       string    `json:"unit_id"`
	FlightDate   time.Time `json:"flight_date"`
	Commander    string    `json:"aircraft_commander"`
	Callsign     string    `json:"callsign"`
	TailNumber   string    `json:"tail_number"`
	AircraftType string    `json:"aircraft_type"`
	MissionType  string    `json:"mission_type"`
	CrewCount    int       `json:"crew_count"`

	TotalRiskScore int        `json:"total_risk_score"`
	RiskTier       risk.Level `json:"risk_tier"`
	CrewRisk       risk.Level `json:"average_crew_risk"`

	IsBriefed        bool   `json:"is_briefed"`
	IsApproved       bool   `json:"is_approved"`
	ApprovalBy       string `json:"approval_by,omitempty"`
	// ApprovalRole is the approver's role; it stands in for ApprovalBy once
	// the approver's name may no longer be shown.
	ApprovalRole     string `json:"approval_role,omitempty"`
	RequiredApproval string `json:"required_approval,omitempty"`

	SubmittedAt     time.Time   `json:"submitted_at"`
	LastEdited      time.Time   `json:"last_edited"`
	TemplateVersion string      `json:"template_version,omitempty"`
	MatrixSnapshot  risk.Matrix `json:"orm_matrix_snapshot"`
	PIIScrubbed     bool        `json:"is_pii_scrubbed"`

	Hazards []Hazard     `json:"hazard_responses"`
	Crew    []CrewMember `json:"crew_members"`
}

// Hazard is a flight's frozen answer to one worksheet hazard.
type Hazard struct {
	ID       string        `json:"id"`
	FlightID string        `json:"flight_id"`
	Response risk.Response `json:"response"`
}

// CrewMember is an individual crew assessment owned by a flight.
type CrewMember struct {
	ID         string          `json:"id"`
	FlightID   string          `json:"flight_id"`
	Name       string          `json:"name"`
	Position   string          `json:"position"`
	Responses  []risk.Response `json:"responses"`
	TotalScore int             `json:"total_score"`
	RiskLevel  risk.Level      `json:"risk_level"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Filter narrows a flight listing. UnitIDs is ignored when AllUnits is set;
// otherwise an empty UnitIDs matches nothing.
type Filter struct {
	UnitIDs  []string
	AllUnits bool
	From     time.Time
	To       time.Time
	Limit    int
}

// Matches reports whether f satisfies the filter, ignoring Limit.
func (flt Filter) Matches(f Flight) bool {
	if !flt.AllUnits && !slices.Contains(flt.UnitIDs, f.UnitID) {
		return false
	}
	if !flt.From.IsZero() && f.FlightDate.Before(flt.From) {
		return false
	}
	if !flt.To.IsZero() && f.FlightDate.After(flt.To) {
		return false
	}
	return true
}

// ReferenceTime is the instant retention windows are measured from.
func (f Flight) ReferenceTime() time.Time {
	if !f.FlightDate.IsZero() {
		return f.FlightDate
	}
	return f.SubmittedAt
}

// Clone returns a deep copy.
func (f Flight) Clone() Flight {
	out := f
	out.MatrixSnapshot = f.MatrixSnapshot.Clone()
	out.Hazards = make([]Hazard, len(f.Hazards))
	for i, h := range f.Hazards {
		out.Hazards[i] = h
		out.Hazards[i].Response.Hazard.Options = slices.Clone(h.Response.Hazard.Options)
	}
	out.Crew = make([]CrewMember, len(f.Crew))
	for i, c := range f.Crew {
		out.Crew[i] = c
		out.Crew[i].Responses = slices.Clone(c.Responses)
	}
	return out
}

// PIIFields is the identifying subset of a flight.
type PIIFields struct {
	Commander  string
	Callsign   string
	TailNumber string
	ApprovalBy string
	CrewNames  []string
}

// PII extracts the identifying fields.
func (f Flight) PII() PIIFields {
	names := make([]string, len(f.Crew))
	for i, c := range f.Crew {
		names[i] = c.Name
	}
	return PIIFields{Commander: f.Commander, Callsign: f.Callsign, TailNumber: f.TailNumber, ApprovalBy: f.ApprovalBy, CrewNames: names}
}

// Equal compares two PII sets.
func (p PIIFields) Equal(o PIIFields) bool {
	return p.Commander == o.Commander && p.Callsign == o.Callsign && p.TailNumber == o.TailNumber &&
		p.ApprovalBy == o.ApprovalBy && slices.Equal(p.CrewNames, o.CrewNames)
}

func (f Flight) assessmentEqual(o Flight) bool {
	if f.TotalRiskScore != o.TotalRiskScore || f.RiskTier != o.RiskTier || f.CrewRisk != o.CrewRisk {
		return false
	}
	a, errA := f.MatrixSnapshot.Encode()
	b, errB := o.MatrixSnapshot.Encode()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// responsesEqual compares the frozen hazard answers and crew assessments.
// Crew names are PII and are left to the scrub rules.
func (f Flight) responsesEqual(o Flight) bool {
	if len(f.Hazards) != len(o.Hazards) || len(f.Crew) != len(o.Crew) {
		return false
	}
	for i := range f.Hazards {
		a, b := f.Hazards[i], o.Hazards[i]
		if a.ID != b.ID || !responseEqual(a.Response, b.Response) {
			return false
		}
	}
	for i := range f.Crew {
		a, b := f.Crew[i], o.Crew[i]
		if a.ID != b.ID || a.TotalScore != b.TotalScore || a.RiskLevel != b.RiskLevel {
			return false
		}
		if !slices.EqualFunc(a.Responses, b.Responses, responseEqual) {
			return false
		}
	}
	return true
}

func responseEqual(a, b risk.Response) bool {
	return a.Hazard.ID == b.Hazard.ID && a.OptionID == b.OptionID && a.OptionLabel == b.OptionLabel &&
		a.Severity == b.Severity && a.Score == b.Score
}

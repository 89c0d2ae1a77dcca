// Package pii implements the redaction lifecycle of flight records: the
// durable, irreversible scrub once a record leaves its retention window, and
// the read-time masking applied for viewers without PII permission.
package pii

import (
	"fmt"
	"strings"
	"time"

	"ormdash.org/internal/errs"
	"ormdash.org/internal/flight"
)

// DefaultMarker replaces every redacted value.
const DefaultMarker = "[REDACTED]"

// Field names of the projected flight view.
const (
	FieldCommander  = "aircraft_commander"
	FieldCallsign   = "callsign"
	FieldTailNumber = "tail_number"
	FieldCrewNames  = "crew_members.name"
	FieldApprovalBy = "approval_by"
)

// Fields lists every field of a projected flight, PII included.
var Fields = []string{
	"id", "unit_id", "flight_date", FieldCallsign, FieldCommander, FieldTailNumber,
	"aircraft_type", "mission_type", "crew_count", "total_risk_score", "risk_tier",
	"average_crew_risk", "is_briefed", "is_approved", FieldApprovalBy, "submitted_at",
	"is_pii_scrubbed", "hazard_responses", FieldCrewNames, "crew_members.position",
	"crew_members.total_score", "crew_members.risk_level",
}

// Identifying lists the fields subject to redaction.
var Identifying = []string{FieldCommander, FieldCallsign, FieldTailNumber, FieldCrewNames, FieldApprovalBy}

// State is the lifecycle state of a flight's identifying data.
type State int

const (
	StateActive State = iota + 1
	StateScrubbed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateScrubbed:
		return "scrubbed"
	default:
		return "unknown"
	}
}

// StateOf reports the stored lifecycle state.
func StateOf(f flight.Flight) State {
	if f.PIIScrubbed {
		return StateScrubbed
	}
	return StateActive
}

// Policy holds the retention rules. It is built once from configuration.
type Policy struct {
	// Retention is how long identifying fields may stay readable.
	Retention time.Duration
	// HistoricalWindow separates current records from historical ones.
	HistoricalWindow time.Duration
	Marker           string
}

// Validate rejects incomplete policies; both windows must be explicit.
func (p Policy) Validate() error {
	if p.Retention <= 0 {
		return fmt.Errorf("%w: PII retention window must be positive", errs.ErrValidation)
	}
	if p.HistoricalWindow <= 0 {
		return fmt.Errorf("%w: historical window must be positive", errs.ErrValidation)
	}
	if strings.TrimSpace(p.Marker) == "" {
		return fmt.Errorf("%w: redaction marker is required", errs.ErrValidation)
	}
	return nil
}

// Age is how long ago the record's reference time was.
func Age(ref, now time.Time) time.Duration {
	return now.Sub(ref)
}

// Expired reports whether the flight has outlived the PII retention window.
func (p Policy) Expired(f flight.Flight, now time.Time) bool {
	return Age(f.ReferenceTime(), now) > p.Retention
}

// Historical reports whether a record at ref is past the historical window.
func (p Policy) Historical(ref, now time.Time) bool {
	return Age(ref, now) > p.HistoricalWindow
}

// Cutoff is the reference time before which flights are due for scrubbing.
func (p Policy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.Retention)
}

// Scrub irreversibly overwrites every identifying field of f and its crew and
// marks it scrubbed. The approver keeps only their role. Scoring fields are untouched. It reports false, changing
// nothing, when f is already scrubbed.
func (p Policy) Scrub(f *flight.Flight) bool {
	if f.PIIScrubbed {
		return false
	}
	f.Commander = p.Marker
	f.Callsign = p.Marker
	f.TailNumber = p.Marker
	f.ApprovalBy = p.approver(*f)
	for i := range f.Crew {
		f.Crew[i].Name = p.Marker
	}
	f.PIIScrubbed = true
	return true
}

// approver is what may be shown of the approver once names are redacted: the
// recorded role, or the marker when only a name was kept.
func (p Policy) approver(f flight.Flight) string {
	switch {
	case f.ApprovalBy == "":
		return ""
	case f.ApprovalRole != "":
		return f.ApprovalRole
	default:
		return p.Marker
	}
}

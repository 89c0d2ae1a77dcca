package pii

import (
	"errors"
	"testing"
	"time"

	"ormdash.org/internal/errs"
	"ormdash.org/internal/flight"
	"ormdash.org/internal/risk"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testPolicy() Policy {
	return Policy{Retention: 24 * time.Hour, HistoricalWindow: 24 * time.Hour, Marker: DefaultMarker}
}

func sample(age time.Duration) flight.Flight {
	bands := risk.Bands{Medium: 10, High: 20, Extreme: 30}
	return flight.Flight{
		ID:             "f1",
		UnitID:         "unit-a",
		FlightDate:     now.Add(-age),
		Commander:      "Maj Smith",
		Callsign:       "SHADOW01",
		TailNumber:     "87-0001",
		IsApproved:     true,
		ApprovalBy:     "Lt Col Ray",
		ApprovalRole:   "UNIT_LEAD",
		TotalRiskScore: 15,
		RiskTier:       risk.LevelMedium,
		MatrixSnapshot: risk.Matrix{SchemaVersion: risk.SchemaVersion, Version: "1.1", Bands: &bands},
		Crew: []flight.CrewMember{
			{Name: "Capt Jones", Position: "Pilot", TotalScore: 3, RiskLevel: risk.LevelLow},
			{Name: "Lt Brown", Position: "EWO", TotalScore: 4, RiskLevel: risk.LevelMedium},
		},
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := testPolicy().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := testPolicy()
	bad.Retention = 0
	if err := bad.Validate(); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExpired(t *testing.T) {
	p := testPolicy()
	if p.Expired(sample(2*time.Hour), now) {
		t.Fatal("2h old flight must not be expired")
	}
	if !p.Expired(sample(72*time.Hour), now) {
		t.Fatal("3 day old flight must be expired")
	}
	noDate := sample(0)
	noDate.FlightDate = time.Time{}
	noDate.SubmittedAt = now.Add(-48 * time.Hour)
	if !p.Expired(noDate, now) {
		t.Fatal("expected submission time fallback")
	}
}

func TestScrubRedactsIdentityNotAssessment(t *testing.T) {
	p := testPolicy()
	f := sample(72 * time.Hour)
	if StateOf(f) != StateActive {
		t.Fatalf("unexpected state %s", StateOf(f))
	}
	if !p.Scrub(&f) {
		t.Fatal("first scrub must report a change")
	}
	for _, v := range []string{f.Commander, f.Callsign, f.TailNumber, f.Crew[0].Name, f.Crew[1].Name} {
		if v != DefaultMarker {
			t.Fatalf("field not redacted: %q", v)
		}
	}
	if f.ApprovalBy != "UNIT_LEAD" || f.ApprovalRole != "UNIT_LEAD" {
		t.Fatalf("approver name survived scrub: %q", f.ApprovalBy)
	}
	if f.TotalRiskScore != 15 || f.RiskTier != risk.LevelMedium || f.Crew[1].Position != "EWO" {
		t.Fatalf("assessment changed by scrub: %+v", f)
	}
	if StateOf(f) != StateScrubbed {
		t.Fatalf("unexpected state %s", StateOf(f))
	}

	before := f.PII()
	if p.Scrub(&f) {
		t.Fatal("second scrub must be a no-op")
	}
	if !f.PII().Equal(before) {
		t.Fatal("second scrub altered fields")
	}
}

func TestScrubApproverWithoutRole(t *testing.T) {
	p := testPolicy()
	f := sample(72 * time.Hour)
	f.ApprovalRole = ""
	p.Scrub(&f)
	if f.ApprovalBy != DefaultMarker {
		t.Fatalf("expected marker for approver without role, got %q", f.ApprovalBy)
	}

	unapproved := sample(72 * time.Hour)
	unapproved.IsApproved, unapproved.ApprovalBy = false, ""
	p.Scrub(&unapproved)
	if unapproved.ApprovalBy != "" {
		t.Fatalf("empty approver must stay empty, got %q", unapproved.ApprovalBy)
	}
}

func TestProjectMasksOnRequestOrWhenScrubbed(t *testing.T) {
	p := testPolicy()
	f := sample(2 * time.Hour)

	open := p.Project(f, false)
	if open.Commander != "Maj Smith" || open.ApprovalBy != "Lt Col Ray" || open.PIIRedacted {
		t.Fatalf("unexpected open view %+v", open)
	}
	masked := p.Project(f, true)
	if masked.Commander != DefaultMarker || masked.Crew[0].Name != DefaultMarker || !masked.PIIRedacted {
		t.Fatalf("unexpected masked view %+v", masked)
	}
	if masked.ApprovalBy != "UNIT_LEAD" {
		t.Fatalf("masked view leaked approver: %q", masked.ApprovalBy)
	}
	noRole := sample(2 * time.Hour)
	noRole.ApprovalRole = ""
	if v := p.Project(noRole, true); v.ApprovalBy != DefaultMarker {
		t.Fatalf("expected marker for approver without role, got %q", v.ApprovalBy)
	}
	if f.Commander != "Maj Smith" {
		t.Fatal("projection must not mutate the record")
	}

	scrubbed := sample(72 * time.Hour)
	p.Scrub(&scrubbed)
	if v := p.Project(scrubbed, false); v.Commander != DefaultMarker || v.ApprovalBy != "UNIT_LEAD" || !v.IsPIIScrubbed {
		t.Fatalf("scrubbed flight leaked identity: %+v", v)
	}
}

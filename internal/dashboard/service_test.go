package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"ormdash.org/internal/audit"
	"ormdash.org/internal/auth"
	"ormdash.org/internal/errs"
	"ormdash.org/internal/flight"
	"ormdash.org/internal/pii"
	"ormdash.org/internal/risk"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var defaultBands = risk.Bands{Medium: 8, High: 16, Extreme: 24}

func worksheet(version string, bands *risk.Bands) risk.Matrix {
	return risk.Matrix{
		SchemaVersion: risk.SchemaVersion,
		Version:       version,
		Bands:         bands,
		Hazards: []risk.Hazard{
			{ID: "wx", Name: "Weather", Options: []risk.Option{
				{ID: "vmc", Label: "VMC", Severity: risk.LevelLow, Score: 0},
				{ID: "marginal", Label: "Marginal", Severity: risk.LevelMedium, Score: 5},
			}},
			{ID: "rest", Name: "Crew rest", Options: []risk.Option{
				{ID: "ok", Label: "> 12h", Severity: risk.LevelLow, Score: 0},
				{ID: "short", Label: "< 8h", Severity: risk.LevelHigh, Score: 10},
			}},
			{ID: "fatigue", Name: "Fatigue", Options: []risk.Option{
				{ID: "none", Label: "None", Severity: risk.LevelLow, Score: 0},
				{ID: "mild", Label: "Mild", Severity: risk.LevelMedium, Score: 7},
			}},
		},
	}
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, []audit.Event) error { return errors.New("audit db down") }

type fixture struct {
	svc     *Service
	flights *flight.InMemory
	events  *audit.InMemory
	admin   auth.User
	lead    auth.User
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithAudit(t, nil)
}

func newFixtureWithAudit(t *testing.T, store audit.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return now }

	flights := flight.NewInMemory()
	units := []flight.Unit{
		{ID: "unit-a", Name: "55th ECG", Matrix: worksheet("1.1", &risk.Bands{Medium: 10, High: 20, Extreme: 30})},
		{ID: "unit-b", Name: "41st ECS", Matrix: worksheet("2.0", &risk.Bands{Medium: 5, High: 8, Extreme: 12})},
		{ID: "unit-c", Name: "388th FW", Matrix: worksheet("1.3", nil)},
	}
	for _, u := range units {
		u.LastUpdated = now
		if err := flights.CreateUnit(ctx, u); err != nil {
			t.Fatalf("CreateUnit: %v", err)
		}
	}

	engine, err := auth.NewEngine(pii.Policy{Retention: 24 * time.Hour, HistoricalWindow: 24 * time.Hour, Marker: pii.DefaultMarker},
		auth.WithEngineClock(clock))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	events := audit.NewInMemory()
	if store == nil {
		store = events
	}
	rec, err := audit.NewRecorder(store, audit.WithClock(clock))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	svc, err := New(flights, engine, rec, defaultBands, WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{
		svc:     svc,
		flights: flights,
		events:  events,
		admin: auth.User{ID: "admin", Name: "Admin User", Role: auth.RoleAdmin, Active: true,
			UnitAccess: []string{"unit-a", "unit-b", "unit-c"}, CanExport: true, CanViewHistorical: true, CanViewPII: true},
		lead: auth.User{ID: "lead", Name: "Lt Col Ray", Role: auth.RoleUnitLead, Active: true, UnitAccess: []string{"unit-a"}},
	}
}

func submission(unit string, date time.Time, hazards ...risk.Selection) Submission {
	return Submission{
		UnitID:       unit,
		FlightDate:   date,
		Commander:    "Maj Smith",
		Callsign:     "SHADOW01",
		TailNumber:   "87-0001",
		AircraftType: "EA-37B",
		MissionType:  "Electronic Warfare",
		Hazards:      hazards,
		Crew: []CrewSubmission{{
			Name:      "Capt Jones",
			Position:  "Pilot",
			Responses: []risk.Selection{{HazardID: "wx", OptionID: "vmc"}},
		}},
	}
}

func sel(hazard, option string) risk.Selection {
	return risk.Selection{HazardID: hazard, OptionID: option}
}

func (fx *fixture) submit(t *testing.T, sub Submission) pii.View {
	t.Helper()
	v, err := fx.svc.SubmitFlight(context.Background(), fx.admin, sub)
	if err != nil {
		t.Fatalf("SubmitFlight: %v", err)
	}
	return v
}

func TestSubmitScoresAndProjectsPerViewer(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	v := fx.submit(t, submission("unit-a", now.Add(-time.Hour), sel("wx", "marginal"), sel("rest", "short")))
	if v.TotalRiskScore != 15 || v.RiskTier != risk.LevelMedium {
		t.Fatalf("score/tier = %d/%s, want 15/medium", v.TotalRiskScore, v.RiskTier)
	}
	if v.CrewRisk != risk.LevelLow || len(v.Crew) != 1 || v.Crew[0].TotalScore != 0 {
		t.Fatalf("unexpected crew assessment: %+v", v.Crew)
	}
	if v.Commander != "Maj Smith" {
		t.Fatalf("submitter with PII permission should see commander, got %q", v.Commander)
	}

	before := len(fx.events.Events())
	adminView, err := fx.svc.GetFlight(ctx, fx.admin, v.ID)
	if err != nil {
		t.Fatalf("GetFlight admin: %v", err)
	}
	if adminView.Commander != "Maj Smith" || adminView.PIIRedacted {
		t.Fatalf("admin view redacted: %+v", adminView)
	}
	leadView, err := fx.svc.GetFlight(ctx, fx.lead, v.ID)
	if err != nil {
		t.Fatalf("GetFlight lead: %v", err)
	}
	if leadView.Commander != pii.DefaultMarker || leadView.Crew[0].Name != pii.DefaultMarker {
		t.Fatalf("lead without PII permission saw identity: %+v", leadView)
	}
	if leadView.TotalRiskScore != 15 || leadView.RiskTier != risk.LevelMedium {
		t.Fatalf("redaction touched scoring: %+v", leadView)
	}

	events := fx.events.Events()[before:]
	if len(events) != 2 {
		t.Fatalf("expected one audit event per read, got %d", len(events))
	}
	if events[1].ActorID != "lead" || events[1].Outcome != audit.OutcomeAllow {
		t.Fatalf("unexpected audit event %+v", events[1])
	}
	if _, ok := events[1].Context["redacted_fields"]; !ok {
		t.Fatalf("audit event does not list redacted fields: %v", events[1].Context)
	}
}

func TestSameScoreBandsPerUnitMatrix(t *testing.T) {
	fx := newFixture(t)
	a := fx.submit(t, submission("unit-a", now, sel("wx", "marginal"), sel("fatigue", "mild")))
	b := fx.submit(t, submission("unit-b", now, sel("wx", "marginal"), sel("fatigue", "mild")))
	if a.TotalRiskScore != 12 || b.TotalRiskScore != 12 {
		t.Fatalf("scores = %d/%d, want 12/12", a.TotalRiskScore, b.TotalRiskScore)
	}
	if a.RiskTier != risk.LevelMedium || b.RiskTier != risk.LevelExtreme {
		t.Fatalf("tiers = %s/%s, want medium/extreme", a.RiskTier, b.RiskTier)
	}
}

func TestSubmitFreezesDefaultBands(t *testing.T) {
	fx := newFixture(t)
	v := fx.submit(t, submission("unit-c", now, sel("rest", "short")))
	if v.RiskTier != risk.LevelMedium {
		t.Fatalf("tier = %s, want medium under default bands", v.RiskTier)
	}
	stored, err := fx.flights.GetFlight(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("GetFlight: %v", err)
	}
	if stored.MatrixSnapshot.Bands == nil || *stored.MatrixSnapshot.Bands != defaultBands {
		t.Fatalf("default bands not frozen: %+v", stored.MatrixSnapshot.Bands)
	}
	if stored.TemplateVersion != "1.3" || len(stored.Hazards) != 1 {
		t.Fatalf("unexpected stored flight: %+v", stored)
	}
}

func TestSubmitRejections(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.SubmitFlight(ctx, fx.admin, submission("unit-a", now, sel("wx", "hail")))
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("unknown option: %v", err)
	}
	_, err = fx.svc.SubmitFlight(ctx, fx.admin, submission("unit-a", now, sel("wx", "vmc"), sel("wx", "marginal")))
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("duplicate hazard: %v", err)
	}
	stale := submission("unit-a", now)
	stale.TemplateVersion = "1.0"
	if _, err = fx.svc.SubmitFlight(ctx, fx.admin, stale); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("stale worksheet: %v", err)
	}
	if _, err = fx.svc.SubmitFlight(ctx, fx.lead, submission("unit-b", now)); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign unit: %v", err)
	}
	if _, err = fx.svc.SubmitFlight(ctx, fx.admin, submission("unit-z", now)); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown unit: %v", err)
	}
	all, _ := fx.flights.ListFlights(ctx, flight.Filter{AllUnits: true})
	if len(all) != 0 {
		t.Fatalf("rejected submissions were stored: %d", len(all))
	}
}

func TestUnitScopingIsAbsolute(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	foreign := fx.submit(t, submission("unit-b", now))
	fx.submit(t, submission("unit-a", now))

	lead := fx.lead
	lead.CanViewPII, lead.CanViewHistorical, lead.CanExport = true, true, true

	before := len(fx.events.Events())
	if _, err := fx.svc.GetFlight(ctx, lead, foreign.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := fx.svc.QueryFlights(ctx, lead, Query{UnitID: "unit-b"}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	events := fx.events.Events()[before:]
	if len(events) != 2 || events[0].Outcome != audit.OutcomeDeny || events[1].Outcome != audit.OutcomeDeny {
		t.Fatalf("denials not audited: %+v", events)
	}

	views, err := fx.svc.QueryFlights(ctx, lead, Query{})
	if err != nil {
		t.Fatalf("QueryFlights: %v", err)
	}
	if len(views) != 1 || views[0].UnitID != "unit-a" {
		t.Fatalf("query leaked other units: %+v", views)
	}
}

func TestUnknownFlightLooksForbidden(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	foreign := fx.submit(t, submission("unit-b", now))

	before := len(fx.events.Events())
	_, errForeign := fx.svc.GetFlight(ctx, fx.lead, foreign.ID)
	_, errMissing := fx.svc.GetFlight(ctx, fx.lead, "01NOPE")
	if !errors.Is(errForeign, errs.ErrForbidden) || !errors.Is(errMissing, errs.ErrForbidden) {
		t.Fatalf("errors differ: foreign=%v missing=%v", errForeign, errMissing)
	}
	if errForeign.Error() != errMissing.Error() || errors.Is(errMissing, errs.ErrNotFound) {
		t.Fatalf("missing flight distinguishable: %q vs %q", errForeign, errMissing)
	}
	if err := fx.svc.DeleteFlight(ctx, fx.lead, "01NOPE"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("delete missing: %v", err)
	}

	events := fx.events.Events()[before:]
	if len(events) != 3 {
		t.Fatalf("expected one audit event per request, got %d", len(events))
	}
	missing := events[1]
	if missing.Outcome != audit.OutcomeDeny || missing.TargetID != "01NOPE" ||
		missing.TargetType != auth.ResourceFlight || missing.Context["reason"] != string(auth.ReasonNotFound) {
		t.Fatalf("unexpected audit event %+v", missing)
	}

	if _, err := fx.svc.GetFlight(ctx, fx.admin, "01NOPE"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("admin lookup: %v", err)
	}
	if n := len(fx.events.Events()) - before; n != 4 {
		t.Fatalf("admin lookup not audited: %d events", n)
	}
}

func TestHistoricalRecordsNeedPermission(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	old := fx.submit(t, submission("unit-a", now.Add(-72*time.Hour)))
	fx.submit(t, submission("unit-a", now.Add(-2*time.Hour)))

	views, err := fx.svc.QueryFlights(ctx, fx.lead, Query{})
	if err != nil {
		t.Fatalf("QueryFlights: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("historical flight visible without permission: %d", len(views))
	}
	if _, err := fx.svc.GetFlight(ctx, fx.lead, old.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	lead := fx.lead
	lead.CanViewHistorical, lead.CanViewPII = true, true
	v, err := fx.svc.GetFlight(ctx, lead, old.ID)
	if err != nil {
		t.Fatalf("GetFlight: %v", err)
	}
	if v.Commander != pii.DefaultMarker {
		t.Fatalf("expired PII shown despite permission: %q", v.Commander)
	}
}

func TestScrubLifecycle(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	old := fx.submit(t, submission("unit-a", now.Add(-72*time.Hour), sel("wx", "marginal")))
	current := fx.submit(t, submission("unit-a", now.Add(-time.Hour)))

	res, err := fx.svc.SweepExpired(ctx, 0)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if len(res.Scrubbed) != 1 || res.Scrubbed[0] != old.ID {
		t.Fatalf("unexpected sweep result %+v", res)
	}

	v, err := fx.svc.GetFlight(ctx, fx.admin, old.ID)
	if err != nil {
		t.Fatalf("GetFlight: %v", err)
	}
	if !v.IsPIIScrubbed || v.Commander != pii.DefaultMarker || v.Callsign != pii.DefaultMarker ||
		v.TailNumber != pii.DefaultMarker || v.Crew[0].Name != pii.DefaultMarker {
		t.Fatalf("flight not fully scrubbed: %+v", v)
	}
	if v.TotalRiskScore != old.TotalRiskScore || v.RiskTier != old.RiskTier {
		t.Fatalf("scrub changed scoring: %+v", v)
	}
	stored, _ := fx.flights.GetFlight(ctx, old.ID)
	if stored.Commander != pii.DefaultMarker {
		t.Fatalf("scrub not persisted: %q", stored.Commander)
	}
	if cur, _ := fx.flights.GetFlight(ctx, current.ID); cur.PIIScrubbed {
		t.Fatal("current flight scrubbed")
	}

	again, err := fx.svc.SweepExpired(ctx, 0)
	if err != nil || again.Candidates != 0 {
		t.Fatalf("second sweep: %+v %v", again, err)
	}
	if _, err := fx.svc.ScrubFlight(ctx, fx.admin, old.ID); err != nil {
		t.Fatalf("re-scrub should be a no-op: %v", err)
	}
	if _, err := fx.svc.ScrubFlight(ctx, fx.lead, current.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("unit lead scrub: %v", err)
	}

	_, err = fx.flights.UpdateFlight(ctx, old.ID, func(f *flight.Flight) error {
		f.Callsign = "REVIVED"
		return nil
	})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("PII mutation after scrub: %v", err)
	}
}

func TestApproveAndBrief(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.submit(t, submission("unit-a", now.Add(-time.Hour)))

	v, err := fx.svc.ApproveFlight(ctx, fx.lead, f.ID)
	if err != nil {
		t.Fatalf("ApproveFlight: %v", err)
	}
	if !v.IsApproved || v.ApprovalBy != auth.RoleUnitLead.String() {
		t.Fatalf("approver name shown without PII permission: %+v", v)
	}
	stored, err := fx.flights.GetFlight(ctx, f.ID)
	if err != nil || stored.ApprovalBy != "Lt Col Ray" || stored.ApprovalRole != auth.RoleUnitLead.String() {
		t.Fatalf("unexpected stored approval: %q/%q %v", stored.ApprovalBy, stored.ApprovalRole, err)
	}
	if adminView, err := fx.svc.GetFlight(ctx, fx.admin, f.ID); err != nil || adminView.ApprovalBy != "Lt Col Ray" {
		t.Fatalf("admin approval view: %+v %v", adminView, err)
	}
	officer := auth.User{ID: "so", Role: auth.RoleSafetyOfficer, Active: true, UnitAccess: []string{"unit-a"}}
	if _, err := fx.svc.ApproveFlight(ctx, officer, f.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("safety officer approve: %v", err)
	}
	v, err = fx.svc.BriefFlight(ctx, officer, f.ID)
	if err != nil || !v.IsBriefed {
		t.Fatalf("BriefFlight: %+v %v", v, err)
	}
	if _, err := fx.svc.ApproveFlight(ctx, fx.admin, "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("missing flight: %v", err)
	}
}

func TestDeleteRequiresAdmin(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.submit(t, submission("unit-a", now))
	if err := fx.svc.DeleteFlight(ctx, fx.lead, f.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("lead delete: %v", err)
	}
	if err := fx.svc.DeleteFlight(ctx, fx.admin, f.ID); err != nil {
		t.Fatalf("DeleteFlight: %v", err)
	}
	if _, err := fx.flights.GetFlight(ctx, f.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("flight still present: %v", err)
	}
}

func TestExportNeedsCapability(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.submit(t, submission("unit-a", now))

	if _, err := fx.svc.ExportFlights(ctx, fx.lead, Query{}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("export without capability: %v", err)
	}
	lead := fx.lead
	lead.CanExport = true
	views, err := fx.svc.ExportFlights(ctx, lead, Query{UnitID: "unit-a"})
	if err != nil || len(views) != 1 {
		t.Fatalf("ExportFlights: %d %v", len(views), err)
	}
}

func TestQueryLimits(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		fx.submit(t, submission("unit-a", now.Add(-time.Duration(i)*time.Minute)))
	}
	views, err := fx.svc.QueryFlights(ctx, fx.admin, Query{Limit: 2})
	if err != nil {
		t.Fatalf("QueryFlights: %v", err)
	}
	if len(views) != 2 || views[0].FlightDate.Before(views[1].FlightDate) {
		t.Fatalf("expected newest two, got %+v", views)
	}
	if _, err := fx.svc.QueryFlights(ctx, fx.admin, Query{Limit: -1}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("negative limit: %v", err)
	}
	if _, err := fx.svc.QueryFlights(ctx, fx.admin, Query{From: now, To: now.Add(-time.Hour)}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("inverted window: %v", err)
	}
}

func TestSummary(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.submit(t, submission("unit-a", now.Add(-time.Hour), sel("wx", "marginal"), sel("rest", "short")))
	f := fx.submit(t, submission("unit-a", now.Add(-2*time.Hour)))
	fx.submit(t, submission("unit-b", now.Add(-time.Hour), sel("wx", "marginal")))
	if _, err := fx.svc.ApproveFlight(ctx, fx.admin, f.ID); err != nil {
		t.Fatalf("ApproveFlight: %v", err)
	}

	s, err := fx.svc.Summary(ctx, fx.lead, MetricsQuery{})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.TotalFlights != 2 || s.RiskDistribution["medium"] != 1 || s.RiskDistribution["low"] != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.AverageRiskScore != 7.5 || s.ApprovalRate != 50 {
		t.Fatalf("average/approval = %v/%v", s.AverageRiskScore, s.ApprovalRate)
	}

	if _, err := fx.svc.Summary(ctx, fx.lead, MetricsQuery{UnitID: "unit-b"}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign unit summary: %v", err)
	}
	if _, err := fx.svc.Summary(ctx, fx.lead, MetricsQuery{Days: -3}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("negative days: %v", err)
	}
	empty, err := fx.svc.Summary(ctx, auth.User{ID: "nobody", Role: auth.RoleUnitLead, Active: true}, MetricsQuery{})
	if err != nil || empty.TotalFlights != 0 || empty.AverageRiskScore != 0 {
		t.Fatalf("empty summary: %+v %v", empty, err)
	}
}

func TestListUnits(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	units, err := fx.svc.ListUnits(ctx, fx.lead)
	if err != nil || len(units) != 1 || units[0].ID != "unit-a" {
		t.Fatalf("lead units: %+v %v", units, err)
	}
	units, err = fx.svc.ListUnits(ctx, fx.admin)
	if err != nil || len(units) != 3 {
		t.Fatalf("admin units: %+v %v", units, err)
	}
}

func TestInactiveUserDenied(t *testing.T) {
	fx := newFixture(t)
	f := fx.submit(t, submission("unit-a", now))
	admin := fx.admin
	admin.Active = false
	if _, err := fx.svc.GetFlight(context.Background(), admin, f.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("inactive admin: %v", err)
	}
}

func TestAuditFailureFailsClosed(t *testing.T) {
	fx := newFixtureWithAudit(t, failingAudit{})
	ctx := context.Background()
	_, err := fx.svc.SubmitFlight(ctx, fx.admin, submission("unit-a", now))
	if !errors.Is(err, errs.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	all, _ := fx.flights.ListFlights(ctx, flight.Filter{AllUnits: true})
	if len(all) != 0 {
		t.Fatal("flight stored although audit failed")
	}
}

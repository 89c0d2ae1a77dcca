package httpapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ormdash.org/internal/obs"
	"ormdash.org/internal/pii"
)

var exportHeader = []string{
	"id", "unit_id", "flight_date", "callsign", "aircraft_commander", "tail_number",
	"aircraft_type", "mission_type", "crew_count", "crew", "total_risk_score", "risk_tier",
	"average_crew_risk", "is_briefed", "is_approved", "approval_by", "submitted_at",
	"is_pii_scrubbed", "pii_redacted",
}

func (a *API) exportFlights(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	q, err := parseFlightQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	views, err := a.svc.ExportFlights(r.Context(), user, q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	filename := fmt.Sprintf("orm_flights_%s.csv", a.now().UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)

	if err := writeFlightsCSV(w, views); err != nil {
		obs.Log("error", "export write failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err,
		})
	}
}

func writeFlightsCSV(w http.ResponseWriter, views []pii.View) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, v := range views {
		crew := make([]string, len(v.Crew))
		for i, c := range v.Crew {
			crew[i] = strings.TrimSpace(c.Name + " (" + c.Position + ")")
		}
		record := []string{
			v.ID,
			v.UnitID,
			v.FlightDate.UTC().Format(time.RFC3339),
			v.Callsign,
			v.Commander,
			v.TailNumber,
			v.AircraftType,
			v.MissionType,
			strconv.Itoa(v.CrewCount),
			strings.Join(crew, "; "),
			strconv.Itoa(v.TotalRiskScore),
			v.RiskTier.String(),
			v.CrewRisk.String(),
			strconv.FormatBool(v.IsBriefed),
			strconv.FormatBool(v.IsApproved),
			v.ApprovalBy,
			v.SubmittedAt.UTC().Format(time.RFC3339),
			strconv.FormatBool(v.IsPIIScrubbed),
			strconv.FormatBool(v.PIIRedacted),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

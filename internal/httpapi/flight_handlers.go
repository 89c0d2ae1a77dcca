package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ormdash.org/internal/auth"
	"ormdash.org/internal/dashboard"
	"ormdash.org/internal/errs"
	"ormdash.org/internal/obs"
	"ormdash.org/internal/pii"
)

type listFlightsResponse struct {
	Items []pii.View `json:"items"`
	Count int        `json:"count"`
	AsOf  time.Time  `json:"as_of"`
}

type listUnitsResponse struct {
	Items []dashboard.UnitInfo `json:"items"`
}

func (a *API) handleUnits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	units, err := a.svc.ListUnits(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listUnitsResponse{Items: units})
}

func (a *API) handleFlightsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listFlights(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleFlightResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/flights/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if path == "export" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.exportFlights(w, r)
		return
	}

	parts := strings.Split(path, "/")
	id := parts[0]
	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			a.getFlight(w, r, id)
		case http.MethodDelete:
			a.deleteFlight(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case 2:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		switch parts[1] {
		case "approve":
			a.flightTransition(w, r, id, a.svc.ApproveFlight)
		case "brief":
			a.flightTransition(w, r, id, a.svc.BriefFlight)
		case "scrub":
			a.flightTransition(w, r, id, a.svc.ScrubFlight)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listFlights(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	q, err := parseFlightQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	views, err := a.svc.QueryFlights(r.Context(), user, q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listFlightsResponse{
		Items: views,
		Count: len(views),
		AsOf:  a.now().UTC(),
	})
}

func (a *API) getFlight(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	view, err := a.svc.GetFlight(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) deleteFlight(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeleteFlight(r.Context(), user, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionFunc func(ctx context.Context, user auth.User, id string) (pii.View, error)

func (a *API) flightTransition(w http.ResponseWriter, r *http.Request, id string, fn transitionFunc) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	view, err := fn(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	days, err := parsePositiveInt(r.URL.Query().Get("days"), "days", dashboard.DefaultSummaryDays, 1, dashboard.MaxSummaryDays)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := a.svc.Summary(r.Context(), user, dashboard.MetricsQuery{
		UnitID: strings.TrimSpace(r.URL.Query().Get("unit_id")),
		Days:   days,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func parseFlightQuery(r *http.Request) (dashboard.Query, error) {
	values := r.URL.Query()
	limit, err := parsePositiveInt(values.Get("limit"), "limit", dashboard.DefaultLimit, 1, dashboard.MaxLimit)
	if err != nil {
		return dashboard.Query{}, err
	}
	from, err := parseTime(values.Get("from"), false)
	if err != nil {
		return dashboard.Query{}, fmt.Errorf("from: %w", err)
	}
	to, err := parseTime(values.Get("to"), true)
	if err != nil {
		return dashboard.Query{}, fmt.Errorf("to: %w", err)
	}
	return dashboard.Query{
		UnitID: strings.TrimSpace(values.Get("unit_id")),
		From:   from,
		To:     to,
		Limit:  limit,
	}, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates. A plain date used as
// an upper bound covers the whole day.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New("expected RFC 3339 timestamp or YYYY-MM-DD date")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parsePositiveInt(raw, name string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if val < min || val > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return val, nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// writeServiceError maps the error taxonomy onto HTTP. Denials carry no
// detail so callers cannot probe for records outside their scope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, r, http.StatusForbidden, errs.ErrForbidden.Error())
	case errors.Is(err, errs.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, errs.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrUnavailable):
		obs.Log("error", "storage unavailable", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err,
		})
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
	default:
		obs.Log("error", "unhandled error", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

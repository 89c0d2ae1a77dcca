package httpapi

import (
	"bytes"
	_ "embed"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"ormdash.org/internal/dashboard"
)

//go:embed schema/submission.schema.json
var submissionSchemaJSON []byte

var submissionSchema = mustSchema(submissionSchemaJSON)

func mustSchema(raw []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		panic("httpapi: invalid embedded schema: " + err.Error())
	}
	return s
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "could not read request body")
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, r, http.StatusBadRequest, "request body is required")
		return
	}
	if problems, err := validateSubmission(body); err != nil {
		writeError(w, r, http.StatusBadRequest, "request body is not valid JSON")
		return
	} else if len(problems) > 0 {
		payload := map[string]any{
			"error":   "submission failed validation",
			"details": problems,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusBadRequest, payload)
		return
	}

	var sub dashboard.Submission
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := decodeJSON(r, &sub); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, err := a.svc.SubmitFlight(r.Context(), user, sub)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/flights/"+view.ID)
	writeJSON(w, http.StatusCreated, view)
}

// validateSubmission checks the payload shape. It returns sorted field-level
// problems, or an error when the body is not JSON at all.
func validateSubmission(body []byte) ([]string, error) {
	result, err := submissionSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	sort.Strings(problems)
	return problems, nil
}

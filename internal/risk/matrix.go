package risk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"ormdash.org/internal/errs"
)

// SchemaVersion is the only matrix snapshot layout this build understands.
const SchemaVersion = 1

// ErrUnsupportedSchema marks snapshots written with an unknown layout.
var ErrUnsupportedSchema = fmt.Errorf("%w: unsupported matrix schema version", errs.ErrValidation)

// Matrix is a unit's risk worksheet: the hazard catalog and the score banding
// used to derive a tier. Flights freeze a copy at submission time.
type Matrix struct {
	SchemaVersion int      `json:"schema_version" yaml:"schema_version"`
	Version       string   `json:"version" yaml:"version"`
	Platform      string   `json:"platform,omitempty" yaml:"platform,omitempty"`
	Bands         *Bands   `json:"bands,omitempty" yaml:"bands,omitempty"`
	Hazards       []Hazard `json:"hazards" yaml:"hazards"`
}

// Hazard is a predefined risk factor with selectable options.
type Hazard struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Category string   `json:"category,omitempty" yaml:"category,omitempty"`
	Options  []Option `json:"options" yaml:"options"`
}

// Option is one selectable answer for a hazard.
type Option struct {
	ID       string `json:"id" yaml:"id"`
	Label    string `json:"label" yaml:"label"`
	Severity Level  `json:"severity" yaml:"severity"`
	Score    int    `json:"score" yaml:"score"`
}

// Selection is a raw worksheet answer as submitted by a client.
type Selection struct {
	HazardID string `json:"hazard_id"`
	OptionID string `json:"option_id"`
}

// Response is a selection resolved against a matrix, carrying a frozen copy of
// the hazard definition so later catalog edits cannot change history.
type Response struct {
	Hazard      Hazard `json:"hazard"`
	OptionID    string `json:"option_id"`
	OptionLabel string `json:"option_label"`
	Severity    Level  `json:"severity"`
	Score       int    `json:"score"`
}

// Contribution returns the scoring view of the response.
func (r Response) Contribution() Contribution {
	return Contribution{Score: r.Score, Severity: r.Severity}
}

// DecodeMatrix parses a stored snapshot. Unknown schema versions and unknown
// fields are rejected rather than guessed at.
func DecodeMatrix(raw []byte) (Matrix, error) {
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return Matrix{}, fmt.Errorf("%w: decode matrix: %v", errs.ErrValidation, err)
	}
	if header.SchemaVersion != SchemaVersion {
		return Matrix{}, fmt.Errorf("%w (got %d)", ErrUnsupportedSchema, header.SchemaVersion)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var m Matrix
	if err := dec.Decode(&m); err != nil {
		return Matrix{}, fmt.Errorf("%w: decode matrix: %v", errs.ErrValidation, err)
	}
	if err := m.Validate(); err != nil {
		return Matrix{}, err
	}
	return m, nil
}

// Encode serializes the matrix for storage.
func (m Matrix) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Validate checks structural consistency of the matrix.
func (m Matrix) Validate() error {
	if m.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w (got %d)", ErrUnsupportedSchema, m.SchemaVersion)
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("%w: matrix version is required", errs.ErrValidation)
	}
	if m.Bands != nil {
		if err := m.Bands.Validate(); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(m.Hazards))
	for _, h := range m.Hazards {
		if strings.TrimSpace(h.ID) == "" {
			return fmt.Errorf("%w: hazard id is required", errs.ErrValidation)
		}
		if _, dup := seen[h.ID]; dup {
			return fmt.Errorf("%w: duplicate hazard %q", errs.ErrValidation, h.ID)
		}
		seen[h.ID] = struct{}{}
		if len(h.Options) == 0 {
			return fmt.Errorf("%w: hazard %q has no options", errs.ErrValidation, h.ID)
		}
		opts := make(map[string]struct{}, len(h.Options))
		for _, o := range h.Options {
			if _, dup := opts[o.ID]; dup || strings.TrimSpace(o.ID) == "" {
				return fmt.Errorf("%w: hazard %q has a missing or duplicate option id", errs.ErrValidation, h.ID)
			}
			opts[o.ID] = struct{}{}
			if !o.Severity.Valid() {
				return fmt.Errorf("%w: hazard %q option %q has no severity", errs.ErrValidation, h.ID, o.ID)
			}
			if o.Score < 0 {
				return fmt.Errorf("%w: hazard %q option %q has a negative score", errs.ErrValidation, h.ID, o.ID)
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	out := m
	if m.Bands != nil {
		b := *m.Bands
		out.Bands = &b
	}
	if m.Hazards != nil {
		out.Hazards = make([]Hazard, len(m.Hazards))
		for i, h := range m.Hazards {
			out.Hazards[i] = h.clone()
		}
	}
	return out
}

// Freeze returns a copy suitable for embedding into a flight. When the matrix
// carries no bands the supplied defaults are frozen in, so the snapshot alone
// determines the tier from then on.
func (m Matrix) Freeze(defaults Bands) Matrix {
	out := m.Clone()
	if out.Bands == nil {
		b := defaults
		out.Bands = &b
	}
	return out
}

// EffectiveBands returns the banding stored in the snapshot.
func (m Matrix) EffectiveBands() (Bands, error) {
	if m.Bands == nil {
		return Bands{}, fmt.Errorf("%w: matrix %s carries no bands", errs.ErrValidation, m.Version)
	}
	return *m.Bands, nil
}

// Resolve maps a selection to a frozen response.
func (m Matrix) Resolve(sel Selection) (Response, error) {
	for _, h := range m.Hazards {
		if h.ID != sel.HazardID {
			continue
		}
		for _, o := range h.Options {
			if o.ID == sel.OptionID {
				return Response{
					Hazard:      h.clone(),
					OptionID:    o.ID,
					OptionLabel: o.Label,
					Severity:    o.Severity,
					Score:       o.Score,
				}, nil
			}
		}
		return Response{}, fmt.Errorf("%w: hazard %q has no option %q", errs.ErrValidation, sel.HazardID, sel.OptionID)
	}
	return Response{}, fmt.Errorf("%w: unknown hazard %q in matrix %s", errs.ErrValidation, sel.HazardID, m.Version)
}

// ResolveAll resolves every selection, failing on the first invalid one.
func (m Matrix) ResolveAll(sels []Selection) ([]Response, error) {
	out := make([]Response, 0, len(sels))
	for _, sel := range sels {
		r, err := m.Resolve(sel)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (h Hazard) clone() Hazard {
	out := h
	out.Options = append([]Option(nil), h.Options...)
	return out
}

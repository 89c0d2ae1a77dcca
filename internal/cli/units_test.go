package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	"ormdash.org/internal/errs"
	"ormdash.org/internal/flight"
)

var loadedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const unitsYAML = `
units:
  - id: ea37b_55ecg
    name: 55th Electronic Combat Group (EA-37B)
    patch_image_url: https://example.com/55ecg_patch.png
    orm_matrix:
      version: "1.1"
      platform: EA-37B
      bands: {medium: 10, high: 20, extreme: 30}
      hazards:
        - id: wx
          name: Weather
          options:
            - {id: vmc, label: VMC, severity: low, score: 0}
            - {id: imc, label: IMC, severity: high, score: 6}
  - id: f16_388fw
    name: 388th Fighter Wing (F-16C)
    orm_matrix:
      schema_version: 1
      version: "1.3"
      hazards:
        - id: rest
          name: Crew rest
          options:
            - {id: ok, label: 12h or more, severity: low, score: 0}
`

func TestParseUnits(t *testing.T) {
	units, err := parseUnits([]byte(unitsYAML), loadedAt)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	u := units[0]
	if u.ID != "ea37b_55ecg" || u.Matrix.Bands == nil || u.Matrix.Bands.High != 20 {
		t.Fatalf("unexpected unit %+v", u)
	}
	if u.Matrix.SchemaVersion != 1 || !u.LastUpdated.Equal(loadedAt) {
		t.Fatalf("expected defaults to be filled, got %+v", u)
	}
	if units[1].Matrix.Bands != nil {
		t.Fatal("units without bands must fall back to the defaults")
	}
}

func TestParseUnitsRejects(t *testing.T) {
	tests := map[string]string{
		"empty":         "units: []",
		"unknown field": "units:\n  - id: a\n    name: A\n    colour: red\n",
		"no name":       "units:\n  - id: a\n    orm_matrix: {version: '1', hazards: []}\n",
		"bad severity":  "units:\n  - id: a\n    name: A\n    orm_matrix:\n      version: '1'\n      hazards:\n        - id: wx\n          name: Weather\n          options: [{id: x, label: X, severity: catastrophic, score: 1}]\n",
		"duplicate": "units:\n  - id: a\n    name: A\n    orm_matrix: {version: '1', hazards: []}\n" +
			"  - id: a\n    name: A\n    orm_matrix: {version: '1', hazards: []}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parseUnits([]byte(doc), loadedAt); !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoadUnitsCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	store := flight.NewInMemory()
	units, err := parseUnits([]byte(unitsYAML), loadedAt)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	created, updated, err := loadUnits(ctx, store, units)
	if err != nil || created != 2 || updated != 0 {
		t.Fatalf("first load: created=%d updated=%d err=%v", created, updated, err)
	}

	units[0].Matrix.Version = "1.2"
	units[0].Matrix.Hazards[0].Options[1].Score = 8
	created, updated, err = loadUnits(ctx, store, units)
	if err != nil || created != 0 || updated != 2 {
		t.Fatalf("second load: created=%d updated=%d err=%v", created, updated, err)
	}
	got, err := store.GetUnit(ctx, "ea37b_55ecg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Matrix.Version != "1.2" {
		t.Fatalf("expected updated matrix, got %s", got.Matrix.Version)
	}
}

func TestSplitUnits(t *testing.T) {
	got := splitUnits(" a, b,,c ")
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("unexpected units %v", got)
	}
}

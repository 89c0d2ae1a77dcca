package config

import (
	"errors"
	"testing"
	"time"

	"ormdash.org/internal/errs"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	c, err := FromLookup(lookupFrom(nil))
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if c.DatabaseURL != "sqlite:///./orm_dashboard.db" {
		t.Fatalf("unexpected database url %q", c.DatabaseURL)
	}
	if c.Retention != 24*time.Hour || c.HistoricalWindow != 24*time.Hour {
		t.Fatalf("unexpected windows %s/%s", c.Retention, c.HistoricalWindow)
	}
	if c.RedactionMarker != "[REDACTED]" {
		t.Fatalf("unexpected marker %q", c.RedactionMarker)
	}
	if len(c.CORSOrigins) != 2 {
		t.Fatalf("unexpected origins %v", c.CORSOrigins)
	}
	if c.Production() {
		t.Fatal("defaults must not be production")
	}
}

func TestOverrides(t *testing.T) {
	c, err := FromLookup(lookupFrom(map[string]string{
		"ORM_DATABASE_URL":      "postgres://orm@db/orm",
		"ORM_PII_RETENTION":     "48h",
		"ORM_HISTORICAL_WINDOW": "72h",
		"ORM_CORS_ORIGINS":      "https://orm.example.mil, https://ops.example.mil,",
		"ORM_BANDS_MEDIUM":      "5",
		"ORM_BANDS_HIGH":        "9",
		"ORM_BANDS_EXTREME":     "14",
		"ORM_RATE_BURST":        " 10 ",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.DatabaseURL != "postgres://orm@db/orm" {
		t.Fatalf("unexpected database url %q", c.DatabaseURL)
	}
	if c.Retention != 48*time.Hour || c.HistoricalWindow != 72*time.Hour {
		t.Fatalf("unexpected windows %s/%s", c.Retention, c.HistoricalWindow)
	}
	if len(c.CORSOrigins) != 2 || c.CORSOrigins[1] != "https://ops.example.mil" {
		t.Fatalf("unexpected origins %v", c.CORSOrigins)
	}
	if c.DefaultBands.Medium != 5 || c.DefaultBands.Extreme != 14 {
		t.Fatalf("unexpected bands %+v", c.DefaultBands)
	}
	if c.RateBurst != 10 {
		t.Fatalf("unexpected burst %d", c.RateBurst)
	}
	p := c.PIIPolicy()
	if p.Retention != 48*time.Hour || p.Marker != "[REDACTED]" {
		t.Fatalf("unexpected policy %+v", p)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"ORM_PII_RETENTION": "a day"}},
		{"zero retention", map[string]string{"ORM_PII_RETENTION": "0s"}},
		{"bad int", map[string]string{"ORM_RATE_BURST": "many"}},
		{"zero rate", map[string]string{"ORM_RATE_PER_SEC": "0"}},
		{"unordered bands", map[string]string{"ORM_BANDS_MEDIUM": "20"}},
		{"production without secret", map[string]string{"ORM_ENV": "production"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromLookup(lookupFrom(tc.env)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBandErrorsAreValidation(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{"ORM_BANDS_HIGH": "8"}))
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAutoMigrateDefaults(t *testing.T) {
	c, err := FromLookup(lookupFrom(map[string]string{"ORM_ENV": "production", "ORM_AUTH_SECRET": "s"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.AutoMigrate {
		t.Fatal("production must not auto-migrate by default")
	}
	c, err = FromLookup(lookupFrom(map[string]string{"ORM_AUTO_MIGRATE": "false"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.AutoMigrate {
		t.Fatal("explicit false must win")
	}
}

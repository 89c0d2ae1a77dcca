// Package config loads the dashboard configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ormdash.org/internal/pii"
	"ormdash.org/internal/risk"
)

const envPrefix = "ORM_"

// Config is built once at startup and passed by value.
type Config struct {
	Env         string
	HTTPAddr    string
	GRPCAddr    string
	DatabaseURL string

	AuthSecret string
	AuthIssuer string

	CORSOrigins  []string
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64

	Retention        time.Duration
	HistoricalWindow time.Duration
	RedactionMarker  string
	DefaultBands     risk.Bands

	// SweepLimit caps how many flights one retention sweep scrubs.
	SweepLimit int

	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool
}

// Defaults returns the development configuration.
func Defaults() Config {
	return Config{
		Env:              "development",
		HTTPAddr:         ":8080",
		GRPCAddr:         ":9090",
		DatabaseURL:      "sqlite:///./orm_dashboard.db",
		CORSOrigins:      []string{"http://localhost:3000", "http://localhost:3001"},
		RateBurst:        50,
		RatePerSec:       20,
		MaxBodyBytes:     1 << 20,
		Retention:        24 * time.Hour,
		HistoricalWindow: 24 * time.Hour,
		RedactionMarker:  pii.DefaultMarker,
		DefaultBands:     risk.Bands{Medium: 8, High: 16, Extreme: 24},
		SweepLimit:       500,
		AutoMigrate:      true,
	}
}

// Load reads .env (outside Railway deployments) and then ORM_* variables over
// the defaults.
func Load() (Config, error) {
	if os.Getenv("RAILWAY_ENVIRONMENT") == "" {
		// godotenv never overrides variables that are already set
		_ = godotenv.Load(".env")
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an environment lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := Defaults()
	get := func(key string) (string, bool) {
		v, ok := lookup(envPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("ENV"); ok {
		c.Env = strings.ToLower(v)
	}
	if v, ok := get("HTTP_ADDR"); ok {
		c.HTTPAddr = v
	}
	if v, ok := get("GRPC_ADDR"); ok {
		c.GRPCAddr = v
	}
	if v, ok := get("DATABASE_URL"); ok {
		c.DatabaseURL = v
	}
	if v, ok := get("AUTH_SECRET"); ok {
		c.AuthSecret = v
	}
	if v, ok := get("AUTH_ISSUER"); ok {
		c.AuthIssuer = v
	}
	if v, ok := get("CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}
	if v, ok := get("REDACTION_MARKER"); ok {
		c.RedactionMarker = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"RATE_BURST", &c.RateBurst},
		{"RATE_PER_SEC", &c.RatePerSec},
		{"BANDS_MEDIUM", &c.DefaultBands.Medium},
		{"BANDS_HIGH", &c.DefaultBands.High},
		{"BANDS_EXTREME", &c.DefaultBands.Extreme},
		{"SWEEP_LIMIT", &c.SweepLimit},
	}
	for _, it := range ints {
		v, ok := get(it.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s%s: %w", envPrefix, it.key, err)
		}
		*it.dst = n
	}
	if c.Production() {
		c.AutoMigrate = false
	}
	if v, ok := get("AUTO_MIGRATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%sAUTO_MIGRATE: %w", envPrefix, err)
		}
		c.AutoMigrate = b
	}
	if v, ok := get("MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%sMAX_BODY_BYTES: %w", envPrefix, err)
		}
		c.MaxBodyBytes = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PII_RETENTION", &c.Retention},
		{"HISTORICAL_WINDOW", &c.HistoricalWindow},
	}
	for _, it := range durations {
		v, ok := get(it.key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s%s: %w", envPrefix, it.key, err)
		}
		*it.dst = d
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the values that have no safe fallback.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%sDATABASE_URL is required", envPrefix)
	}
	if c.RateBurst < 1 || c.RatePerSec < 1 {
		return fmt.Errorf("rate limit must be positive (burst %d, per second %d)", c.RateBurst, c.RatePerSec)
	}
	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("%sMAX_BODY_BYTES must be positive", envPrefix)
	}
	if c.SweepLimit < 0 {
		return fmt.Errorf("%sSWEEP_LIMIT must not be negative", envPrefix)
	}
	if err := c.DefaultBands.Validate(); err != nil {
		return fmt.Errorf("default bands: %w", err)
	}
	if err := c.PIIPolicy().Validate(); err != nil {
		return err
	}
	if c.Production() && c.AuthSecret == "" {
		return fmt.Errorf("%sAUTH_SECRET is required in production", envPrefix)
	}
	return nil
}

// Production reports whether the service runs in a production environment.
func (c Config) Production() bool {
	return c.Env == "production" || c.Env == "prod"
}

// PIIPolicy is the retention policy derived from the configuration.
func (c Config) PIIPolicy() pii.Policy {
	return pii.Policy{
		Retention:        c.Retention,
		HistoricalWindow: c.HistoricalWindow,
		Marker:           c.RedactionMarker,
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

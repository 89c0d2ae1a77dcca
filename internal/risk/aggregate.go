package risk

import (
	"fmt"
	"math"

	"ormdash.org/internal/errs"
)

// maxTotal bounds a flight score to what the storage column holds.
const maxTotal = math.MaxInt32

// Bands holds the minimum total score for each tier above LOW.
type Bands struct {
	Medium  int `json:"medium" yaml:"medium"`
	High    int `json:"high" yaml:"high"`
	Extreme int `json:"extreme" yaml:"extreme"`
}

// Validate requires strictly increasing thresholds with MEDIUM at 1 or above,
// which keeps a zero score LOW under every matrix.
func (b Bands) Validate() error {
	if b.Medium < 1 || b.High <= b.Medium || b.Extreme <= b.High {
		return fmt.Errorf("%w: bands must satisfy 1 <= medium < high < extreme (got %d/%d/%d)",
			errs.ErrValidation, b.Medium, b.High, b.Extreme)
	}
	return nil
}

// Tier bands a total score.
func (b Bands) Tier(score int) Level {
	switch {
	case score >= b.Extreme:
		return LevelExtreme
	case score >= b.High:
		return LevelHigh
	case score >= b.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Contribution is a single scored input to the aggregation.
type Contribution struct {
	Score    int
	Severity Level
}

// Result is the outcome of aggregating one flight.
type Result struct {
	Total     int
	Tier      Level
	WorstCrew Level
}

// Sum totals a set of contributions and reports the worst severity among them.
func Sum(parts []Contribution) (Contribution, error) {
	var (
		total int64
		worst = LevelLow
	)
	for _, p := range parts {
		if p.Score < 0 {
			return Contribution{}, fmt.Errorf("%w: negative score %d", errs.ErrValidation, p.Score)
		}
		if p.Severity != 0 && !p.Severity.Valid() {
			return Contribution{}, fmt.Errorf("%w: invalid severity %d", errs.ErrValidation, uint8(p.Severity))
		}
		total += int64(p.Score)
		if total > maxTotal {
			return Contribution{}, fmt.Errorf("%w: score total exceeds %d", errs.ErrValidation, maxTotal)
		}
		worst = Worst(worst, p.Severity)
	}
	return Contribution{Score: int(total), Severity: worst}, nil
}

// Aggregate computes a flight's total score and tier from its hazard responses
// and per-crew totals. Identical inputs always produce identical results.
func Aggregate(hazards, crew []Contribution, bands Bands) (Result, error) {
	if err := bands.Validate(); err != nil {
		return Result{}, err
	}
	h, err := Sum(hazards)
	if err != nil {
		return Result{}, err
	}
	c, err := Sum(crew)
	if err != nil {
		return Result{}, err
	}
	all, err := Sum([]Contribution{h, c})
	if err != nil {
		return Result{}, err
	}
	return Result{Total: all.Score, Tier: bands.Tier(all.Score), WorstCrew: c.Severity}, nil
}

// ScoreResponses totals one crew member's responses.
func ScoreResponses(responses []Response) (Contribution, error) {
	parts := make([]Contribution, len(responses))
	for i, r := range responses {
		parts[i] = r.Contribution()
	}
	return Sum(parts)
}

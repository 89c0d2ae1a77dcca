// Package summary computes dashboard risk metrics over a set of flights.
package summary

import (
	"math"
	"time"

	"ormdash.org/internal/flight"
	"ormdash.org/internal/risk"
)

// Window is the reporting period the flights were selected from.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days is the window length in whole days, rounded up.
func (w Window) Days() int {
	d := w.End.Sub(w.Start)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// InvalidTier is the distribution bucket for flights with an unknown tier.
const InvalidTier = "invalid"

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

// Summary is the aggregate over a flight set. RiskDistribution always has one
// entry per severity level, plus an InvalidTier entry when a flight carries an
// unknown tier, so its counts sum to TotalFlights.
type Summary struct {
	TotalFlights     int            `json:"total_flights"`
	RiskDistribution map[string]int `json:"risk_distribution"`
	AverageRiskScore float64        `json:"average_risk_score"`
	// ApprovalRate is a percentage.
	ApprovalRate float64   `json:"approval_rate"`
	DateRange    DateRange `json:"date_range"`
}

// Summarize aggregates flights. An empty set yields zeros.
func Summarize(flights []flight.Flight, window Window) Summary {
	out := Summary{
		TotalFlights:     len(flights),
		RiskDistribution: make(map[string]int, len(risk.Levels())),
		DateRange:        DateRange{Start: window.Start.UTC(), End: window.End.UTC(), Days: window.Days()},
	}
	for _, l := range risk.Levels() {
		out.RiskDistribution[l.String()] = 0
	}
	if len(flights) == 0 {
		return out
	}

	var total int64
	approved := 0
	for _, f := range flights {
		if f.RiskTier.Valid() {
			out.RiskDistribution[f.RiskTier.String()]++
		} else {
			out.RiskDistribution[InvalidTier]++
		}
		total += int64(f.TotalRiskScore)
		if f.IsApproved {
			approved++
		}
	}
	n := float64(len(flights))
	out.AverageRiskScore = round2(float64(total) / n)
	out.ApprovalRate = round2(float64(approved) / n * 100)
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package flight

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"ormdash.org/internal/errs"
)

// Store is the persistence contract for units and flights.
type Store interface {
	CreateUnit(ctx context.Context, u Unit) error
	GetUnit(ctx context.Context, id string) (Unit, error)
	ListUnits(ctx context.Context) ([]Unit, error)
	// UpdateUnit replaces a unit's descriptive fields and matrix.
	UpdateUnit(ctx context.Context, u Unit) error

	// CreateFlight persists a flight with its hazards and crew atomically.
	CreateFlight(ctx context.Context, f Flight) error
	GetFlight(ctx context.Context, id string) (Flight, error)
	// ListFlights returns matching flights, newest flight date first.
	ListFlights(ctx context.Context, filter Filter) ([]Flight, error)
	// UpdateFlight applies fn to the current state and persists the result in
	// one transaction. Mutations rejected by CheckMutation are not stored.
	UpdateFlight(ctx context.Context, id string, fn func(*Flight) error) (Flight, error)
	// DeleteFlight removes the flight and every hazard and crew row it owns.
	DeleteFlight(ctx context.Context, id string) error
	// ScrubCandidates returns ids of unscrubbed flights whose reference time is
	// before cutoff, oldest first.
	ScrubCandidates(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// CheckMutation enforces the update rules shared by every store: the
// assessment (score, tier, snapshot) never changes after submission, and a
// scrubbed flight keeps its redacted PII forever.
func CheckMutation(before, after Flight) error {
	if after.ID != before.ID || after.UnitID != before.UnitID {
		return fmt.Errorf("%w: flight identity cannot change", errs.ErrConflict)
	}
	if !after.assessmentEqual(before) {
		return fmt.Errorf("%w: flight %s assessment is immutable", errs.ErrConflict, before.ID)
	}
	if !after.responsesEqual(before) {
		return fmt.Errorf("%w: flight %s responses are immutable", errs.ErrConflict, before.ID)
	}
	if before.PIIScrubbed {
		if !after.PIIScrubbed {
			return fmt.Errorf("%w: flight %s cannot be un-scrubbed", errs.ErrConflict, before.ID)
		}
		got, want := after.PII(), before.PII()
		// a scrubbed flight may still be approved, recorded by role only
		if after.ApprovalRole != "" && after.ApprovalBy == after.ApprovalRole {
			got.ApprovalBy = want.ApprovalBy
		}
		if !got.Equal(want) {
			return fmt.Errorf("%w: flight %s PII is scrubbed", errs.ErrConflict, before.ID)
		}
	}
	return nil
}

// CheckUnitUpdate enforces unit immutability: once flights reference a unit
// only its matrix may change, and a changed matrix needs a new version.
func CheckUnitUpdate(before, after Unit, referenced bool) error {
	if referenced && (after.Name != before.Name || after.PatchImageURL != before.PatchImageURL || after.ChecklistURL != before.ChecklistURL) {
		return fmt.Errorf("%w: unit %s is referenced by flights", errs.ErrConflict, before.ID)
	}
	if err := after.Matrix.Validate(); err != nil {
		return err
	}
	a, err := before.Matrix.Encode()
	if err != nil {
		return err
	}
	b, err := after.Matrix.Encode()
	if err != nil {
		return err
	}
	if !bytes.Equal(a, b) && after.Matrix.Version == before.Matrix.Version {
		return fmt.Errorf("%w: matrix changes for unit %s require a new version", errs.ErrConflict, before.ID)
	}
	return nil
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ormdash.org/internal/errs"
	"ormdash.org/internal/ids"
	"ormdash.org/internal/obs"
)

// Recorder stamps events and appends them to a Store, mirroring each one to
// the structured log.
type Recorder struct {
	store Store
	now   func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewRecorder(store Store, opts ...Option) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record appends the events as one batch. Any failure is reported as
// errs.ErrUnavailable and the caller must not proceed.
func (r *Recorder) Record(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	origin := OriginFromContext(ctx)
	now := r.now().UTC()
	batch := make([]Event, len(events))
	for i, e := range events {
		if e.ActorID == "" || e.Action == "" {
			return fmt.Errorf("%w: audit event needs actor and action", errs.ErrValidation)
		}
		if e.ID == "" {
			e.ID = ids.NewAt(now)
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = now
		}
		if e.Origin == (Origin{}) {
			e.Origin = origin
		}
		batch[i] = e
	}
	if err := r.store.Append(ctx, batch); err != nil {
		obs.AuditAppendFailed()
		obs.Log("error", "audit append failed", map[string]any{"err": err, "events": len(batch), "request_id": origin.RequestID})
		// the store's own classification is dropped
		return fmt.Errorf("%w: audit append: %v", errs.ErrUnavailable, err)
	}
	for _, e := range batch {
		obs.AccessDecision(e.Action, e.Outcome == OutcomeAllow)
		logEvent(e)
	}
	return nil
}

func logEvent(e Event) {
	entry := map[string]any{
		"ts":          e.OccurredAt.Format(time.RFC3339Nano),
		"type":        "audit",
		"event":       e.Action,
		"id":          e.ID,
		"user_id":     e.ActorID,
		"target_type": e.TargetType,
		"target_id":   e.TargetID,
		"outcome":     e.Outcome,
	}
	if e.Origin.RequestID != "" {
		entry["request_id"] = e.Origin.RequestID
	}
	if len(e.Context) > 0 {
		entry["fields"] = e.Context
	} else {
		entry["fields"] = map[string]any{}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		obs.Log("error", "audit log marshal failed", map[string]any{"err": err})
		return
	}
	obs.Logger().Println(string(data))
}

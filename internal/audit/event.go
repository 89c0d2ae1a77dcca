// Package audit records every access decision as an immutable event. Appends
// happen before the action proceeds; a failed append blocks the action.
package audit

import (
	"context"
	"strings"
	"time"

	"ormdash.org/internal/auth"
)

// Outcome is the result of an audited decision.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
)

// SystemActor is the actor id of unattended jobs such as the retention sweep.
const SystemActor = "system"

// Origin describes where a request came from.
type Origin struct {
	RequestID string `json:"request_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Event is one audit record. Events are never updated or deleted.
type Event struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Outcome    Outcome        `json:"outcome"`
	OccurredAt time.Time      `json:"occurred_at"`
	Context    map[string]any `json:"context,omitempty"`
	Origin     Origin         `json:"origin"`
}

// FromDecision builds the event for an access decision. The field lists tell
// an auditor exactly what the actor was shown.
func FromDecision(actorID string, d auth.Decision) Event {
	outcome := OutcomeDeny
	if d.Allowed {
		outcome = OutcomeAllow
	}
	ctx := map[string]any{"reason": string(d.Reason)}
	if d.Resource.UnitID != "" {
		ctx["unit_id"] = d.Resource.UnitID
	}
	if d.Allowed {
		ctx["visible_fields"] = d.VisibleFields()
		if redacted := d.RedactedFields(); len(redacted) > 0 {
			ctx["redacted_fields"] = redacted
		}
	}
	return Event{
		ActorID:    actorID,
		Action:     string(d.Action),
		TargetType: d.Resource.Type,
		TargetID:   d.Resource.ID,
		Outcome:    outcome,
		Context:    ctx,
	}
}

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	originKey    ctxKey = "audit_origin"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithOrigin attaches the caller's network origin.
func WithOrigin(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, originKey, Origin{IP: ip, UserAgent: userAgent})
}

// OriginFromContext collects the request id and network origin, if present.
func OriginFromContext(ctx context.Context) Origin {
	if ctx == nil {
		return Origin{}
	}
	o, _ := ctx.Value(originKey).(Origin)
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		o.RequestID = v
	}
	return o
}

package auth

import (
	"errors"
	"slices"
	"time"

	"ormdash.org/internal/flight"
	"ormdash.org/internal/pii"
)

// Action is a verb the access engine can decide on.
type Action string

const (
	ActionView      Action = "flight.view"
	ActionExport    Action = "flight.export"
	ActionSubmit    Action = "flight.submit"
	ActionApprove   Action = "flight.approve"
	ActionBrief     Action = "flight.brief"
	ActionScrub     Action = "flight.scrub"
	ActionDelete    Action = "flight.delete"
	ActionMetrics   Action = "metrics.summary"
	ActionListUnits Action = "unit.list"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionExport, ActionSubmit, ActionApprove, ActionBrief,
		ActionScrub, ActionDelete, ActionMetrics, ActionListUnits:
		return true
	default:
		return false
	}
}

// Resource is what a decision is about. RecordedAt is zero for targets that
// have no record age, such as a unit.
type Resource struct {
	Type       string
	ID         string
	UnitID     string
	RecordedAt time.Time
	Scrubbed   bool
}

const (
	ResourceFlight = "flight"
	ResourceUnit   = "unit"
)

// FlightResource describes a stored flight.
func FlightResource(f flight.Flight) Resource {
	return Resource{
		Type:       ResourceFlight,
		ID:         f.ID,
		UnitID:     f.UnitID,
		RecordedAt: f.ReferenceTime(),
		Scrubbed:   f.PIIScrubbed,
	}
}

// UnitResource describes a whole unit.
func UnitResource(unitID string) Resource {
	return Resource{Type: ResourceUnit, ID: unitID, UnitID: unitID}
}

// Reason explains a decision. It is recorded in the audit trail and never
// returned to the caller.
type Reason string

const (
	ReasonAllowed       Reason = "allowed"
	ReasonUnknownAction Reason = "unknown_action"
	ReasonInactive      Reason = "user_inactive"
	ReasonUnitScope     Reason = "unit_not_accessible"
	ReasonHistorical    Reason = "historical_not_permitted"
	ReasonExport        Reason = "export_not_permitted"
	ReasonRole          Reason = "role_not_permitted"
	ReasonNotFound      Reason = "not_found"
)

// Decision is the outcome of one access check.
type Decision struct {
	Action    Action
	Resource  Resource
	Allowed   bool
	Reason    Reason
	RedactPII bool
}

// VisibleFields lists the fields the caller receives in clear text. A denied
// decision exposes nothing.
func (d Decision) VisibleFields() []string {
	if !d.Allowed {
		return nil
	}
	if !d.RedactPII {
		return slices.Clone(pii.Fields)
	}
	out := make([]string, 0, len(pii.Fields))
	for _, f := range pii.Fields {
		if !slices.Contains(pii.Identifying, f) {
			out = append(out, f)
		}
	}
	return out
}

// RedactedFields lists the fields replaced by the redaction marker.
func (d Decision) RedactedFields() []string {
	if !d.Allowed || !d.RedactPII {
		return nil
	}
	return slices.Clone(pii.Identifying)
}

// Missing is the decision for a target that does not exist. It is always a
// deny so that callers cannot tell an unknown record from a forbidden one.
func Missing(res Resource, action Action) Decision {
	return Decision{Action: action, Resource: res, Reason: ReasonNotFound, RedactPII: true}
}

// Engine evaluates access rules against the retention policy.
type Engine struct {
	policy pii.Policy
	now    func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the time source used to age records.
func WithEngineClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

func NewEngine(policy pii.Policy, opts ...EngineOption) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, errors.Join(errors.New("access engine"), err)
	}
	e := &Engine{policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Decide applies the access rules in order: account state, unit scoping,
// historical scoping, export capability and the role gate. The PII projection
// is computed independently of the outcome.
func (e *Engine) Decide(user User, res Resource, action Action) Decision {
	return e.DecideAt(e.now(), user, res, action)
}

// DecideAt is Decide with an explicit evaluation instant, so one request can
// age every record against the same clock reading.
func (e *Engine) DecideAt(now time.Time, user User, res Resource, action Action) Decision {
	d := Decision{Action: action, Resource: res, RedactPII: e.redact(user, res, now)}
	switch {
	case !action.Valid():
		d.Reason = ReasonUnknownAction
	case !user.Active:
		d.Reason = ReasonInactive
	case !user.IsAdmin() && !user.HasUnit(res.UnitID):
		d.Reason = ReasonUnitScope
	case !res.RecordedAt.IsZero() && e.policy.Historical(res.RecordedAt, now) && !user.CanViewHistorical:
		d.Reason = ReasonHistorical
	case action == ActionExport && !user.CanExport:
		d.Reason = ReasonExport
	case !user.Role.Permits(action):
		d.Reason = ReasonRole
	default:
		d.Allowed = true
		d.Reason = ReasonAllowed
	}
	return d
}

func (e *Engine) redact(user User, res Resource, now time.Time) bool {
	if !user.CanViewPII || res.Scrubbed {
		return true
	}
	return !res.RecordedAt.IsZero() && pii.Age(res.RecordedAt, now) > e.policy.Retention
}

// Policy returns the retention policy the engine was built with.
func (e *Engine) Policy() pii.Policy {
	return e.policy
}

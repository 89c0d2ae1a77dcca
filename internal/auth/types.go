package auth

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"ormdash.org/internal/errs"
)

// Role is the closed set of dashboard roles.
type Role uint8

const (
	RoleUnitLead Role = iota + 1
	RoleSafetyOfficer
	RoleGroupLead
	RoleWingLead
	RoleAdmin
)

// Roles lists every role.
func Roles() []Role {
	return []Role{RoleUnitLead, RoleSafetyOfficer, RoleGroupLead, RoleWingLead, RoleAdmin}
}

func (r Role) String() string {
	switch r {
	case RoleUnitLead:
		return "UNIT_LEAD"
	case RoleSafetyOfficer:
		return "SAFETY_OFFICER"
	case RoleGroupLead:
		return "GROUP_LEAD"
	case RoleWingLead:
		return "WING_LEAD"
	case RoleAdmin:
		return "ADMIN"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Valid reports whether r is a defined role.
func (r Role) Valid() bool {
	return r >= RoleUnitLead && r <= RoleAdmin
}

// ParseRole accepts the canonical upper-case names, case-insensitively.
func ParseRole(s string) (Role, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	for _, r := range Roles() {
		if r.String() == norm {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown role %q", errs.ErrValidation, s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: invalid role %d", errs.ErrValidation, uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Permits reports whether the role may perform the action at all. Capability
// flags and scoping are checked separately by the Engine.
func (r Role) Permits(a Action) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleUnitLead, RoleGroupLead, RoleWingLead:
		return a != ActionScrub && a != ActionDelete
	case RoleSafetyOfficer:
		return a != ActionApprove && a != ActionScrub && a != ActionDelete
	default:
		return false
	}
}

// User is a dashboard account. Identity comes from the external IdP; the id is
// the IdP subject.
type User struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Role              Role      `json:"role"`
	UnitAccess        []string  `json:"unit_access"`
	CanExport         bool      `json:"can_export"`
	CanViewHistorical bool      `json:"can_view_historical"`
	CanViewPII        bool      `json:"can_view_pii"`
	Active            bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	LastLogin         time.Time `json:"last_login,omitzero"`
}

// HasUnit reports whether the unit is in the user's access set.
func (u User) HasUnit(unitID string) bool {
	return slices.Contains(u.UnitAccess, unitID)
}

// IsAdmin reports whether the user bypasses unit scoping.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

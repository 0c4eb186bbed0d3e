package authz

import "time"

// Well-known role keys. Authority in this domain flows from appointments;
// these two are the only roles the engine itself treats specially.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleAdmin      = "ADMIN"
)

// ScopeGlobal marks an appointment that is not bound to a single unit.
const ScopeGlobal = "GLOBAL"

// TenantGlobal is the sentinel tenant id carried by global-scope principals,
// so they remain comparably tenant-scoped.
const TenantGlobal = "scope:GLOBAL"

// PrincipalType discriminates who is acting.
type PrincipalType string

const (
	PrincipalUser    PrincipalType = "user"
	PrincipalService PrincipalType = "service"
)

// Appointment is the seat of authority a user currently holds: a position
// within a scope (a platoon, a company, or the global scope).
type Appointment struct {
	AppointmentID string `json:"appointment_id"`
	PositionID    string `json:"position_id"`
	PositionKey   string `json:"position_key"`
	ScopeType     string `json:"scope_type"`
	ScopeID       string `json:"scope_id"`
}

// FieldRuleMode says what to do with a restricted output field.
type FieldRuleMode string

const (
	FieldRedact FieldRuleMode = "redact"
	FieldOmit   FieldRuleMode = "omit"
)

// FieldRule restricts one output field for an otherwise-allowed action.
type FieldRule struct {
	Field string        `json:"field"`
	Mode  FieldRuleMode `json:"mode"`
}

// PermissionBundle is the effective, cached permission state for a user in
// their current appointment context. A key present in both Permissions and
// Denied is denied: denial always overrides grant.
type PermissionBundle struct {
	UserID        string
	Roles         []string
	Appointment   *Appointment
	IsAdmin       bool
	IsSuperAdmin  bool
	Permissions   []string
	Denied        []string
	FieldRules    map[string][]FieldRule
	PolicyVersion int64
	ComputedAt    time.Time
}

// Attrs carries the auxiliary attributes policy rules consume.
type Attrs struct {
	UserID        string
	AppointmentID string
	ScopeType     string
	ScopeID       string
	Permissions   map[string]struct{}
	Denied        map[string]struct{}
	FieldRules    map[string][]FieldRule
}

// Principal is the authenticated actor for one request. Constructed fresh
// per request, never persisted, immutable once built.
type Principal struct {
	ID       string
	Type     PrincipalType
	Roles    map[string]struct{}
	TenantID string
	Attrs    Attrs
}

// HasRole reports whether the principal carries the (normalized) role key.
func (p Principal) HasRole(role string) bool {
	_, ok := p.Roles[NormalizeRoleKey(role)]
	return ok
}

// RoleList returns the principal's role keys. Order is unspecified.
func (p Principal) RoleList() []string {
	out := make([]string, 0, len(p.Roles))
	for r := range p.Roles {
		out = append(out, r)
	}
	return out
}

// hasPermission reports membership of the serialized action key in the
// granted set.
func (p Principal) hasPermission(key string) bool {
	_, ok := p.Attrs.Permissions[key]
	return ok
}

// isDenied reports membership in the explicitly revoked set.
func (p Principal) isDenied(key string) bool {
	_, ok := p.Attrs.Denied[key]
	return ok
}

// Resource describes the object being acted upon in one authorization check.
type Resource struct {
	ID   string
	Type string
	// AdminBaseline marks resource classes any admin may use without a
	// per-permission grant.
	AdminBaseline bool
	Attrs         map[string]string
}

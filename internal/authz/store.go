package authz

import (
	"context"
	"time"
)

// User is a registered operator of the system.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role is a named grant container. Key is normalized on write.
type Role struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Effect says whether a permission row grants or revokes its key.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// PermissionGrant is one permission key attached to a role, with its effect.
type PermissionGrant struct {
	Key    string `json:"key"`
	Effect Effect `json:"effect"`
}

// Position is a seat of authority users can be appointed to.
type Position struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	ScopeType string    `json:"scope_type"`
	CreatedAt time.Time `json:"created_at"`
}

// AppointmentRecord is a user's tenure in a position. At most one active
// appointment exists per position and scope.
type AppointmentRecord struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	PositionID  string     `json:"position_id"`
	PositionKey string     `json:"position_key"`
	ScopeType   string     `json:"scope_type"`
	ScopeID     string     `json:"scope_id"`
	StartsAt    time.Time  `json:"starts_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// PolicyStore is the durable policy and directory state backing the
// resolver, the bundle cache, and the policy management handlers.
type PolicyStore interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	GetRole(ctx context.Context, roleID string) (Role, error)
	RolePermissions(ctx context.Context, roleID string) ([]PermissionGrant, error)
	// SetRolePermissions replaces the role's grant set in one transaction
	// and bumps the policy version. Returns the prior grant set and the new
	// version.
	SetRolePermissions(ctx context.Context, roleID string, grants []PermissionGrant) (before []PermissionGrant, version int64, err error)

	ComputeBundle(ctx context.Context, userID, appointmentID string) (*PermissionBundle, error)
	PolicyVersion(ctx context.Context) (int64, error)

	// ActiveAppointment returns the user's current appointment, or
	// ErrNotFound when they hold none.
	ActiveAppointment(ctx context.Context, userID string) (AppointmentRecord, error)
	CreateAppointment(ctx context.Context, userID, positionID, scopeType, scopeID string) (AppointmentRecord, error)
	GetAppointment(ctx context.Context, id string) (AppointmentRecord, error)
	// TransferAppointment ends the current holder's tenure and opens one for
	// the new holder, atomically.
	TransferAppointment(ctx context.Context, appointmentID, toUserID string) (ended, created AppointmentRecord, err error)
}

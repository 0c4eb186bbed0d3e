package authz

import (
	"context"
	"fmt"
)

// BundleSource yields the effective permission bundle for a user in an
// appointment context. Implemented by the bundle cache.
type BundleSource interface {
	Get(ctx context.Context, userID, appointmentID string) (*PermissionBundle, error)
}

// BuildPrincipal turns verified token claims into a Principal: normalized
// role set, tenant id, and the attrs the engine consumes. Authentication has
// already happened upstream; a failed bundle lookup here is a policy-lookup
// failure, not an authentication one.
func BuildPrincipal(ctx context.Context, claims *Claims, bundles BundleSource) (Principal, error) {
	if claims == nil || claims.Subject == "" {
		return Principal{}, ErrUnauthorized
	}

	appointmentID := ""
	if claims.Appointment != nil {
		appointmentID = claims.Appointment.ID
	}

	b, err := bundles.Get(ctx, claims.Subject, appointmentID)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrPolicyLookup, err)
	}

	roles := make(map[string]struct{}, len(claims.Roles)+len(b.Roles)+2)
	for _, r := range NormalizeRoleKeys(claims.Roles) {
		roles[r] = struct{}{}
	}
	for _, r := range NormalizeRoleKeys(b.Roles) {
		roles[r] = struct{}{}
	}
	// Holding a position implicitly grants that position's role.
	if b.Appointment != nil && b.Appointment.PositionKey != "" {
		roles[NormalizeRoleKey(b.Appointment.PositionKey)] = struct{}{}
	}
	// Super admin is always also admin.
	if _, ok := roles[RoleSuperAdmin]; ok {
		roles[RoleAdmin] = struct{}{}
	}

	attrs := Attrs{
		UserID:      claims.Subject,
		Permissions: make(map[string]struct{}, len(b.Permissions)),
		Denied:      make(map[string]struct{}, len(b.Denied)),
		FieldRules:  b.FieldRules,
	}
	for _, p := range b.Permissions {
		attrs.Permissions[p] = struct{}{}
	}
	for _, d := range b.Denied {
		attrs.Denied[d] = struct{}{}
	}

	tenantID := TenantGlobal
	if b.Appointment != nil {
		attrs.AppointmentID = b.Appointment.AppointmentID
		attrs.ScopeType = b.Appointment.ScopeType
		attrs.ScopeID = b.Appointment.ScopeID
		if b.Appointment.ScopeType != "" && b.Appointment.ScopeType != ScopeGlobal {
			tenantID = b.Appointment.ScopeID
		}
	}

	return Principal{
		ID:       claims.Subject,
		Type:     PrincipalUser,
		Roles:    roles,
		TenantID: tenantID,
		Attrs:    attrs,
	}, nil
}

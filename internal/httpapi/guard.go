package httpapi

import (
	"context"
	"net/http"

	"garrison.org/internal/audit"
	"garrison.org/internal/authz"
	"garrison.org/internal/obs"
)

type decisionKey struct{}

// DecisionFromContext returns the guard's authorization decision, carrying
// any field restrictions the handler must apply to its response.
func DecisionFromContext(ctx context.Context) (authz.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(authz.Decision)
	return d, ok
}

// requireAction gates a route on one action. The decision is recorded in
// metrics, denials land in the audit trail best-effort, and the decision is
// passed down for field restriction handling.
func (a *API) requireAction(action authz.Action, resource authz.Resource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := authz.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "authentication required")
				return
			}

			d := authz.Authorize(authz.Input{Principal: principal, Resource: resource, Action: action})
			obs.ObserveAuthzDecision(d.Allow, d.Rule)

			if !d.Allow {
				_ = a.auditor.Log(r.Context(), &audit.Event{
					Type:          audit.EventAccessDenied,
					Outcome:       audit.OutcomeFailure,
					ActorID:       principal.ID,
					ActorRoles:    principal.RoleList(),
					AppointmentID: principal.Attrs.AppointmentID,
					EntityType:    resource.Type,
					EntityID:      resource.ID,
					Action:        action.String(),
					Metadata:      map[string]any{"reason": d.Reason},
				})
				writeError(w, r, http.StatusForbidden, codeForbidden, "permission denied")
				return
			}

			ctx := context.WithValue(r.Context(), decisionKey{}, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireAdmin gates a route on the admin baseline: admins pass without a
// per-permission grant, everyone else goes through policy for the action.
func (a *API) requireAdmin(action authz.Action) func(http.Handler) http.Handler {
	return a.requireAction(action, authz.Resource{Type: "admin_panel", AdminBaseline: true})
}

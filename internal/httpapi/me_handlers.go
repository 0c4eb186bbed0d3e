package httpapi

import (
	"net/http"
	"sort"
	"time"

	"garrison.org/internal/authz"
	"garrison.org/internal/nav"
)

// Me describes the caller: identity, roles, appointment, and effective
// permissions, so the client can render without probing every route.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := authz.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return
	}

	roles := principal.RoleList()
	sort.Strings(roles)
	perms := make([]string, 0, len(principal.Attrs.Permissions))
	for key := range principal.Attrs.Permissions {
		perms = append(perms, key)
	}
	sort.Strings(perms)

	payload := map[string]any{
		"id":          principal.ID,
		"roles":       roles,
		"tenant":      principal.TenantID,
		"permissions": perms,
	}
	if principal.Attrs.AppointmentID != "" {
		payload["appointment"] = map[string]any{
			"id":         principal.Attrs.AppointmentID,
			"scope_type": principal.Attrs.ScopeType,
			"scope_id":   principal.Attrs.ScopeID,
		}
	}
	writeOK(w, http.StatusOK, map[string]any{"user": payload})
}

// Navigation returns the sidebar tree filtered to what the caller may see.
func (a *API) Navigation(w http.ResponseWriter, r *http.Request) {
	principal, ok := authz.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return
	}

	sections := nav.Filter(principal, a.tree)
	if sections == nil {
		sections = []nav.Item{}
	}
	roles := principal.RoleList()
	sort.Strings(roles)
	writeOK(w, http.StatusOK, map[string]any{
		"sections":        sections,
		"generatedAt":     time.Now().UTC().Format(time.RFC3339),
		"userRoleSummary": roles,
	})
}

package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"garrison.org/internal/audit"
	"garrison.org/internal/authz"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates by email and password and issues a session token
// bound to the user's current appointment. Both outcomes land in the audit
// trail best-effort; a failed write never blocks a login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "email and password are required")
		return
	}

	user, err := a.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			a.auditLoginFailure(r, req.Email)
			writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, codeServerError, "login failed")
		return
	}

	if err := authz.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		a.auditLoginFailure(r, user.ID)
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid credentials")
		return
	}

	var apptClaim *authz.AppointmentClaim
	appt, err := a.store.ActiveAppointment(r.Context(), user.ID)
	switch {
	case err == nil:
		apptClaim = &authz.AppointmentClaim{
			ID:          appt.ID,
			PositionKey: appt.PositionKey,
			ScopeType:   appt.ScopeType,
			ScopeID:     appt.ScopeID,
		}
	case errors.Is(err, authz.ErrNotFound):
		// No appointment: role authority only.
	default:
		writeError(w, r, http.StatusInternalServerError, codeServerError, "login failed")
		return
	}

	token, expiresAt, err := a.tokens.Issue(user.ID, user.Roles, apptClaim, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, codeServerError, "token generation failed")
		return
	}

	_ = a.auditor.Log(r.Context(), &audit.Event{
		Type:       audit.EventUserLogin,
		ActorID:    user.ID,
		ActorRoles: authz.NormalizeRoleKeys(user.Roles),
		EntityType: "user",
		EntityID:   user.ID,
	})

	writeOK(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC(),
		"user": map[string]any{
			"id":        user.ID,
			"email":     user.Email,
			"full_name": user.FullName,
			"roles":     authz.NormalizeRoleKeys(user.Roles),
		},
	})
}

func (a *API) auditLoginFailure(r *http.Request, actor string) {
	_ = a.auditor.Log(r.Context(), &audit.Event{
		Type:       audit.EventUserLogin,
		Outcome:    audit.OutcomeFailure,
		ActorID:    actor,
		EntityType: "user",
	})
}

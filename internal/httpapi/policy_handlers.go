package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"garrison.org/internal/audit"
	"garrison.org/internal/authz"
)

type setRolePermissionsRequest struct {
	Grants []authz.PermissionGrant `json:"grants"`
}

// SetRolePermissions replaces a role's grant set. The change and its audit
// record stand or fall together: if the trail cannot record it, the caller
// gets an error even though the policy row is already committed, and the
// response names the affected role so the operator can reconcile.
func (a *API) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleID")
	principal, _ := authz.PrincipalFromContext(r.Context())

	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	before, version, err := a.store.SetRolePermissions(r.Context(), roleID, req.Grants)
	if err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, codeNotFound, "role not found")
			return
		}
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	diff := audit.ComputeDiff(grantSnapshot(before), grantSnapshot(req.Grants))
	if err := a.auditor.Log(r.Context(), &audit.Event{
		Type:          audit.EventRolePermissionsUpdated,
		ActorID:       principal.ID,
		ActorRoles:    principal.RoleList(),
		AppointmentID: principal.Attrs.AppointmentID,
		EntityType:    "role",
		EntityID:      roleID,
		Action:        authz.ActionPolicyManage.String(),
		Diff:          diff,
		Metadata:      map[string]any{"policy_version": version},
		Required:      true,
	}); err != nil {
		auditWriteFailed(w, r, "role", roleID)
		return
	}

	writeOK(w, http.StatusOK, map[string]any{
		"role_id":        roleID,
		"grants":         req.Grants,
		"policy_version": version,
	})
}

func grantSnapshot(grants []authz.PermissionGrant) map[string]any {
	out := make(map[string]any, len(grants))
	for _, g := range grants {
		out[g.Key] = string(g.Effect)
	}
	return out
}

type createAppointmentRequest struct {
	UserID     string `json:"user_id"`
	PositionID string `json:"position_id"`
	ScopeType  string `json:"scope_type"`
	ScopeID    string `json:"scope_id"`
}

// CreateAppointment seats a user in a position. One active holder per seat.
func (a *API) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	principal, _ := authz.PrincipalFromContext(r.Context())

	var req createAppointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.PositionID) == "" {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "user_id and position_id are required")
		return
	}
	if req.ScopeType == "" {
		req.ScopeType = authz.ScopeGlobal
	}

	rec, err := a.store.CreateAppointment(r.Context(), req.UserID, req.PositionID, req.ScopeType, req.ScopeID)
	if err != nil {
		switch {
		case errors.Is(err, authz.ErrConflict):
			writeError(w, r, http.StatusConflict, codeConflict, "position already has an active holder in this scope")
		case errors.Is(err, authz.ErrNotFound):
			writeError(w, r, http.StatusNotFound, codeNotFound, "user or position not found")
		default:
			writeError(w, r, http.StatusInternalServerError, codeServerError, "appointment creation failed")
		}
		return
	}

	if err := a.auditor.Log(r.Context(), &audit.Event{
		Type:          audit.EventAppointmentCreated,
		ActorID:       principal.ID,
		ActorRoles:    principal.RoleList(),
		AppointmentID: principal.Attrs.AppointmentID,
		EntityType:    "appointment",
		EntityID:      rec.ID,
		Action:        authz.ActionAppointmentsManage.String(),
		Diff: audit.ComputeDiff(nil, map[string]any{
			"holder":     rec.UserID,
			"position":   rec.PositionKey,
			"scope_type": rec.ScopeType,
			"scope_id":   rec.ScopeID,
		}),
		Required: true,
	}); err != nil {
		auditWriteFailed(w, r, "appointment", rec.ID)
		return
	}

	a.cache.Invalidate(rec.UserID)

	writeOK(w, http.StatusCreated, map[string]any{"appointment": rec})
}

type transferAppointmentRequest struct {
	ToUserID string `json:"to_user_id"`
}

// TransferAppointment moves a seat to a new holder. The handover is atomic
// in storage and both sides lose their cached bundles immediately; the
// previous holder's authority does not outlive the transfer by more than a
// token verification.
func (a *API) TransferAppointment(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "appointmentID")
	principal, _ := authz.PrincipalFromContext(r.Context())

	var req transferAppointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ToUserID) == "" {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "to_user_id is required")
		return
	}

	ended, created, err := a.store.TransferAppointment(r.Context(), appointmentID, req.ToUserID)
	if err != nil {
		switch {
		case errors.Is(err, authz.ErrNotFound):
			writeError(w, r, http.StatusNotFound, codeNotFound, "active appointment not found")
		case errors.Is(err, authz.ErrConflict):
			writeError(w, r, http.StatusConflict, codeConflict, "user already holds this appointment")
		default:
			writeError(w, r, http.StatusInternalServerError, codeServerError, "transfer failed")
		}
		return
	}

	if err := a.auditor.Log(r.Context(), &audit.Event{
		Type:          audit.EventAppointmentTransferred,
		ActorID:       principal.ID,
		ActorRoles:    principal.RoleList(),
		AppointmentID: principal.Attrs.AppointmentID,
		EntityType:    "appointment",
		EntityID:      ended.ID,
		Action:        authz.ActionAppointmentsManage.String(),
		Diff: audit.ComputeDiff(
			map[string]any{"holder": ended.UserID, "appointment_id": ended.ID},
			map[string]any{"holder": created.UserID, "appointment_id": created.ID},
		),
		Metadata: map[string]any{"position": ended.PositionKey},
		Required: true,
	}); err != nil {
		auditWriteFailed(w, r, "appointment", created.ID)
		return
	}

	a.cache.Invalidate(ended.UserID)
	a.cache.Invalidate(created.UserID)

	writeOK(w, http.StatusOK, map[string]any{
		"ended":   ended,
		"created": created,
	})
}

// GetAppointment returns one appointment. Field restrictions attached to
// the caller's grant are applied to the payload before it leaves the
// serializer, so a restricted reader never sees the hidden fields at all.
func (a *API) GetAppointment(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.GetAppointment(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, codeNotFound, "appointment not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, codeServerError, "lookup failed")
		return
	}

	payload := map[string]any{
		"id":         rec.ID,
		"user_id":    rec.UserID,
		"position":   rec.PositionKey,
		"scope_type": rec.ScopeType,
		"scope_id":   rec.ScopeID,
		"starts_at":  rec.StartsAt,
	}
	if rec.EndedAt != nil {
		payload["ended_at"] = rec.EndedAt
	}
	if d, ok := DecisionFromContext(r.Context()); ok {
		payload = audit.ApplyFieldRestrictions(payload, d.FieldRestrictions)
	}
	writeOK(w, http.StatusOK, map[string]any{"appointment": payload})
}

// auditWriteFailed reports a committed mutation whose required audit record
// could not be written. There is no compensating rollback; the response
// carries the entity id so the operator can reconcile the trail by hand.
func auditWriteFailed(w http.ResponseWriter, r *http.Request, entityType, entityID string) {
	payload := map[string]any{
		"status":      http.StatusInternalServerError,
		"ok":          false,
		"error":       codeServerError,
		"message":     "change applied but audit record failed; manual reconciliation required",
		"entity_type": entityType,
		"entity_id":   entityID,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusInternalServerError, payload)
}

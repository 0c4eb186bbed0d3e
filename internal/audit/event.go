// Package audit records who did what to which record, with structured
// before/after diffs, and serves the review queries over that trail.
package audit

import (
	"context"
	"time"
)

// EventType identifies the kind of action an event records.
type EventType string

const (
	EventUserLogin               EventType = "USER_LOGIN"
	EventRolePermissionsUpdated  EventType = "ROLE_PERMISSIONS_UPDATED"
	EventAppointmentCreated      EventType = "APPOINTMENT_CREATED"
	EventAppointmentTransferred  EventType = "APPOINTMENT_TRANSFERRED"
	EventRecordCreated           EventType = "RECORD_CREATED"
	EventRecordUpdated           EventType = "RECORD_UPDATED"
	EventRecordDeleted           EventType = "RECORD_DELETED"
	EventAccessDenied            EventType = "ACCESS_DENIED"
)

// Outcome reports whether the audited action itself succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// RequestContext is the request-scoped metadata stamped onto every event by
// the writer. It is derived from the incoming request, never supplied by the
// caller.
type RequestContext struct {
	RequestID string `json:"request_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
}

// Event is a single audit trail entry.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Outcome        Outcome        `json:"outcome"`
	ActorID        string         `json:"actor_id"`
	ActorRoles     []string       `json:"actor_roles,omitempty"`
	AppointmentID  string         `json:"appointment_id,omitempty"`
	EntityType     string         `json:"entity_type,omitempty"`
	EntityID       string         `json:"entity_id,omitempty"`
	Action         string         `json:"action,omitempty"`
	Diff           *Diff          `json:"diff,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	RequestContext RequestContext `json:"request_context"`
	OccurredAt     time.Time      `json:"occurred_at"`

	// Required marks the event as part of the operation's durability
	// contract: a failed write fails the operation. Not persisted.
	Required bool `json:"-"`
}

// QueryFilter narrows an audit trail query. Zero fields are ignored.
type QueryFilter struct {
	ActorID    string
	EntityType string
	EntityID   string
	RequestID  string
	Types      []EventType
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Store persists audit events. Events are append-only; there is no update or
// delete path.
type Store interface {
	AppendEvent(ctx context.Context, ev *Event) error
	QueryEvents(ctx context.Context, filter QueryFilter) ([]Event, error)
}

type requestContextKey struct{}

// ContextWithRequestContext stashes request metadata for the writer to stamp
// onto events logged during this request.
func ContextWithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFromContext returns the stashed request metadata, if any.
func RequestContextFromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok
}

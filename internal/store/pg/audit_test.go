package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"garrison.org/internal/audit"
)

func TestAppendEvent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into audit_events").
		WithArgs(
			"ev-1", "ROLE_PERMISSIONS_UPDATED", "SUCCESS", "u1", sqlmock.AnyArg(),
			nil, "role", "role-1", "admin:policy:manage",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ev := &audit.Event{
		ID:         "ev-1",
		Type:       audit.EventRolePermissionsUpdated,
		Outcome:    audit.OutcomeSuccess,
		ActorID:    "u1",
		ActorRoles: []string{"ADMIN"},
		EntityType: "role",
		EntityID:   "role-1",
		Action:     "admin:policy:manage",
		Diff: audit.ComputeDiff(
			map[string]any{"grants": []any{"oc:academics:read"}},
			map[string]any{"grants": []any{"oc:academics:read", "oc:pt:write"}},
		),
		OccurredAt: time.Now().UTC(),
	}
	if err := s.AppendEvent(context.Background(), ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestQueryEventsFilters(t *testing.T) {
	s, mock := newMockStore(t)
	occurred := time.Now().UTC()

	mock.ExpectQuery("from audit_events").
		WithArgs("u1", "APPOINTMENT_TRANSFERRED", "USER_LOGIN", 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "event_type", "outcome", "actor_id", "actor_roles",
			"appointment_id", "entity_type", "entity_id", "action",
			"diff", "metadata", "request_context", "occurred_at",
		}).AddRow(
			"ev-2", "APPOINTMENT_TRANSFERRED", "SUCCESS", "u1", []byte(`["ADMIN"]`),
			"appt-1", "appointment", "appt-1", "admin:appointments:manage",
			[]byte(`{"changed":{"holder":{"from":"u1","to":"u2"}},"changed_fields":["holder"]}`),
			nil, []byte(`{"request_id":"req-9"}`), occurred,
		))

	events, err := s.QueryEvents(context.Background(), audit.QueryFilter{
		ActorID: "u1",
		Types:   []audit.EventType{audit.EventAppointmentTransferred, audit.EventUserLogin},
		Limit:   50,
	})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != audit.EventAppointmentTransferred {
		t.Fatalf("unexpected type: %s", ev.Type)
	}
	if ev.Diff == nil || ev.Diff.Changed["holder"].To != "u2" {
		t.Fatalf("diff not decoded: %+v", ev.Diff)
	}
	if ev.RequestContext.RequestID != "req-9" {
		t.Fatalf("request context not decoded: %+v", ev.RequestContext)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestQueryEventsDefaultLimit(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("from audit_events").WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "event_type", "outcome", "actor_id", "actor_roles",
			"appointment_id", "entity_type", "entity_id", "action",
			"diff", "metadata", "request_context", "occurred_at",
		}))

	events, err := s.QueryEvents(context.Background(), audit.QueryFilter{})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"garrison.org/internal/audit"
)

// AppendEvent persists one audit event. The table is append-only; nothing in
// this package updates or deletes rows.
func (s *Store) AppendEvent(ctx context.Context, ev *audit.Event) error {
	rolesJSON, err := json.Marshal(ev.ActorRoles)
	if err != nil {
		return fmt.Errorf("marshal actor roles: %w", err)
	}
	var diffJSON []byte
	if ev.Diff != nil {
		diffJSON, err = json.Marshal(ev.Diff)
		if err != nil {
			return fmt.Errorf("marshal diff: %w", err)
		}
	}
	var metaJSON []byte
	if len(ev.Metadata) > 0 {
		metaJSON, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	rcJSON, err := json.Marshal(ev.RequestContext)
	if err != nil {
		return fmt.Errorf("marshal request context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		insert into audit_events (
			id, event_type, outcome, actor_id, actor_roles, appointment_id,
			entity_type, entity_id, action, diff, metadata, request_context, occurred_at
		)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		ev.ID, string(ev.Type), string(ev.Outcome), ev.ActorID, rolesJSON,
		nullable(ev.AppointmentID), nullable(ev.EntityType), nullable(ev.EntityID),
		nullable(ev.Action), diffJSON, metaJSON, rcJSON, ev.OccurredAt,
	)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// QueryEvents returns matching events, newest first.
func (s *Store) QueryEvents(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ActorID != "" {
		conds = append(conds, "actor_id = "+arg(filter.ActorID))
	}
	if filter.EntityType != "" {
		conds = append(conds, "entity_type = "+arg(filter.EntityType))
	}
	if filter.EntityID != "" {
		conds = append(conds, "entity_id = "+arg(filter.EntityID))
	}
	if filter.RequestID != "" {
		conds = append(conds, "request_context->>'request_id' = "+arg(filter.RequestID))
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			placeholders = append(placeholders, arg(string(t)))
		}
		conds = append(conds, "event_type in ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.From.IsZero() {
		conds = append(conds, "occurred_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "occurred_at <= "+arg(filter.To))
	}

	query := `
		select id, event_type, outcome, actor_id, actor_roles,
		       coalesce(appointment_id, ''), coalesce(entity_type, ''), coalesce(entity_id, ''),
		       coalesce(action, ''), diff, metadata, request_context, occurred_at
		from audit_events`
	if len(conds) > 0 {
		query += "\n\t\twhere " + strings.Join(conds, " and ")
	}
	query += "\n\t\torder by occurred_at desc, id desc"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += "\n\t\tlimit " + arg(limit)
	if filter.Offset > 0 {
		query += " offset " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			ev        audit.Event
			rolesJSON []byte
			diffJSON  []byte
			metaJSON  []byte
			rcJSON    []byte
		)
		if err := rows.Scan(
			&ev.ID, &ev.Type, &ev.Outcome, &ev.ActorID, &rolesJSON,
			&ev.AppointmentID, &ev.EntityType, &ev.EntityID,
			&ev.Action, &diffJSON, &metaJSON, &rcJSON, &ev.OccurredAt,
		); err != nil {
			return nil, err
		}
		if len(rolesJSON) > 0 {
			if err := json.Unmarshal(rolesJSON, &ev.ActorRoles); err != nil {
				return nil, fmt.Errorf("decode actor roles: %w", err)
			}
		}
		if len(diffJSON) > 0 {
			ev.Diff = &audit.Diff{}
			if err := json.Unmarshal(diffJSON, ev.Diff); err != nil {
				return nil, fmt.Errorf("decode diff: %w", err)
			}
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		if len(rcJSON) > 0 {
			if err := json.Unmarshal(rcJSON, &ev.RequestContext); err != nil {
				return nil, fmt.Errorf("decode request context: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

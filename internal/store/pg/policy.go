package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"garrison.org/internal/authz"
	"garrison.org/internal/ids"
)

func (s *Store) GetUser(ctx context.Context, id string) (authz.User, error) {
	var u authz.User
	err := s.db.QueryRowContext(ctx, `
		select id, email, full_name, password_hash, created_at, updated_at
		from users
		where id = $1
	`, id).Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.User{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.User{}, err
	}
	roles, err := s.userRoles(ctx, u.ID)
	if err != nil {
		return authz.User{}, err
	}
	u.Roles = roles
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (authz.User, error) {
	var u authz.User
	err := s.db.QueryRowContext(ctx, `
		select id, email, full_name, password_hash, created_at, updated_at
		from users
		where lower(email) = lower($1)
	`, email).Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.User{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.User{}, err
	}
	roles, err := s.userRoles(ctx, u.ID)
	if err != nil {
		return authz.User{}, err
	}
	u.Roles = roles
	return u, nil
}

func (s *Store) userRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.key
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.key
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		roles = append(roles, key)
	}
	return roles, rows.Err()
}

func (s *Store) GetRole(ctx context.Context, roleID string) (authz.Role, error) {
	var r authz.Role
	err := s.db.QueryRowContext(ctx, `
		select id, key, name, created_at, updated_at
		from roles
		where id = $1
	`, roleID).Scan(&r.ID, &r.Key, &r.Name, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Role{}, authz.ErrNotFound
	}
	return r, err
}

func (s *Store) RolePermissions(ctx context.Context, roleID string) ([]authz.PermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select permission_key, effect
		from role_permissions
		where role_id = $1
		order by permission_key
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []authz.PermissionGrant
	for rows.Next() {
		var g authz.PermissionGrant
		if err := rows.Scan(&g.Key, &g.Effect); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// SetRolePermissions replaces the role's grants and bumps the policy version
// in the same transaction, so readers either see the old policy at the old
// version or the new policy at the new one.
func (s *Store) SetRolePermissions(ctx context.Context, roleID string, grants []authz.PermissionGrant) ([]authz.PermissionGrant, int64, error) {
	for _, g := range grants {
		if _, err := authz.ParseAction(g.Key); err != nil {
			return nil, 0, fmt.Errorf("invalid permission key %q: %w", g.Key, err)
		}
		if g.Effect != authz.EffectAllow && g.Effect != authz.EffectDeny {
			return nil, 0, fmt.Errorf("invalid effect %q for %q", g.Effect, g.Key)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from roles where id = $1)`, roleID).Scan(&exists); err != nil {
		return nil, 0, err
	}
	if !exists {
		return nil, 0, authz.ErrNotFound
	}

	rows, err := tx.QueryContext(ctx, `
		select permission_key, effect
		from role_permissions
		where role_id = $1
		order by permission_key
	`, roleID)
	if err != nil {
		return nil, 0, err
	}
	var before []authz.PermissionGrant
	for rows.Next() {
		var g authz.PermissionGrant
		if err := rows.Scan(&g.Key, &g.Effect); err != nil {
			rows.Close()
			return nil, 0, err
		}
		before = append(before, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return nil, 0, err
	}
	for _, g := range grants {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_key, effect)
			values ($1, $2, $3)
		`, roleID, g.Key, g.Effect); err != nil {
			return nil, 0, err
		}
	}

	var version int64
	if err := tx.QueryRowContext(ctx, `
		update policy_version
		set version = version + 1, updated_at = now()
		where id = 1
		returning version
	`).Scan(&version); err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return before, version, nil
}

func (s *Store) PolicyVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `select version from policy_version where id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("policy_version row missing; run migrations")
	}
	return version, err
}

// ComputeBundle assembles the effective permission state for a user acting
// under the given appointment: role grants, position grants, the deny set,
// and any field rules attached to either.
func (s *Store) ComputeBundle(ctx context.Context, userID, appointmentID string) (*authz.PermissionBundle, error) {
	roles, err := s.userRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	bundle := &authz.PermissionBundle{
		UserID: userID,
		Roles:  authz.NormalizeRoleKeys(roles),
	}
	for _, role := range bundle.Roles {
		switch role {
		case authz.RoleSuperAdmin:
			bundle.IsSuperAdmin = true
			bundle.IsAdmin = true
		case authz.RoleAdmin:
			bundle.IsAdmin = true
		}
	}

	var positionID string
	if appointmentID != "" {
		appt := &authz.Appointment{AppointmentID: appointmentID}
		err := s.db.QueryRowContext(ctx, `
			select a.position_id, p.key, a.scope_type, a.scope_id
			from appointments a
			join positions p on p.id = a.position_id
			where a.id = $1 and a.user_id = $2 and a.ended_at is null
		`, appointmentID, userID).Scan(&appt.PositionID, &appt.PositionKey, &appt.ScopeType, &appt.ScopeID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Stale token appointment: the seat moved on. The bundle simply
			// carries no appointment authority.
		case err != nil:
			return nil, err
		default:
			bundle.Appointment = appt
			positionID = appt.PositionID
		}
	}

	granted := make(map[string]struct{})
	denied := make(map[string]struct{})

	collect := func(rows *sql.Rows) error {
		defer rows.Close()
		for rows.Next() {
			var key string
			var effect authz.Effect
			if err := rows.Scan(&key, &effect); err != nil {
				return err
			}
			if effect == authz.EffectDeny {
				denied[key] = struct{}{}
			} else {
				granted[key] = struct{}{}
			}
		}
		return rows.Err()
	}

	rows, err := s.db.QueryContext(ctx, `
		select rp.permission_key, rp.effect
		from role_permissions rp
		join user_roles ur on ur.role_id = rp.role_id
		where ur.user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	if err := collect(rows); err != nil {
		return nil, err
	}

	if positionID != "" {
		rows, err := s.db.QueryContext(ctx, `
			select permission_key, effect
			from position_permissions
			where position_id = $1
		`, positionID)
		if err != nil {
			return nil, err
		}
		if err := collect(rows); err != nil {
			return nil, err
		}
	}

	for key := range granted {
		bundle.Permissions = append(bundle.Permissions, key)
	}
	for key := range denied {
		bundle.Denied = append(bundle.Denied, key)
	}

	fieldRules, err := s.fieldRules(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	bundle.FieldRules = fieldRules

	return bundle, nil
}

func (s *Store) fieldRules(ctx context.Context, userID, positionID string) (map[string][]authz.FieldRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select fr.permission_key, fr.field, fr.mode
		from field_rules fr
		where fr.role_id in (select role_id from user_roles where user_id = $1)
		   or ($2 <> '' and fr.position_id = $2)
		order by fr.permission_key, fr.field
	`, userID, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out map[string][]authz.FieldRule
	for rows.Next() {
		var key string
		var rule authz.FieldRule
		if err := rows.Scan(&key, &rule.Field, &rule.Mode); err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[string][]authz.FieldRule)
		}
		out[key] = append(out[key], rule)
	}
	return out, rows.Err()
}

func (s *Store) ActiveAppointment(ctx context.Context, userID string) (authz.AppointmentRecord, error) {
	var rec authz.AppointmentRecord
	err := s.db.QueryRowContext(ctx, `
		select a.id, a.user_id, a.position_id, p.key, a.scope_type, a.scope_id, a.starts_at
		from appointments a
		join positions p on p.id = a.position_id
		where a.user_id = $1 and a.ended_at is null
		order by a.starts_at desc
		limit 1
	`, userID).Scan(&rec.ID, &rec.UserID, &rec.PositionID, &rec.PositionKey, &rec.ScopeType, &rec.ScopeID, &rec.StartsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.AppointmentRecord{}, authz.ErrNotFound
	}
	return rec, err
}

func (s *Store) CreateAppointment(ctx context.Context, userID, positionID, scopeType, scopeID string) (authz.AppointmentRecord, error) {
	id := ids.New()
	var rec authz.AppointmentRecord
	err := s.db.QueryRowContext(ctx, `
		insert into appointments (id, user_id, position_id, scope_type, scope_id, starts_at)
		values ($1, $2, $3, $4, $5, now())
		returning id, user_id, position_id, scope_type, scope_id, starts_at
	`, id, userID, positionID, scopeType, scopeID).Scan(
		&rec.ID, &rec.UserID, &rec.PositionID, &rec.ScopeType, &rec.ScopeID, &rec.StartsAt,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return authz.AppointmentRecord{}, authz.ErrConflict
			case pgErrForeignKeyViolation:
				return authz.AppointmentRecord{}, authz.ErrNotFound
			}
		}
		return authz.AppointmentRecord{}, err
	}
	if err := s.db.QueryRowContext(ctx,
		`select key from positions where id = $1`, rec.PositionID,
	).Scan(&rec.PositionKey); err != nil {
		return authz.AppointmentRecord{}, err
	}
	return rec, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (authz.AppointmentRecord, error) {
	var rec authz.AppointmentRecord
	err := s.db.QueryRowContext(ctx, `
		select a.id, a.user_id, a.position_id, p.key, a.scope_type, a.scope_id, a.starts_at, a.ended_at
		from appointments a
		join positions p on p.id = a.position_id
		where a.id = $1
	`, id).Scan(&rec.ID, &rec.UserID, &rec.PositionID, &rec.PositionKey, &rec.ScopeType, &rec.ScopeID, &rec.StartsAt, &rec.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.AppointmentRecord{}, authz.ErrNotFound
	}
	return rec, err
}

// TransferAppointment ends the current tenure and opens one for the new
// holder in a single transaction. The seat is never held by two users and
// never vacant in between.
func (s *Store) TransferAppointment(ctx context.Context, appointmentID, toUserID string) (authz.AppointmentRecord, authz.AppointmentRecord, error) {
	var ended, created authz.AppointmentRecord

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ended, created, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		select a.id, a.user_id, a.position_id, p.key, a.scope_type, a.scope_id, a.starts_at
		from appointments a
		join positions p on p.id = a.position_id
		where a.id = $1 and a.ended_at is null
		for update of a
	`, appointmentID).Scan(&ended.ID, &ended.UserID, &ended.PositionID, &ended.PositionKey, &ended.ScopeType, &ended.ScopeID, &ended.StartsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ended, created, authz.ErrNotFound
	}
	if err != nil {
		return ended, created, err
	}
	if ended.UserID == toUserID {
		return ended, created, authz.ErrConflict
	}

	var endedAt sql.NullTime
	if err := tx.QueryRowContext(ctx, `
		update appointments set ended_at = now()
		where id = $1
		returning ended_at
	`, appointmentID).Scan(&endedAt); err != nil {
		return ended, created, err
	}
	if endedAt.Valid {
		ended.EndedAt = &endedAt.Time
	}

	newID := ids.New()
	err = tx.QueryRowContext(ctx, `
		insert into appointments (id, user_id, position_id, scope_type, scope_id, starts_at)
		values ($1, $2, $3, $4, $5, now())
		returning id, user_id, position_id, scope_type, scope_id, starts_at
	`, newID, toUserID, ended.PositionID, ended.ScopeType, ended.ScopeID).Scan(
		&created.ID, &created.UserID, &created.PositionID, &created.ScopeType, &created.ScopeID, &created.StartsAt,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return ended, created, authz.ErrNotFound
		}
		return ended, created, err
	}
	created.PositionKey = ended.PositionKey

	if err := tx.Commit(); err != nil {
		return ended, created, err
	}
	return ended, created, nil
}

package httpapi

import (
	"context"
	"net/http"
	"testing"

	"garrison.org/internal/audit"
	"garrison.org/internal/authz"
)

type envelope struct {
	Status    int    `json:"status"`
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["service"] != "garrison-api" {
		t.Fatalf("unexpected service: %v", body["service"])
	}

	resp = api.get("/v1/info", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLoginSuccessIssuesAppointmentToken(t *testing.T) {
	hash, err := authz.HashPassword("valid-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store := &stubPolicyStore{
		getUserByEmailFn: func(_ context.Context, email string) (authz.User, error) {
			if email != "cdr@garrison.mil" {
				return authz.User{}, authz.ErrNotFound
			}
			return authz.User{ID: "u1", Email: email, FullName: "J. Doe", PasswordHash: hash, Roles: []string{"hoat"}}, nil
		},
		activeAppointmentFn: func(_ context.Context, userID string) (authz.AppointmentRecord, error) {
			return authz.AppointmentRecord{ID: "appt-1", UserID: userID, PositionKey: "PL_CDR", ScopeType: "PLATOON", ScopeID: "plt-3"}, nil
		},
	}
	api := newTestAPI(t, store)

	resp := api.post("/api/v1/auth/login", map[string]any{"email": "cdr@garrison.mil", "password": "valid-pass"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[struct {
		envelope
		Token string `json:"token"`
		User  struct {
			ID    string   `json:"id"`
			Roles []string `json:"roles"`
		} `json:"user"`
	}](t, resp)
	if !body.OK || body.Token == "" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.User.ID != "u1" || body.User.Roles[0] != "HOAT" {
		t.Fatalf("unexpected user: %+v", body.User)
	}

	claims, err := api.env.tokens.Verify(context.Background(), body.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Appointment == nil || claims.Appointment.ID != "appt-1" {
		t.Fatalf("appointment missing from token: %+v", claims.Appointment)
	}

	logins := api.env.auditLog.byType(audit.EventUserLogin)
	if len(logins) != 1 || logins[0].Outcome != audit.OutcomeSuccess {
		t.Fatalf("expected success login event, got %+v", logins)
	}
	if logins[0].RequestContext.RequestID == "" {
		t.Fatalf("login event missing request context: %+v", logins[0].RequestContext)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	hash, err := authz.HashPassword("valid-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store := &stubPolicyStore{
		getUserByEmailFn: func(_ context.Context, email string) (authz.User, error) {
			return authz.User{ID: "u1", Email: email, PasswordHash: hash}, nil
		},
	}
	api := newTestAPI(t, store)

	resp := api.post("/api/v1/auth/login", map[string]any{"email": "cdr@garrison.mil", "password": "wrong"}, nil)
	body := decode[envelope](t, resp)
	if resp.StatusCode != http.StatusUnauthorized || body.Error != codeUnauthorized {
		t.Fatalf("expected unauthorized envelope, got %d %+v", resp.StatusCode, body)
	}

	logins := api.env.auditLog.byType(audit.EventUserLogin)
	if len(logins) != 1 || logins[0].Outcome != audit.OutcomeFailure {
		t.Fatalf("expected failure login event, got %+v", logins)
	}
}

func TestLoginUnknownEmailSameAnswer(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.post("/api/v1/auth/login", map[string]any{"email": "ghost@garrison.mil", "password": "x"}, nil)
	body := decode[envelope](t, resp)
	if resp.StatusCode != http.StatusUnauthorized || body.Message != "invalid credentials" {
		t.Fatalf("unknown email must not be distinguishable: %d %+v", resp.StatusCode, body)
	}
}

func TestMeRequiresToken(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.get("/api/v1/me", nil, nil)
	body := decode[envelope](t, resp)
	if resp.StatusCode != http.StatusUnauthorized || body.Error != codeUnauthorized {
		t.Fatalf("expected 401 envelope, got %d %+v", resp.StatusCode, body)
	}
	if body.RequestID == "" {
		t.Fatalf("expected request_id in error envelope")
	}
}

func TestMeReflectsBundle(t *testing.T) {
	store := &stubPolicyStore{
		computeBundleFn: func(_ context.Context, userID, _ string) (*authz.PermissionBundle, error) {
			return &authz.PermissionBundle{
				UserID:      userID,
				Roles:       []string{"HOAT"},
				Permissions: []string{"oc:academics:read"},
				Appointment: &authz.Appointment{AppointmentID: "appt-1", PositionKey: "PL_CDR", ScopeType: "PLATOON", ScopeID: "plt-3"},
			}, nil
		},
	}
	api := newTestAPI(t, store)
	token := api.token("u1", nil, &authz.AppointmentClaim{ID: "appt-1"})

	resp := api.get("/api/v1/me", nil, authHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: %d", resp.StatusCode)
	}
	body := decode[struct {
		User struct {
			ID          string   `json:"id"`
			Roles       []string `json:"roles"`
			Tenant      string   `json:"tenant"`
			Permissions []string `json:"permissions"`
		} `json:"user"`
	}](t, resp)
	if body.User.ID != "u1" || body.User.Tenant != "plt-3" {
		t.Fatalf("unexpected me payload: %+v", body.User)
	}
	if len(body.User.Permissions) != 1 || body.User.Permissions[0] != "oc:academics:read" {
		t.Fatalf("unexpected permissions: %v", body.User.Permissions)
	}
}

func TestMePolicyLookupFailureRejects(t *testing.T) {
	store := &stubPolicyStore{
		policyVersionFn: func(context.Context) (int64, error) {
			return 0, context.DeadlineExceeded
		},
	}
	api := newTestAPI(t, store)
	token := api.token("u1", []string{"ADMIN"}, nil)

	resp := api.get("/api/v1/me", nil, authHeader(token))
	body := decode[envelope](t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected fail-closed 503, got %d %+v", resp.StatusCode, body)
	}
}

func TestNavigationFiltered(t *testing.T) {
	store := &stubPolicyStore{
		computeBundleFn: func(_ context.Context, userID, _ string) (*authz.PermissionBundle, error) {
			return &authz.PermissionBundle{
				UserID:      userID,
				Roles:       []string{"HOAT"},
				Permissions: []string{"oc:academics:read"},
			}, nil
		},
	}
	api := newTestAPI(t, store)
	token := api.token("u1", nil, nil)

	resp := api.get("/api/v1/me/navigation", nil, authHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("navigation: %d", resp.StatusCode)
	}
	body := decode[struct {
		Sections []struct {
			Key      string `json:"key"`
			Children []struct {
				Key string `json:"key"`
			} `json:"children"`
		} `json:"sections"`
		GeneratedAt     string   `json:"generatedAt"`
		UserRoleSummary []string `json:"userRoleSummary"`
	}](t, resp)

	var keys []string
	for _, item := range body.Sections {
		keys = append(keys, item.Key)
	}
	if len(keys) != 2 || keys[0] != "home" || keys[1] != "cadets" {
		t.Fatalf("unexpected sections: %v", keys)
	}
	if len(body.Sections[1].Children) != 1 || body.Sections[1].Children[0].Key != "academics" {
		t.Fatalf("unexpected children: %+v", body.Sections[1].Children)
	}
	if body.GeneratedAt == "" {
		t.Fatal("generatedAt missing")
	}
	if len(body.UserRoleSummary) == 0 || body.UserRoleSummary[0] != "HOAT" {
		t.Fatalf("unexpected role summary: %v", body.UserRoleSummary)
	}
}

func TestNavigationSuperAdminFullTree(t *testing.T) {
	api := newTestAPI(t, nil)
	token := api.token("root", []string{authz.RoleSuperAdmin}, nil)

	resp := api.get("/api/v1/me/navigation", nil, authHeader(token))
	body := decode[struct {
		Sections []struct {
			Key string `json:"key"`
		} `json:"sections"`
	}](t, resp)
	if len(body.Sections) != 3 {
		t.Fatalf("expected full tree for super admin, got %+v", body.Sections)
	}
}

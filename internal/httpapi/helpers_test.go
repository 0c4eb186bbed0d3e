package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"garrison.org/internal/audit"
	"garrison.org/internal/authz"
	"garrison.org/internal/bundle"
	"garrison.org/internal/stream"
)

type stubPolicyStore struct {
	getUserFn            func(context.Context, string) (authz.User, error)
	getUserByEmailFn     func(context.Context, string) (authz.User, error)
	getRoleFn            func(context.Context, string) (authz.Role, error)
	rolePermissionsFn    func(context.Context, string) ([]authz.PermissionGrant, error)
	setRolePermissionsFn func(context.Context, string, []authz.PermissionGrant) ([]authz.PermissionGrant, int64, error)
	computeBundleFn      func(context.Context, string, string) (*authz.PermissionBundle, error)
	policyVersionFn      func(context.Context) (int64, error)
	activeAppointmentFn  func(context.Context, string) (authz.AppointmentRecord, error)
	createAppointmentFn  func(context.Context, string, string, string, string) (authz.AppointmentRecord, error)
	getAppointmentFn     func(context.Context, string) (authz.AppointmentRecord, error)
	transferFn           func(context.Context, string, string) (authz.AppointmentRecord, authz.AppointmentRecord, error)
}

func (s *stubPolicyStore) GetUser(ctx context.Context, id string) (authz.User, error) {
	if s.getUserFn != nil {
		return s.getUserFn(ctx, id)
	}
	return authz.User{}, authz.ErrNotFound
}

func (s *stubPolicyStore) GetUserByEmail(ctx context.Context, email string) (authz.User, error) {
	if s.getUserByEmailFn != nil {
		return s.getUserByEmailFn(ctx, email)
	}
	return authz.User{}, authz.ErrNotFound
}

func (s *stubPolicyStore) GetRole(ctx context.Context, roleID string) (authz.Role, error) {
	if s.getRoleFn != nil {
		return s.getRoleFn(ctx, roleID)
	}
	return authz.Role{}, authz.ErrNotFound
}

func (s *stubPolicyStore) RolePermissions(ctx context.Context, roleID string) ([]authz.PermissionGrant, error) {
	if s.rolePermissionsFn != nil {
		return s.rolePermissionsFn(ctx, roleID)
	}
	return nil, nil
}

func (s *stubPolicyStore) SetRolePermissions(ctx context.Context, roleID string, grants []authz.PermissionGrant) ([]authz.PermissionGrant, int64, error) {
	if s.setRolePermissionsFn != nil {
		return s.setRolePermissionsFn(ctx, roleID, grants)
	}
	return nil, 1, nil
}

func (s *stubPolicyStore) ComputeBundle(ctx context.Context, userID, appointmentID string) (*authz.PermissionBundle, error) {
	if s.computeBundleFn != nil {
		return s.computeBundleFn(ctx, userID, appointmentID)
	}
	return &authz.PermissionBundle{UserID: userID}, nil
}

func (s *stubPolicyStore) PolicyVersion(ctx context.Context) (int64, error) {
	if s.policyVersionFn != nil {
		return s.policyVersionFn(ctx)
	}
	return 1, nil
}

func (s *stubPolicyStore) ActiveAppointment(ctx context.Context, userID string) (authz.AppointmentRecord, error) {
	if s.activeAppointmentFn != nil {
		return s.activeAppointmentFn(ctx, userID)
	}
	return authz.AppointmentRecord{}, authz.ErrNotFound
}

func (s *stubPolicyStore) CreateAppointment(ctx context.Context, userID, positionID, scopeType, scopeID string) (authz.AppointmentRecord, error) {
	if s.createAppointmentFn != nil {
		return s.createAppointmentFn(ctx, userID, positionID, scopeType, scopeID)
	}
	return authz.AppointmentRecord{}, authz.ErrNotFound
}

func (s *stubPolicyStore) GetAppointment(ctx context.Context, id string) (authz.AppointmentRecord, error) {
	if s.getAppointmentFn != nil {
		return s.getAppointmentFn(ctx, id)
	}
	return authz.AppointmentRecord{}, authz.ErrNotFound
}

func (s *stubPolicyStore) TransferAppointment(ctx context.Context, appointmentID, toUserID string) (authz.AppointmentRecord, authz.AppointmentRecord, error) {
	if s.transferFn != nil {
		return s.transferFn(ctx, appointmentID, toUserID)
	}
	return authz.AppointmentRecord{}, authz.AppointmentRecord{}, authz.ErrNotFound
}

type memAuditStore struct {
	mu        sync.Mutex
	events    []audit.Event
	appendErr error
}

func (s *memAuditStore) AppendEvent(_ context.Context, ev *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.events = append(s.events, *ev)
	return nil
}

func (s *memAuditStore) QueryEvents(_ context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, ev := range s.events {
		if filter.ActorID != "" && ev.ActorID != filter.ActorID {
			continue
		}
		if filter.EntityID != "" && ev.EntityID != filter.EntityID {
			continue
		}
		if len(filter.Types) > 0 {
			match := false
			for _, t := range filter.Types {
				if ev.Type == t {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *memAuditStore) byType(eventType audit.EventType) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, ev := range s.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	store    *stubPolicyStore
	auditLog *memAuditStore
	feed     *stream.Stream
	cache    *bundle.Cache
	tokens   *authz.Tokens
	api      *API
}

type apiClient struct {
	baseURL string
	client  *http.Client
	env     *testEnv
	t       *testing.T
}

func newTestAPI(t *testing.T, store *stubPolicyStore) *apiClient {
	t.Helper()
	if store == nil {
		store = &stubPolicyStore{}
	}

	tokens, err := authz.NewTokens("test-secret")
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	env := &testEnv{
		store:    store,
		auditLog: &memAuditStore{},
		feed:     stream.New(),
		tokens:   tokens,
	}
	env.cache = bundle.New(store)
	auditor := audit.NewWriter(env.auditLog, audit.WithSink(env.feed))

	env.api = New(Config{
		Tokens:   tokens,
		Store:    store,
		Bundles:  env.cache,
		Auditor:  auditor,
		Feed:     env.feed,
		Version:  "test",
		TokenTTL: time.Hour,
	})

	srv := httptest.NewServer(env.api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		env:     env,
		t:       t,
	}
}

func (c *apiClient) token(userID string, roles []string, appt *authz.AppointmentClaim) string {
	c.t.Helper()
	token, _, err := c.env.tokens.Issue(userID, roles, appt, time.Hour)
	if err != nil {
		c.t.Fatalf("issue token: %v", err)
	}
	return token
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) put(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPut, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

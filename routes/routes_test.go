package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authz-gateway/app"
	"github.com/upb/authz-gateway/config"
	"github.com/upb/authz-gateway/services/roles"
	"go.uber.org/zap"
)

type server struct {
	t       *testing.T
	handler http.Handler
	deps    *app.Dependencies
}

func newServer(t *testing.T) *server {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{RequestTimeout: 5 * time.Second, FaultGracePeriod: time.Second},
		Storage:     config.StorageConfig{Driver: config.StorageDriverMemory},
		JWT: config.JWTConfig{
			AccessSecret:  "access-secret",
			RefreshSecret: "refresh-secret",
			AccessTTL:     time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
			Issuer:        "authz-gateway-test",
		},
		Authz: config.AuthzConfig{
			PermissionCacheTTL:    time.Hour,
			DenylistSweepInterval: time.Hour,
			SuperAdminEmail:       "root@example.com",
			CacheMaxEntries:       1000,
			PasswordCost:          4,
		},
		RateLimit:     config.RateLimitConfig{AuthRequestsPerMinute: 1000},
		CORS:          config.CORSConfig{AllowedOrigins: []string{"http://localhost:*"}},
		Observability: config.ObservabilityConfig{MetricsEnabled: true},
	}

	deps, err := app.NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	handler, _, err := SetupRoutes(deps)
	require.NoError(t, err)

	return &server{t: t, handler: handler, deps: deps}
}

type reply struct {
	code int
	body map[string]interface{}
}

func (r reply) data() map[string]interface{} {
	d, _ := r.body["data"].(map[string]interface{})
	return d
}

func (r reply) errorCode() string {
	e, _ := r.body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

func (r reply) errorMessage() string {
	e, _ := r.body["error"].(map[string]interface{})
	msg, _ := e["message"].(string)
	return msg
}

func (s *server) do(method, path, token string, body interface{}) reply {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	out := reply{code: w.Code}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json" {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &out.body))
	}
	return out
}

// signup registers and logs in, returning the user id and the session tokens
func (s *server) signup(email string) (uuid.UUID, string, string) {
	s.t.Helper()
	creds := map[string]string{"email": email, "password": "correct horse"}

	res := s.do(http.MethodPost, "/auth/register", "", creds)
	require.Equal(s.t, http.StatusCreated, res.code)
	assert.Equal(s.t, "User registered", res.body["message"])
	id, err := uuid.Parse(res.data()["id"].(string))
	require.NoError(s.t, err)

	res = s.do(http.MethodPost, "/auth/login", "", creds)
	require.Equal(s.t, http.StatusOK, res.code)
	return id, res.data()["accessToken"].(string), res.data()["refreshToken"].(string)
}

func TestEndToEnd_GrantUnlocksRoute(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	userID, access, _ := s.signup("alice@example.com")

	res := s.do(http.MethodGet, "/roles", access, nil)
	assert.Equal(t, http.StatusForbidden, res.code)
	assert.Equal(t, "FORBIDDEN", res.errorCode())
	assert.Equal(t, "Missing required permission: role:read", res.errorMessage())

	role, err := s.deps.Roles.CreateRole(ctx, roles.CreateRoleInput{Name: "viewer"})
	require.NoError(t, err)
	perm, err := s.deps.Roles.CreatePermission(ctx, roles.CreatePermissionInput{Resource: "role", Action: "read"})
	require.NoError(t, err)
	require.NoError(t, s.deps.Roles.AssignRoles(ctx, userID, roles.AssignInput{RoleIDs: []uuid.UUID{role.ID}}))

	// assigned role without the grant is still denied
	res = s.do(http.MethodGet, "/roles", access, nil)
	assert.Equal(t, http.StatusForbidden, res.code)

	require.NoError(t, s.deps.Roles.GrantPermissions(ctx, role.ID, roles.GrantInput{PermissionIDs: []uuid.UUID{perm.ID}}))

	res = s.do(http.MethodGet, "/roles", access, nil)
	assert.Equal(t, http.StatusOK, res.code)
}

func TestEndToEnd_ManagementThroughHTTP(t *testing.T) {
	s := newServer(t)

	_, rootToken, _ := s.signup("root@example.com")
	userID, userToken, _ := s.signup("bob@example.com")

	res := s.do(http.MethodPost, "/roles", rootToken, map[string]string{"name": "editor"})
	require.Equal(t, http.StatusCreated, res.code)
	roleID := res.data()["id"].(string)

	res = s.do(http.MethodPost, "/permissions", rootToken, map[string]string{"resource": "permission", "action": "read"})
	require.Equal(t, http.StatusCreated, res.code)
	permID := res.data()["id"].(string)

	res = s.do(http.MethodPost, "/roles/"+roleID+"/permissions", rootToken, map[string][]string{"permissionIds": {permID}})
	require.Equal(t, http.StatusOK, res.code)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/permissions", userToken, nil).code)

	res = s.do(http.MethodPost, "/users/"+userID.String()+"/roles", rootToken, map[string][]string{"roleIds": {roleID}})
	require.Equal(t, http.StatusOK, res.code)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/permissions", userToken, nil).code)

	res = s.do(http.MethodDelete, "/roles/"+roleID+"/permissions/"+permID, rootToken, nil)
	require.Equal(t, http.StatusOK, res.code)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/permissions", userToken, nil).code)

	res = s.do(http.MethodDelete, "/users/"+userID.String()+"/roles/"+roleID, rootToken, nil)
	assert.Equal(t, http.StatusOK, res.code)

	res = s.do(http.MethodPost, "/users/not-a-uuid/roles", rootToken, map[string][]string{"roleIds": {roleID}})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "VALIDATION_ERROR", res.errorCode())
}

func TestEndToEnd_Profile(t *testing.T) {
	s := newServer(t)
	userID, access, _ := s.signup("carol@example.com")

	res := s.do(http.MethodGet, "/profile", access, nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, userID.String(), res.data()["id"])
	assert.Equal(t, false, res.data()["isSuperAdmin"])

	res = s.do(http.MethodGet, "/profile/permissions", access, nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Empty(t, res.data()["permissions"])

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/profile", "", nil).code)
}

func TestEndToEnd_RefreshAndLogout(t *testing.T) {
	s := newServer(t)
	_, access, refresh := s.signup("dave@example.com")

	res := s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, res.code)
	newAccess := res.data()["accessToken"].(string)
	newRefresh := res.data()["refreshToken"].(string)

	res = s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, res.code)

	// the old access token stays valid until it expires or is logged out
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/profile", access, nil).code)

	res = s.do(http.MethodPost, "/auth/logout", newAccess, nil)
	require.Equal(t, http.StatusOK, res.code)

	res = s.do(http.MethodGet, "/profile", newAccess, nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Equal(t, "Token has been revoked", res.errorMessage())

	res = s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": newRefresh})
	assert.Equal(t, http.StatusUnauthorized, res.code)
}

func TestEndToEnd_RequestErrors(t *testing.T) {
	s := newServer(t)

	res := s.do(http.MethodPost, "/auth/register", "", map[string]string{"email": "not-an-email", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "VALIDATION_ERROR", res.errorCode())

	res = s.do(http.MethodPost, "/auth/register", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "INVALID_JSON", res.errorCode())

	s.signup("erin@example.com")
	res = s.do(http.MethodPost, "/auth/register", "", map[string]string{"email": "erin@example.com", "password": "x"})
	assert.Equal(t, http.StatusConflict, res.code)

	res = s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "erin@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, res.code)

	res = s.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, res.code)
	assert.Equal(t, "NOT_FOUND", res.errorCode())
	assert.Equal(t, "Route GET /nowhere not found", res.errorMessage())

	res = s.do(http.MethodGet, "/roles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Equal(t, "No token provided", res.errorMessage())
}

func TestInfrastructureRoutes(t *testing.T) {
	s := newServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "", nil).code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/readyz", "", nil).code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSetupRoutes_RouteTable(t *testing.T) {
	s := newServer(t)
	_, rt, err := SetupRoutes(s.deps)
	require.NoError(t, err)

	anonymous := make(map[string]bool)
	for _, d := range rt.Routes() {
		anonymous[d.Method+" "+d.Path] = d.Anonymous
	}

	assert.True(t, anonymous["POST /auth/login"])
	assert.True(t, anonymous["POST /auth/register"])
	assert.True(t, anonymous["POST /auth/refresh"])
	assert.False(t, anonymous["POST /auth/logout"])
	assert.Contains(t, anonymous, "DELETE /users/{id}/roles/{roleId}")
}

package sso

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwellos/ssobridge/pkg/auth"
	"github.com/dwellos/ssobridge/pkg/middleware"
)

type handlersTestEnv struct {
	mock    sqlmock.Sqlmock
	issuer  *auth.SessionIssuer
	handler http.Handler
}

func newHandlersTestEnv(t *testing.T) (*handlersTestEnv, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	issuer, err := auth.NewSessionIssuer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	handlers := NewHandlers(db, issuer, HandlerOptions{
		EntityID:           "urn:test:sp",
		DefaultRedirectURL: "https://app.example.com/auth/callback",
	})

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	env := &handlersTestEnv{
		mock:    mock,
		issuer:  issuer,
		handler: middleware.NewAuthMiddleware(issuer).Handler(router),
	}
	return env, func() { db.Close() }
}

func (e *handlersTestEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := e.issuer.Issue(&auth.User{
		ID:    "admin-1",
		Email: "admin@example.com",
		Role:  auth.RoleAdmin,
	})
	require.NoError(t, err)
	return token
}

func (e *handlersTestEnv) userToken(t *testing.T) string {
	t.Helper()
	token, err := e.issuer.Issue(&auth.User{
		ID:    "user-1",
		Email: "user@example.com",
		Role:  auth.RoleUser,
	})
	require.NoError(t, err)
	return token
}

func (e *handlersTestEnv) do(t *testing.T, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestDispatch_UnknownAction(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	w := env.do(t, http.MethodGet, "/api/sso?action=reticulate", "", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "VALIDATION_ERROR", body["error"])
}

func TestDispatch_MethodMismatch(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	w := env.do(t, http.MethodGet, "/api/sso?action=login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = env.do(t, http.MethodPost, "/api/sso?action=check&domain=acme.com", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCheckDomain_NotConfigured(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	env.mock.ExpectQuery("FROM sso_providers\\s+WHERE domain =").
		WithArgs("nobody.example").
		WillReturnRows(sqlmock.NewRows(providerTestColumns))

	w := env.do(t, http.MethodGet, "/api/sso?action=check&domain=nobody.example", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["hasSso"])
	assert.NotContains(t, body, "provider")

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCheckDomain_Found(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	env.mock.ExpectQuery("FROM sso_providers\\s+WHERE domain =").
		WithArgs("acme.com").
		WillReturnRows(providerRow("prov-1", "Acme SSO", ProviderTypeSAML, "acme.com"))

	w := env.do(t, http.MethodGet, "/api/sso?action=check&domain=acme.com", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["hasSso"])

	provider, ok := body["provider"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "prov-1", provider["id"])
	assert.Equal(t, "SAML", provider["type"])
	// Only the public subset is exposed to anonymous callers.
	assert.NotContains(t, provider, "clientId")
	assert.NotContains(t, provider, "clientSecret")
	assert.NotContains(t, provider, "certificate")

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCheckDomain_MissingDomain(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	w := env.do(t, http.MethodGet, "/api/sso?action=check", "", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, w)["error"])
}

func TestInitiateLogin_OAuth2AuthorizationURL(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	now := time.Now()
	rows := sqlmock.NewRows(providerTestColumns).AddRow(
		"prov-1", "Acme OAuth", "OAUTH2", "acme.com", "https://idp.acme.com/authorize",
		"abc123", "secret", "", "", "", "", true, now, now,
	)
	env.mock.ExpectQuery("FROM sso_providers\\s+WHERE domain =").
		WithArgs("acme.com").
		WillReturnRows(rows)

	w := env.do(t, http.MethodPost, "/api/sso?action=login", "", map[string]string{
		"domain": "acme.com",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "prov-1", body["providerId"])
	assert.Equal(t, "OAUTH2", body["type"])

	authURL, _ := body["authorizationUrl"].(string)
	pattern := regexp.MustCompile(
		`^https://idp\.acme\.com/authorize\?client_id=abc123&redirect_uri=https%3A%2F%2Fapp\.example\.com%2Fauth%2Fcallback&response_type=code&state=[0-9a-f]{64}$`)
	assert.Regexp(t, pattern, authURL)

	state, _ := body["state"].(string)
	assert.Len(t, state, 64)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestInitiateLogin_NotConfigured(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	env.mock.ExpectQuery("FROM sso_providers\\s+WHERE domain =").
		WithArgs("nobody.example").
		WillReturnRows(sqlmock.NewRows(providerTestColumns))

	w := env.do(t, http.MethodPost, "/api/sso?action=login", "", map[string]string{
		"domain": "nobody.example",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "NOT_CONFIGURED", body["error"])
	assert.Equal(t, "SSO not configured for this domain", body["message"])

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestInitiateLogin_MissingDomain(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	w := env.do(t, http.MethodPost, "/api/sso?action=login", "", map[string]string{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, w)["error"])
}

func TestHandleCallback_UnknownProvider(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	env.mock.ExpectQuery("FROM sso_providers\\s+WHERE id =").
		WithArgs("missing-id").
		WillReturnRows(sqlmock.NewRows(providerTestColumns))

	w := env.do(t, http.MethodPost, "/api/sso?action=callback", "", map[string]string{
		"providerId": "missing-id",
		"code":       "auth-code",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, w)["error"])

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestHandleCallback_OAuth2EndToEnd(t *testing.T) {
	idpMux := http.NewServeMux()
	idpMux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
		})
	})
	idpMux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"email":       "jane.doe@acme.com",
			"given_name":  "Jane",
			"family_name": "Doe",
		})
	})
	idp := httptest.NewServer(idpMux)
	defer idp.Close()

	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	now := time.Now()
	providerRows := sqlmock.NewRows(providerTestColumns).AddRow(
		"prov-1", "Acme OAuth", "OAUTH2", "acme.com", idp.URL+"/authorize",
		"abc123", "secret", idp.URL+"/token", idp.URL+"/userinfo", "", "",
		true, now, now,
	)
	env.mock.ExpectQuery("FROM sso_providers\\s+WHERE id =").
		WithArgs("prov-1").
		WillReturnRows(providerRows)
	env.mock.ExpectQuery("FROM users\\s+WHERE lower\\(email\\) =").
		WithArgs("jane.doe@acme.com").
		WillReturnRows(sqlmock.NewRows(userTestColumns))
	env.mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := env.do(t, http.MethodPost, "/api/sso?action=callback", "", map[string]string{
		"providerId": "prov-1",
		"code":       "auth-code",
		"state":      "64hexchars",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])

	user, ok := body["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "jane.doe@acme.com", user["email"])
	assert.Equal(t, "Jane", user["firstName"])
	assert.Equal(t, "USER", user["role"])
	assert.Equal(t, "FREE", user["subscriptionTier"])

	token, _ := body["token"].(string)
	claims, err := env.issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@acme.com", claims.Email)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestHandleCallback_UpstreamFailureIsGeneric(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	// OAuth2 provider without exchange endpoints cannot complete a callback.
	env.mock.ExpectQuery("FROM sso_providers\\s+WHERE id =").
		WithArgs("prov-1").
		WillReturnRows(providerRow("prov-1", "Acme OAuth", ProviderTypeOAuth2, "acme.com"))

	w := env.do(t, http.MethodPost, "/api/sso?action=callback", "", map[string]string{
		"providerId": "prov-1",
		"code":       "auth-code",
	})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "UPSTREAM_FAILURE", body["error"])
	assert.Equal(t, "authentication failed", body["message"])

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestListProviders_RequiresAdmin(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	w := env.do(t, http.MethodGet, "/api/sso?action=providers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(t, w)["error"])

	w = env.do(t, http.MethodGet, "/api/sso?action=providers", env.userToken(t), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListProviders_Success(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	now := time.Now()
	rows := sqlmock.NewRows(append(providerTestColumns, "linked_users")).
		AddRow("prov-1", "Acme SSO", "SAML", "acme.com", "https://idp.acme.com/sso",
			"", "", "", "", "", "", true, now, now, 7)
	env.mock.ExpectQuery("FROM sso_providers p\\s+LEFT JOIN users u").
		WillReturnRows(rows)

	w := env.do(t, http.MethodGet, "/api/sso?action=providers", env.adminToken(t), nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	providers, ok := body["providers"].([]interface{})
	require.True(t, ok)
	require.Len(t, providers, 1)

	first := providers[0].(map[string]interface{})
	assert.Equal(t, "prov-1", first["id"])
	assert.Equal(t, float64(7), first["linkedUsers"])
	assert.NotContains(t, first, "clientSecret")

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestListProviders_EmptyList(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	env.mock.ExpectQuery("FROM sso_providers p\\s+LEFT JOIN users u").
		WillReturnRows(sqlmock.NewRows(append(providerTestColumns, "linked_users")))

	w := env.do(t, http.MethodGet, "/api/sso?action=providers", env.adminToken(t), nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	providers, ok := body["providers"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, providers)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateProvider_Success(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	env.mock.ExpectExec("INSERT INTO sso_providers").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := env.do(t, http.MethodPost, "/api/sso?action=create-provider", env.adminToken(t), map[string]string{
		"name":     "Acme SSO",
		"type":     "SAML",
		"domain":   "ACME.com",
		"ssoUrl":   "https://idp.acme.com/sso",
		"clientId": "abc123",
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])

	provider, ok := body["provider"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, provider["id"])
	assert.Equal(t, "acme.com", provider["domain"])
	assert.Equal(t, true, provider["isActive"])
	assert.NotContains(t, provider, "clientSecret")

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateProvider_RequiresAdmin(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	w := env.do(t, http.MethodPost, "/api/sso?action=create-provider", "", map[string]string{
		"name": "Acme SSO", "type": "SAML", "domain": "acme.com", "ssoUrl": "https://idp.acme.com/sso",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateProvider_DuplicateActiveDomain(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	env.mock.ExpectExec("INSERT INTO sso_providers").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "sso_providers_active_domain_key"})

	w := env.do(t, http.MethodPost, "/api/sso?action=create-provider", env.adminToken(t), map[string]string{
		"name":   "Second Acme SSO",
		"type":   "OAUTH2",
		"domain": "acme.com",
		"ssoUrl": "https://idp2.acme.com/authorize",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", decodeBody(t, w)["error"])

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateProvider_Validation(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	// Missing required fields.
	w := env.do(t, http.MethodPost, "/api/sso?action=create-provider", env.adminToken(t), map[string]string{
		"name": "Acme SSO",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown provider type.
	w = env.do(t, http.MethodPost, "/api/sso?action=create-provider", env.adminToken(t), map[string]string{
		"name": "Acme SSO", "type": "LDAP", "domain": "acme.com", "ssoUrl": "https://idp.acme.com/sso",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, w)["error"])
}

func TestDeactivateProvider_Success(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	env.mock.ExpectExec("UPDATE sso_providers\\s+SET is_active = false").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := env.do(t, http.MethodPost, "/api/sso?action=deactivate-provider", env.adminToken(t), map[string]string{
		"providerId": "prov-1",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["success"])

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestDeactivateProvider_NotFound(t *testing.T) {
	env, closeDB := newHandlersTestEnv(t)
	defer closeDB()

	env.mock.ExpectExec("UPDATE sso_providers\\s+SET is_active = false").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := env.do(t, http.MethodPost, "/api/sso?action=deactivate-provider", env.adminToken(t), map[string]string{
		"providerId": "missing-id",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, w)["error"])

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

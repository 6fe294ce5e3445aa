package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/authgate/internal/domain"
	"github.com/sumire/authgate/internal/mail"
	"github.com/sumire/authgate/internal/oauth"
	"github.com/sumire/authgate/internal/service"
	"github.com/sumire/authgate/internal/token"
)

// memStore is a minimal in-memory UserStore for exercising the HTTP surface.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*domain.User
}

func newMemStore() *memStore {
	return &memStore{users: make(map[int64]*domain.User)}
}

func (m *memStore) FindByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username != nil && *u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) FindByProviderID(_ context.Context, provider domain.AuthProvider, providerUserID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Provider == provider && u.ProviderUserID != nil && *u.ProviderUserID == providerUserID {
			c := *u
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) CreateLocal(_ context.Context, username, email, passwordHash string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if (u.Username != nil && *u.Username == username) || u.Email == email {
			return nil, domain.ErrDuplicateAccount
		}
	}
	m.nextID++
	u := &domain.User{
		ID:           m.nextID,
		Username:     &username,
		Email:        email,
		PasswordHash: &passwordHash,
		Provider:     domain.AuthProviderLocal,
		CreatedAt:    time.Now(),
	}
	m.users[u.ID] = u
	c := *u
	return &c, nil
}

func (m *memStore) CreateFederated(_ context.Context, in domain.User) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == in.Email {
			return nil, domain.ErrDuplicateAccount
		}
	}
	m.nextID++
	c := in
	c.ID = m.nextID
	c.CreatedAt = time.Now()
	m.users[c.ID] = &c
	out := c
	return &out, nil
}

func (m *memStore) UpdateProfile(_ context.Context, id int64, firstName, lastName, pictureURL *string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	u.FirstName, u.LastName, u.PictureURL = firstName, lastName, pictureURL
	c := *u
	return &c, nil
}

func (m *memStore) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = &passwordHash
	return nil
}

type staticProvider struct {
	name    domain.AuthProvider
	profile oauth.Profile
}

func (p *staticProvider) Name() domain.AuthProvider { return p.name }

func (p *staticProvider) AuthCodeURL(state string) string {
	return fmt.Sprintf("https://%s.example/auth?state=%s", p.name, state)
}

func (p *staticProvider) Exchange(context.Context, string) (*oauth.Profile, error) {
	profile := p.profile
	return &profile, nil
}

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	codec, err := token.NewCodec("test-secret", "HS256", 30*time.Minute, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	providers := map[domain.AuthProvider]oauth.Provider{
		domain.AuthProviderGoogle: &staticProvider{
			name:    domain.AuthProviderGoogle,
			profile: oauth.Profile{ExternalID: "g-123", Email: "fed@x.com", FirstName: "Fed"},
		},
	}

	svc := service.NewAuthService(newMemStore(), oauth.NewStateStore(time.Minute),
		providers, codec, mail.ConsoleSender{}, "http://front.example")
	h := NewAuthHandler(svc)

	e := echo.New()
	e.Validator = NewAppValidator()
	e.HTTPErrorHandler = HTTPErrorHandler

	e.POST("/register", h.Register)
	e.POST("/login", h.Login)
	e.GET("/auth/:provider/login", h.OAuthLogin)
	e.GET("/auth/:provider/callback", h.OAuthCallback)
	e.GET("/me", h.Me, BearerAuth(svc))
	return e
}

func doJSON(e *echo.Echo, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRegisterLoginMeFlow(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/register",
		`{"username":"alice","email":"alice@x.com","password":"p@ss1word"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("register response leaks password material: %s", rec.Body)
	}

	rec = doJSON(e, http.MethodPost, "/login",
		`{"username":"alice","password":"p@ss1word"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body)
	}

	var loginResp struct {
		Data struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
			User        struct {
				ID int64 `json:"id"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if loginResp.Data.TokenType != "bearer" {
		t.Errorf("token_type = %q, want bearer", loginResp.Data.TokenType)
	}

	header := http.Header{"Authorization": {"Bearer " + loginResp.Data.AccessToken}}
	rec = doJSON(e, http.MethodGet, "/me", "", header)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d, body %s", rec.Code, rec.Body)
	}
	var meResp struct {
		Data struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &meResp); err != nil {
		t.Fatalf("decode me response: %v", err)
	}
	if meResp.Data.ID != loginResp.Data.User.ID || meResp.Data.Username != "alice" {
		t.Errorf("me = %+v, want alice/%d", meResp.Data, loginResp.Data.User.ID)
	}
}

func TestLoginFailureShapeIsUniform(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/register",
		`{"username":"alice","email":"alice@x.com","password":"p@ss1word"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}

	wrongPass := doJSON(e, http.MethodPost, "/login", `{"username":"alice","password":"wrong-pass"}`, nil)
	noUser := doJSON(e, http.MethodPost, "/login", `{"username":"ghost","password":"wrong-pass"}`, nil)

	if wrongPass.Code != http.StatusUnauthorized || noUser.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d/%d, want 401/401", wrongPass.Code, noUser.Code)
	}
	if wrongPass.Body.String() != noUser.Body.String() {
		t.Errorf("bodies differ (enumeration signal):\n%s\n%s", wrongPass.Body, noUser.Body)
	}
}

func TestRegisterValidation(t *testing.T) {
	e := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"short password", `{"username":"alice","email":"alice@x.com","password":"short"}`},
		{"bad email", `{"username":"alice","email":"not-an-email","password":"p@ss1word"}`},
		{"missing username", `{"email":"alice@x.com","password":"p@ss1word"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(e, http.MethodPost, "/register", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestRegisterDuplicateConflict(t *testing.T) {
	e := newTestServer(t)

	body := `{"username":"alice","email":"alice@x.com","password":"p@ss1word"}`
	if rec := doJSON(e, http.MethodPost, "/register", body, nil); rec.Code != http.StatusCreated {
		t.Fatalf("first register status = %d", rec.Code)
	}
	rec := doJSON(e, http.MethodPost, "/register", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate register status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "duplicate_account") {
		t.Errorf("body %s missing duplicate_account code", rec.Body)
	}
}

func TestMeRejectsBadTokens(t *testing.T) {
	e := newTestServer(t)

	tests := []struct {
		name   string
		header http.Header
	}{
		{"no header", nil},
		{"not bearer", http.Header{"Authorization": {"Basic abc"}}},
		{"garbage token", http.Header{"Authorization": {"Bearer garbage"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(e, http.MethodGet, "/me", "", tc.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestOAuthLoginRedirects(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/auth/google/login", "", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc := rec.Header().Get(echo.HeaderLocation)
	if !strings.HasPrefix(loc, "https://google.example/auth?state=") {
		t.Errorf("location = %q", loc)
	}
}

func TestOAuthLoginUnknownProvider(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/auth/github/login", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestOAuthCallbackFlow(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/auth/google/login", "", nil)
	loc := rec.Header().Get(echo.HeaderLocation)
	state := loc[strings.Index(loc, "state=")+len("state="):]

	rec = doJSON(e, http.MethodGet, "/auth/google/callback?code=abc&state="+state, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"access_token"`) {
		t.Errorf("callback body missing access_token: %s", rec.Body)
	}

	// Same (code, state) a second time: the consumed state aborts the flow.
	rec = doJSON(e, http.MethodGet, "/auth/google/callback?code=abc&state="+state, "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("replayed callback status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_state") {
		t.Errorf("replayed callback body %s missing invalid_state", rec.Body)
	}
}

func TestOAuthCallbackMissingParams(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/auth/google/callback?state=whatever", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing code status = %d, want 400", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/auth/google/callback?code=abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing state status = %d, want 400", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/auth/google/callback?error=access_denied", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("provider error status = %d, want 400", rec.Code)
	}
}

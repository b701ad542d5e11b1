package handler_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cycle-reservation/internal/config"
	"github.com/iliyamo/cycle-reservation/internal/handler"
	"github.com/iliyamo/cycle-reservation/internal/middleware"
	"github.com/iliyamo/cycle-reservation/internal/model"
	"github.com/iliyamo/cycle-reservation/internal/repository"
	"github.com/iliyamo/cycle-reservation/internal/utils"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]model.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{users: map[string]model.User{}} }

func (f *fakeUsers) Create(_ context.Context, name, email, password, role string, cost int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[email]; ok {
		return 0, repository.ErrEmailExists
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	id := uint64(len(f.users) + 1)
	f.users[email] = model.User{ID: id, Name: name, Email: email, PasswordHash: hash, Role: role, IsActive: true}
	return id, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

func (f *fakeUsers) disable(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[email]
	u.IsActive = false
	f.users[email] = u
}

type storedToken struct {
	userID  uint64
	exp     time.Time
	revoked bool
}

type fakeTokens struct {
	mu     sync.Mutex
	tokens map[string]*storedToken
}

func newFakeTokens() *fakeTokens { return &fakeTokens{tokens: map[string]*storedToken{}} }

func (f *fakeTokens) StoreRefresh(_ context.Context, userID uint64, hash string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[hash] = &storedToken{userID: userID, exp: exp}
	return nil
}

func (f *fakeTokens) ValidateRefresh(_ context.Context, hash string, now time.Time) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[hash]
	if !ok || tok.revoked || !tok.exp.After(now) {
		return 0, repository.ErrTokenInvalid
	}
	return tok.userID, nil
}

func (f *fakeTokens) Rotate(_ context.Context, userID uint64, oldHash, newHash string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.tokens[oldHash]
	if !ok || old.revoked || old.userID != userID {
		return repository.ErrTokenInvalid
	}
	old.revoked = true
	f.tokens[newHash] = &storedToken{userID: userID, exp: exp}
	return nil
}

func (f *fakeTokens) RevokeByHash(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tok, ok := f.tokens[hash]; ok {
		tok.revoked = true
	}
	return nil
}

func (f *fakeTokens) RevokeAllForUser(_ context.Context, userID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.tokens {
		if tok.userID == userID {
			tok.revoked = true
		}
	}
	return nil
}

func (f *fakeTokens) active(userID uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, tok := range f.tokens {
		if tok.userID == userID && !tok.revoked {
			n++
		}
	}
	return n
}

type authFixture struct {
	e      *echo.Echo
	users  *fakeUsers
	tokens *fakeTokens
}

func newAuthFixture() *authFixture {
	cfg := config.Config{
		JWTSecret:      secret,
		AccessTTLMin:   15,
		RefreshTTLDays: 7,
		BcryptCost:     4,
		AdminEmails:    []string{"boss@example.com"},
	}
	users, tokens := newFakeUsers(), newFakeTokens()
	a := handler.NewAuthHandler(cfg, users, tokens)

	e := newEcho()
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
	e.GET("/v1/me", a.Me, middleware.JWTAuth(secret))
	return &authFixture{e: e, users: users, tokens: tokens}
}

type tokenPair struct {
	User struct {
		ID   uint64 `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

func (f *authFixture) post(t *testing.T, path, auth, body string) (int, string) {
	t.Helper()
	s := &server{e: f.e}
	rec := s.do(t, http.MethodPost, path, auth, body)
	return rec.Code, rec.Body.String()
}

func TestRegisterAssignsRoles(t *testing.T) {
	f := newAuthFixture()
	s := &server{e: f.e}

	rec := s.do(t, http.MethodPost, "/v1/auth/register", "", `{"name":"Ann","email":"Ann@Example.com","password":"password1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d %s", rec.Code, rec.Body)
	}
	if p := decode[tokenPair](t, rec); p.User.Role != model.RoleUser || p.Access.Token == "" || p.Refresh.Token == "" {
		t.Fatalf("pair = %+v", p)
	}

	rec = s.do(t, http.MethodPost, "/v1/auth/register", "", `{"name":"Boss","email":"boss@example.com","password":"password1"}`)
	if p := decode[tokenPair](t, rec); p.User.Role != model.RoleAdmin {
		t.Fatalf("admin role = %q", p.User.Role)
	}

	if code, _ := f.post(t, "/v1/auth/register", "", `{"name":"Ann","email":"ann@example.com","password":"password1"}`); code != http.StatusConflict {
		t.Fatalf("duplicate = %d, want 409", code)
	}
	for _, body := range []string{
		`{"email":"x@example.com","password":"password1"}`,
		`{"name":"X","email":"not-an-email","password":"password1"}`,
		`{"name":"X","email":"x@example.com","password":"short"}`,
	} {
		if code, _ := f.post(t, "/v1/auth/register", "", body); code != http.StatusBadRequest {
			t.Fatalf("%s = %d, want 400", body, code)
		}
	}
}

func TestLoginRefreshLogout(t *testing.T) {
	f := newAuthFixture()
	s := &server{e: f.e}
	f.post(t, "/v1/auth/register", "", `{"name":"Ann","email":"ann@example.com","password":"password1"}`)

	if code, _ := f.post(t, "/v1/auth/login", "", `{"email":"ann@example.com","password":"wrong-pass"}`); code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d, want 401", code)
	}
	if code, _ := f.post(t, "/v1/auth/login", "", `{"email":"nobody@example.com","password":"password1"}`); code != http.StatusUnauthorized {
		t.Fatalf("unknown user = %d, want 401", code)
	}

	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", `{"email":"ANN@example.com","password":"password1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d %s", rec.Code, rec.Body)
	}
	pair := decode[tokenPair](t, rec)

	me := s.do(t, http.MethodGet, "/v1/me", "Bearer "+pair.Access.Token, "")
	if me.Code != http.StatusOK || !strings.Contains(me.Body.String(), `"ann@example.com"`) {
		t.Fatalf("me = %d %s", me.Code, me.Body)
	}

	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", "", `{"refresh_token":"`+pair.Refresh.Token+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d %s", rec.Code, rec.Body)
	}
	rotated := decode[tokenPair](t, rec)
	if rotated.Refresh.Token == pair.Refresh.Token {
		t.Fatalf("refresh token not rotated")
	}
	if code, _ := f.post(t, "/v1/auth/refresh", "", `{"refresh_token":"`+pair.Refresh.Token+`"}`); code != http.StatusUnauthorized {
		t.Fatalf("reused refresh token = %d, want 401", code)
	}

	if code, _ := f.post(t, "/v1/auth/logout", "", `{"refresh_token":"`+rotated.Refresh.Token+`"}`); code != http.StatusNoContent {
		t.Fatalf("logout = %d", code)
	}
	if code, _ := f.post(t, "/v1/auth/refresh", "", `{"refresh_token":"`+rotated.Refresh.Token+`"}`); code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout = %d, want 401", code)
	}
	if code, _ := f.post(t, "/v1/auth/logout", "", `{}`); code != http.StatusBadRequest {
		t.Fatalf("empty logout = %d, want 400", code)
	}
}

func TestLogoutWithBearerRevokesEverySession(t *testing.T) {
	f := newAuthFixture()
	f.post(t, "/v1/auth/register", "", `{"name":"Ann","email":"ann@example.com","password":"password1"}`)
	_, body := f.post(t, "/v1/auth/login", "", `{"email":"ann@example.com","password":"password1"}`)
	if f.tokens.active(1) != 2 {
		t.Fatalf("active sessions = %d, want 2", f.tokens.active(1))
	}
	access := body[strings.Index(body, `"access":{"token":"`)+len(`"access":{"token":"`):]
	access = access[:strings.Index(access, `"`)]

	if code, _ := f.post(t, "/v1/auth/logout", "Bearer "+access, ""); code != http.StatusNoContent {
		t.Fatalf("logout = %d", code)
	}
	if f.tokens.active(1) != 0 {
		t.Fatalf("sessions left = %d", f.tokens.active(1))
	}
}

func TestLoginRejectsDisabledAccount(t *testing.T) {
	f := newAuthFixture()
	f.post(t, "/v1/auth/register", "", `{"name":"Ann","email":"ann@example.com","password":"password1"}`)
	f.users.disable("ann@example.com")
	if code, _ := f.post(t, "/v1/auth/login", "", `{"email":"ann@example.com","password":"password1"}`); code != http.StatusForbidden {
		t.Fatalf("disabled login = %d, want 403", code)
	}
}

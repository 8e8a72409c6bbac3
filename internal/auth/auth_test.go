package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lubepos/lubepos/internal/rbac"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/store/memory"
	"github.com/lubepos/lubepos/internal/users"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("s3cret", time.Hour)
	actor := shared.Actor{UserID: 4, Name: "sari", Role: shared.RoleStaff}

	raw, expires, err := m.Issue(actor)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	got, err := m.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, actor, got)
}

func TestParseRejectsBadTokens(t *testing.T) {
	m := NewTokenManager("s3cret", time.Hour)
	raw, _, err := m.Issue(shared.Actor{UserID: 4, Name: "sari", Role: shared.RoleStaff})
	require.NoError(t, err)

	_, err = NewTokenManager("other", time.Hour).Parse(raw)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Parse("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Parse(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func newAuthRouter(t *testing.T) (http.Handler, *TokenManager) {
	t.Helper()
	svc := users.NewService(memory.New().Users(), nil, nil)
	svc.WithHashCost(bcrypt.MinCost)
	_, err := svc.EnsureSeedAdmin(context.Background())
	require.NoError(t, err)

	tokens := NewTokenManager("s3cret", time.Hour)
	h := NewHandler(nil, svc, tokens, rbac.MustDefaultPolicy())
	r := chi.NewRouter()
	r.Route("/api/auth", h.MountRoutes)
	return r, tokens
}

func login(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.8:5123"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLoginAndMe(t *testing.T) {
	router, _ := newAuthRouter(t)

	rec := login(router, `{"name":"admin","password":"admin123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var session Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	require.NotEmpty(t, session.Token)
	require.Equal(t, shared.RoleAdmin, session.Role)
	require.Contains(t, session.Tabs, "users")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var me Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	require.Empty(t, me.Token)
	require.Equal(t, session.UserID, me.UserID)
}

func TestLoginFailures(t *testing.T) {
	router, _ := newAuthRouter(t)

	rec := login(router, `{"name":"admin","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = login(router, `{"name":"admin"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = login(router, `{"name":"admin","password":"admin123","remember":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginIsRateLimited(t *testing.T) {
	router, _ := newAuthRouter(t)
	var last *httptest.ResponseRecorder
	for i := 0; i <= loginRateLimit; i++ {
		last = login(router, `{"name":"admin","password":"nope"}`)
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
}

func TestMiddlewareRequiresBearer(t *testing.T) {
	m := NewTokenManager("s3cret", time.Hour)
	var seen shared.Actor
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	raw, _, err := m.Issue(shared.Actor{UserID: 9, Name: "ayu", Role: shared.RoleAccountant})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, int64(9), seen.UserID)
}

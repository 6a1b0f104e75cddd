package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibeckermayer/rappterbook/internal/platform"
	"github.com/ibeckermayer/rappterbook/internal/store"
	"github.com/ibeckermayer/rappterbook/internal/types"
)

type fakeViewer struct {
	calls int
	ident types.Identity
	err   error
}

func (f *fakeViewer) Viewer(ctx context.Context, token string) (types.Identity, error) {
	f.calls++
	return f.ident, f.err
}

func newTestManager(t *testing.T, viewer IdentityFetcher, opts Options) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewManager(s, viewer, opts, zap.NewNop()), s
}

func TestIdentity_CachedUntilCleared(t *testing.T) {
	viewer := &fakeViewer{ident: types.Identity{Login: "octo", Name: "Octo"}}
	m, s := newTestManager(t, viewer, Options{})
	ctx := context.Background()

	ident, err := m.Identity(ctx, "sess")
	require.NoError(t, err)
	assert.Nil(t, ident)
	assert.False(t, m.IsAuthenticated(ctx, "sess"))
	assert.Zero(t, viewer.calls)

	require.NoError(t, s.SaveToken(ctx, "sess", "tok"))
	assert.True(t, m.IsAuthenticated(ctx, "sess"))
	for i := 0; i < 3; i++ {
		ident, err = m.Identity(ctx, "sess")
		require.NoError(t, err)
		require.NotNil(t, ident)
		assert.Equal(t, "octo", ident.Login)
	}
	assert.Equal(t, 1, viewer.calls)

	require.NoError(t, m.Logout(ctx, "sess"))
	assert.False(t, m.IsAuthenticated(ctx, "sess"))
	ident, err = m.Identity(ctx, "sess")
	require.NoError(t, err)
	assert.Nil(t, ident)
}

func TestIdentity_RejectedCredentialSignsOut(t *testing.T) {
	viewer := &fakeViewer{err: fmt.Errorf("fetch viewer: %w", &platform.StatusError{Path: "/user", Code: http.StatusUnauthorized})}
	m, s := newTestManager(t, viewer, Options{})
	ctx := context.Background()
	require.NoError(t, s.SaveToken(ctx, "sess", "revoked"))

	ident, err := m.Identity(ctx, "sess")
	require.NoError(t, err)
	assert.Nil(t, ident)
	token, err := m.Token(ctx, "sess")
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestLoginURL(t *testing.T) {
	m, _ := newTestManager(t, &fakeViewer{}, Options{
		AuthorizeURL: "https://github.com/login/oauth/authorize",
		ClientID:     "client-1",
		CallbackURL:  "http://localhost:8080/auth/callback",
		Scope:        "public_repo",
	})

	raw, err := m.LoginURL("sess-123")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "client-1", u.Query().Get("client_id"))
	assert.Equal(t, "sess-123", u.Query().Get("state"))
	assert.Equal(t, "public_repo", u.Query().Get("scope"))

	unconfigured, _ := newTestManager(t, &fakeViewer{}, Options{})
	_, err = unconfigured.LoginURL("x")
	require.Error(t, err)
}

func TestComplete_StoresExchangedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["code"] != "good" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_new"})
	}))
	defer srv.Close()

	m, _ := newTestManager(t, &fakeViewer{}, Options{ExchangeURL: srv.URL})
	ctx := context.Background()

	err := m.Complete(ctx, "sess", "other-session", "good")
	require.Error(t, err)

	err = m.Complete(ctx, "sess", "sess", "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad_verification_code")
	assert.False(t, m.IsAuthenticated(ctx, "sess"))

	require.NoError(t, m.Complete(ctx, "sess", "sess", "good"))
	token, err := m.Token(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, "gho_new", token)
}

func TestCookieJar(t *testing.T) {
	jar := NewCookieJar(false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id := jar.Ensure(rec, req)
	require.NotEmpty(t, id)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	assert.Equal(t, id, jar.Ensure(rec, req))
	assert.Empty(t, rec.Result().Cookies())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "not-a-uuid"})
	_, ok := jar.SessionID(req)
	assert.False(t, ok)
}

func TestReturnPath(t *testing.T) {
	jar := NewCookieJar(false)
	rec := httptest.NewRecorder()
	jar.SetReturn(rec, "/discussions/42?x=1")

	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	assert.Equal(t, "/discussions/42?x=1", jar.TakeReturn(httptest.NewRecorder(), req))

	assert.Equal(t, "/", SafeReturn("https://evil.example"))
	assert.Equal(t, "/", SafeReturn("//evil.example"))
	assert.Equal(t, "/", SafeReturn(""))
	assert.Equal(t, "/agents", SafeReturn("/agents"))
}

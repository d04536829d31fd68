package auth_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/eteran/meshvault/internal/auth"
	"github.com/eteran/meshvault/internal/database"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	AdminSecret = "meshvault-secret"
	TokenSecret = "token-signing-secret"
)

func newAdmins(t *testing.T) *auth.Admins {
	t.Helper()

	db, err := database.Open(t.Context(), database.DriverSQLite, database.SQLiteDSN(filepath.Join(t.TempDir(), "meta.sqlite")))
	require.NoError(t, err, "database.Open error")
	t.Cleanup(func() { _ = db.Close() })

	return auth.NewAdmins(db).WithCost(bcrypt.MinCost)
}

func TestSharedSecretEngine_BasicAuth(t *testing.T) {
	t.Parallel()

	e := auth.NewSharedSecretEngine(AdminSecret)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/models", nil)
	req.SetBasicAuth("anyone", AdminSecret)

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, user, "expected the shared secret to authenticate")
	require.Equal(t, auth.SharedSecretUser, user.ID)
}

func TestSharedSecretEngine_Header(t *testing.T) {
	t.Parallel()

	e := auth.NewSharedSecretEngine(AdminSecret)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/models", nil)
	req.Header.Set(auth.AdminSecretHeader, AdminSecret)

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, user)
}

func TestSharedSecretEngine_Rejects(t *testing.T) {
	t.Parallel()

	e := auth.NewSharedSecretEngine(AdminSecret)

	wrong := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/models", nil)
	wrong.Header.Set(auth.AdminSecretHeader, "nope")
	user, err := e.AuthenticateRequest(t.Context(), wrong)
	require.NoError(t, err)
	require.Nil(t, user, "wrong secret")

	missing := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/models", nil)
	user, err = e.AuthenticateRequest(t.Context(), missing)
	require.NoError(t, err)
	require.Nil(t, user, "no credentials")

	disabled := auth.NewSharedSecretEngine("")
	empty := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/models", nil)
	empty.SetBasicAuth("admin", "")
	user, err = disabled.AuthenticateRequest(t.Context(), empty)
	require.NoError(t, err)
	require.Nil(t, user, "an empty secret never matches")
}

func TestTokenEngine_IssueAndAuthenticate(t *testing.T) {
	t.Parallel()

	e := auth.NewTokenEngine(TokenSecret, time.Hour)

	token, err := e.Issue(auth.Admin{ID: "admin-1", Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err, "Issue error")

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/thumbnails", nil)
	req.Header.Set("Authorization", auth.BearerPrefix+token)

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "admin-1", user.ID)
	require.Equal(t, "ada@example.com", user.Email)
}

func TestTokenEngine_RejectsForeignAndExpiredTokens(t *testing.T) {
	t.Parallel()

	e := auth.NewTokenEngine(TokenSecret, time.Hour)

	foreign, err := auth.NewTokenEngine("another-secret", time.Hour).Issue(auth.Admin{ID: "x"})
	require.NoError(t, err)
	_, err = e.Parse(foreign)
	require.ErrorIs(t, err, auth.ErrInvalidToken, "wrong signing key")

	expired, err := auth.NewTokenEngine(TokenSecret, time.Nanosecond).Issue(auth.Admin{ID: "x"})
	require.NoError(t, err)
	time.Sleep(time.Second)
	_, err = e.Parse(expired)
	require.ErrorIs(t, err, auth.ErrInvalidToken, "expired token")

	_, err = e.Parse("not-a-token")
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/models", nil)
	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err, "no bearer token is not an error")
	require.Nil(t, user)
}

func TestCompoundAuthEngine(t *testing.T) {
	t.Parallel()

	tokens := auth.NewTokenEngine(TokenSecret, time.Hour)
	e := auth.NewCompoundAuthEngine(auth.NewSharedSecretEngine(AdminSecret), tokens)

	token, err := tokens.Issue(auth.Admin{ID: "admin-2"})
	require.NoError(t, err)

	bearer := httptest.NewRequestWithContext(t.Context(), http.MethodDelete, "http://example.com/models/1", nil)
	bearer.Header.Set("Authorization", auth.BearerPrefix+token)
	user, err := e.AuthenticateRequest(t.Context(), bearer)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "admin-2", user.ID)

	secret := httptest.NewRequestWithContext(t.Context(), http.MethodDelete, "http://example.com/models/1", nil)
	secret.Header.Set(auth.AdminSecretHeader, AdminSecret)
	user, err = e.AuthenticateRequest(t.Context(), secret)
	require.NoError(t, err)
	require.NotNil(t, user)

	bad := httptest.NewRequestWithContext(t.Context(), http.MethodDelete, "http://example.com/models/1", nil)
	bad.Header.Set("Authorization", auth.BearerPrefix+"garbage")
	user, err = e.AuthenticateRequest(t.Context(), bad)
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestAdminsRegisterAndAuthenticate(t *testing.T) {
	t.Parallel()

	admins := newAdmins(t)

	count, err := admins.Count(t.Context())
	require.NoError(t, err)
	require.Zero(t, count)

	created, err := admins.Register(t.Context(), "Ada", " Ada@Example.com ", "correct horse")
	require.NoError(t, err, "Register error")
	require.Equal(t, "ada@example.com", created.Email, "emails are normalised")
	require.NotEqual(t, "correct horse", created.PasswordHash)

	admin, err := admins.Authenticate(t.Context(), "ADA@example.com", "correct horse")
	require.NoError(t, err)
	require.Equal(t, created.ID, admin.ID)

	_, err = admins.Authenticate(t.Context(), "ada@example.com", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = admins.Authenticate(t.Context(), "nobody@example.com", "correct horse")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	count, err = admins.Count(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestAdminsRegisterErrors(t *testing.T) {
	t.Parallel()

	admins := newAdmins(t)

	_, err := admins.Register(t.Context(), "", "a@example.com", "pw")
	require.ErrorIs(t, err, auth.ErrInvalid)

	_, err = admins.Register(t.Context(), "A", "a@example.com", "pw")
	require.NoError(t, err)

	_, err = admins.Register(t.Context(), "B", "A@example.com", "pw2")
	require.ErrorIs(t, err, auth.ErrExists)
}

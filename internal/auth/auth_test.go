package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/logging"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
	"github.com/Manialer35/avishkar-career-compass-sub001/migrations"
)

func TestNormalizeIdentityPrecedence(t *testing.T) {
	cases := []struct {
		claims map[string]any
		want   string
	}{
		{map[string]any{"uid": "a", "localId": "b", "sub": "c", "email": "d@x.io"}, "a"},
		{map[string]any{"localId": "b", "id": "x", "sub": "c"}, "b"},
		{map[string]any{"id": "x", "user_id": "y", "sub": "c"}, "x"},
		{map[string]any{"user_id": "y", "sub": "c"}, "y"},
		{map[string]any{"sub": "c", "email": "d@x.io"}, "c"},
		{map[string]any{"email": "d@x.io"}, "d@x.io"},
		{map[string]any{"uid": "  ", "sub": "c"}, "c"},
	}
	for _, tc := range cases {
		id, err := NormalizeIdentity(tc.claims)
		require.NoError(t, err)
		require.Equal(t, tc.want, id.UserID, "claims %v", tc.claims)
	}

	_, err := NormalizeIdentity(map[string]any{"name": "nobody"})
	require.ErrorIs(t, err, apperr.ErrAuthRequired)

	id, err := NormalizeIdentity(map[string]any{
		"sub":            "fb-1",
		"email":          "Asha@Example.com",
		"email_verified": true,
		"phone_number":   "+919876543210",
		"name":           "Asha",
		"firebase":       map[string]any{"sign_in_provider": "google.com"},
	})
	require.NoError(t, err)
	require.Equal(t, UserIdentity{UserID: "fb-1", Email: "asha@example.com", EmailVerified: true, Phone: "+919876543210", DisplayName: "Asha", Provider: "google.com"}, id)

	id, err = NormalizeIdentity(map[string]any{"sub": "fb-2", "email": "new@example.com", "email_verified": false})
	require.NoError(t, err)
	require.False(t, id.EmailVerified)
}

func TestSessionRoundTrip(t *testing.T) {
	m := NewSessionManager("s3cret", 0)
	token, exp, err := m.Issue(UserIdentity{UserID: "user-1", Phone: "+919876543210", Provider: "phone"})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(7*24*time.Hour), exp, time.Minute)

	id, err := m.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user-1", id.UserID)
	require.Equal(t, "+919876543210", id.Phone)
	require.Equal(t, "phone", id.Provider)
	require.False(t, id.EmailVerified)

	token, _, err = m.Issue(UserIdentity{UserID: "user-2", Email: "asha@example.com", EmailVerified: true})
	require.NoError(t, err)
	id, err = m.Verify(context.Background(), token)
	require.NoError(t, err)
	require.True(t, id.EmailVerified, "verified email survives the session token")

	other := NewSessionManager("different", 0)
	_, err = other.Verify(context.Background(), token)
	require.ErrorIs(t, err, apperr.ErrAuthRequired)

	m.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	_, err = m.Verify(context.Background(), token)
	require.ErrorIs(t, err, apperr.ErrAuthRequired, "expired sessions are rejected")
}

type firebaseFixture struct {
	key       *rsa.PrivateKey
	server    *httptest.Server
	fetches   atomic.Int32
	projectID string
}

func newFirebaseFixture(t *testing.T) *firebaseFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	f := &firebaseFixture{key: key, projectID: "avishkar-test"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(map[string]string{"kid-1": string(certPEM)})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *firebaseFixture) token(t *testing.T, kid string, mutate func(jwt.MapClaims)) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":     "https://securetoken.google.com/" + f.projectID,
		"aud":     f.projectID,
		"sub":     "firebase-uid-1",
		"user_id": "firebase-uid-1",
		"email":   "asha@example.com",
		"iat":     now.Add(-time.Minute).Unix(),
		"exp":     now.Add(time.Hour).Unix(),
		"firebase": map[string]any{
			"sign_in_provider": "google.com",
		},
	}
	if mutate != nil {
		mutate(claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func TestFirebaseVerifier(t *testing.T) {
	f := newFirebaseFixture(t)
	v := NewFirebaseVerifier(f.projectID, f.server.URL, f.server.Client())
	ctx := context.Background()

	id, err := v.Verify(ctx, f.token(t, "kid-1", nil))
	require.NoError(t, err)
	require.Equal(t, "firebase-uid-1", id.UserID)
	require.Equal(t, "google.com", id.Provider)

	_, err = v.Verify(ctx, f.token(t, "kid-1", nil))
	require.NoError(t, err)
	require.Equal(t, int32(1), f.fetches.Load(), "certs are cached")

	rejects := map[string]func(jwt.MapClaims){
		"wrong audience": func(c jwt.MapClaims) { c["aud"] = "someone-else" },
		"wrong issuer":   func(c jwt.MapClaims) { c["iss"] = "https://securetoken.google.com/other" },
		"expired":        func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() },
		"empty subject":  func(c jwt.MapClaims) { c["sub"] = "" },
	}
	for name, mutate := range rejects {
		_, err := v.Verify(ctx, f.token(t, "kid-1", mutate))
		require.ErrorIs(t, err, apperr.ErrAuthRequired, name)
	}

	_, err = v.Verify(ctx, f.token(t, "kid-unknown", nil))
	require.ErrorIs(t, err, apperr.ErrAuthRequired)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "aud": f.projectID})
	hs.Header["kid"] = "kid-1"
	raw, err := hs.SignedString([]byte("whatever"))
	require.NoError(t, err)
	_, err = v.Verify(ctx, raw)
	require.ErrorIs(t, err, apperr.ErrAuthRequired, "HS256 must not be accepted as a firebase token")
}

func TestAuthenticatorMiddleware(t *testing.T) {
	sessions := NewSessionManager("s3cret", time.Hour)
	f := newFirebaseFixture(t)
	authn := NewAuthenticator(logging.Discard(), sessions, NewFirebaseVerifier(f.projectID, f.server.URL, f.server.Client()))

	var seen UserIdentity
	protected := authn.Required(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _, err := sessions.Issue(UserIdentity{UserID: "user-1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "user-1", seen.UserID)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+f.token(t, "kid-1", nil))
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "firebase-uid-1", seen.UserID)

	seen = UserIdentity{}
	optional := authn.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := IdentityFromContext(r.Context())
		require.False(t, ok)
		w.WriteHeader(http.StatusOK)
	}))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	optional.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRoleBootstrapOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "roles.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.RunMigrations(ctx, migrations.Files))

	roles := NewRoleService(store, []string{"Admin@Avishkar.in"}, nil, logging.Discard())
	admin := UserIdentity{UserID: "fb-admin", Email: "admin@avishkar.in", EmailVerified: true}

	profile, isAdmin, err := roles.EnsureProfile(ctx, admin, "")
	require.NoError(t, err)
	require.True(t, isAdmin)
	require.Equal(t, "user_fb-admin", profile.Username)

	// The role row now decides; revoking it wins over the allowlist.
	require.NoError(t, store.SetRole(ctx, "fb-admin", repo.RoleUser, nil))
	isAdmin, err = roles.IsAdmin(ctx, admin)
	require.NoError(t, err)
	require.False(t, isAdmin)

	n, err := store.CountRows(ctx, "admin_audit_log")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	isAdmin, err = roles.IsAdmin(ctx, UserIdentity{UserID: "someone", Email: "someone@example.com"})
	require.NoError(t, err)
	require.False(t, isAdmin)
}

func TestRoleBootstrapIgnoresUnverifiedEmail(t *testing.T) {
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "roles.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.RunMigrations(ctx, migrations.Files))

	roles := NewRoleService(store, []string{"admin@avishkar.in"}, nil, logging.Discard())
	claims := map[string]any{"sub": "fb-squatter", "email": "admin@avishkar.in", "email_verified": false}
	squatter, err := NormalizeIdentity(claims)
	require.NoError(t, err)

	isAdmin, err := roles.IsAdmin(ctx, squatter)
	require.NoError(t, err)
	require.False(t, isAdmin)

	_, err = store.GetRole(ctx, "fb-squatter")
	require.ErrorIs(t, err, repo.ErrNotFound, "no role row may be written for an unverified email")
	n, err := store.CountRows(ctx, "admin_audit_log")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestUsernames(t *testing.T) {
	require.Equal(t, "user_76543210", PhoneUsername("+919876543210"))
	require.Equal(t, "user_abcdefgh", DefaultUsername("abcdefghijkl"))
	require.Equal(t, "user_abc", DefaultUsername("abc"))
}

package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func readFields(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fields := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &fields))
	return fields
}

// newTokenServer returns a token endpoint that hands out sequential access
// tokens and never returns a refresh token.
func newTokenServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeKeys(t *testing.T, dir, shape, tokenURL string) string {
	t.Helper()
	path := filepath.Join(dir, "client_secret.json")
	writeJSON(t, path, map[string]any{
		shape: map[string]any{
			"client_id":     "client-id",
			"client_secret": "client-secret",
			"auth_uri":      "https://accounts.example.com/auth",
			"token_uri":     tokenURL,
			"redirect_uris": []string{"http://localhost"},
		},
	})
	return path
}

func TestLoad_MissingFilesDisableChannel(t *testing.T) {
	dir := t.TempDir()
	keys := writeKeys(t, dir, "installed", "https://oauth2.example.com/token")

	_, err := NewCredentialManager(filepath.Join(dir, "nope.json"), filepath.Join(dir, "creds.json")).Load(context.Background())
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewCredentialManager(keys, filepath.Join(dir, "creds.json")).Load(context.Background())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestLoad_KeyShapes(t *testing.T) {
	for _, shape := range []string{"installed", "web"} {
		t.Run(shape, func(t *testing.T) {
			dir := t.TempDir()
			keys := writeKeys(t, dir, shape, "https://oauth2.example.com/token")
			creds := filepath.Join(dir, "credentials.json")
			writeJSON(t, creds, map[string]any{
				"access_token":  "a",
				"refresh_token": "r",
				"token_type":    "Bearer",
				"expiry_date":   1767225600000,
			})

			c, err := NewCredentialManager(keys, creds).Load(context.Background())
			require.NoError(t, err)

			assert.Equal(t, "client-id", c.Config.ClientID)
			assert.Equal(t, "https://oauth2.example.com/token", c.Config.Endpoint.TokenURL)
			assert.Equal(t, DefaultOAuthScopes, c.Config.Scopes)
			assert.Equal(t, "a", c.Token.AccessToken)
			assert.Equal(t, "r", c.Token.RefreshToken)
			assert.True(t, c.Token.Expiry.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
		})
	}
}

func TestLoad_RFC3339Expiry(t *testing.T) {
	dir := t.TempDir()
	keys := writeKeys(t, dir, "installed", "https://oauth2.example.com/token")
	creds := filepath.Join(dir, "credentials.json")
	writeJSON(t, creds, map[string]any{
		"access_token":  "a",
		"refresh_token": "r",
		"expiry":        "2026-05-01T10:00:00Z",
	})

	c, err := NewCredentialManager(keys, creds).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Token.Expiry.Equal(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestLoad_InvalidCredentials(t *testing.T) {
	dir := t.TempDir()
	keys := writeKeys(t, dir, "installed", "https://oauth2.example.com/token")
	creds := filepath.Join(dir, "credentials.json")

	require.NoError(t, os.WriteFile(creds, []byte("{not json"), 0o600))
	_, err := NewCredentialManager(keys, creds).Load(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDisabled))

	writeJSON(t, creds, map[string]any{"token_type": "Bearer"})
	_, err = NewCredentialManager(keys, creds).Load(context.Background())
	assert.Error(t, err)
}

func TestTokenSource_PersistsRotation(t *testing.T) {
	srv, calls := newTokenServer(t)
	dir := t.TempDir()
	keys := writeKeys(t, dir, "installed", srv.URL+"/token")
	creds := filepath.Join(dir, "credentials.json")
	writeJSON(t, creds, map[string]any{
		"access_token":  "stale",
		"refresh_token": "refresh-1",
		"token_type":    "Bearer",
		"expiry_date":   time.Now().Add(-time.Hour).UnixMilli(),
		"scope":         "https://www.googleapis.com/auth/gmail.modify",
	})

	c, err := NewCredentialManager(keys, creds).Load(context.Background())
	require.NoError(t, err)

	ts := c.TokenSource(context.Background())
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)

	// Cached until expiry.
	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, int32(1), calls.Load())

	fields := readFields(t, creds)
	assert.Equal(t, "access-1", fields["access_token"])
	assert.Equal(t, "refresh-1", fields["refresh_token"])
	assert.Equal(t, "https://www.googleapis.com/auth/gmail.modify", fields["scope"])
	assert.Greater(t, fields["expiry_date"], float64(time.Now().UnixMilli()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files must not be left behind")
}

func TestTokenSource_RefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	keys := writeKeys(t, dir, "installed", srv.URL+"/token")
	creds := filepath.Join(dir, "credentials.json")
	writeJSON(t, creds, map[string]any{"refresh_token": "revoked"})

	c, err := NewCredentialManager(keys, creds).Load(context.Background())
	require.NoError(t, err)

	_, err = c.TokenSource(context.Background()).Token()
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)

	fields := readFields(t, creds)
	assert.Equal(t, "revoked", fields["refresh_token"])
	assert.NotContains(t, fields, "access_token")
}

func TestOnTokenRotated_KeepsRefreshToken(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	writeJSON(t, creds, map[string]any{
		"access_token":  "old",
		"refresh_token": "keep-me",
		"expiry":        "2026-01-01T00:00:00Z",
		"id_token":      "opaque",
	})

	m := NewCredentialManager(filepath.Join(dir, "keys.json"), creds)
	expiry := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.OnTokenRotated(&oauth2.Token{
		AccessToken: "new",
		TokenType:   "Bearer",
		Expiry:      expiry,
	}))

	fields := readFields(t, creds)
	assert.Equal(t, "new", fields["access_token"])
	assert.Equal(t, "keep-me", fields["refresh_token"])
	assert.Equal(t, "opaque", fields["id_token"])
	assert.Equal(t, "Bearer", fields["token_type"])
	assert.Equal(t, float64(expiry.UnixMilli()), fields["expiry_date"])
	assert.Equal(t, "2026-06-01T12:00:00Z", fields["expiry"])

	info, err := os.Stat(creds)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

type recordingListener struct {
	tokens []string
	err    error
}

func (l *recordingListener) OnTokenRotated(tok *oauth2.Token) error {
	l.tokens = append(l.tokens, tok.AccessToken)
	return l.err
}

func TestRotationNotifier(t *testing.T) {
	tokens := []string{"a", "a", "b"}
	i := 0
	base := oauth2.TokenSource(tokenSourceFunc(func() (*oauth2.Token, error) {
		tok := &oauth2.Token{AccessToken: tokens[i]}
		i++
		return tok, nil
	}))

	l := &recordingListener{}
	n := &rotationNotifier{base: base, listener: l, last: "a"}
	for range tokens {
		_, err := n.Token()
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"b"}, l.tokens)
}

func TestRotationNotifier_PersistFailureStillReturnsToken(t *testing.T) {
	base := tokenSourceFunc(func() (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "fresh"}, nil
	})
	l := &recordingListener{err: errors.New("disk full")}
	n := &rotationNotifier{base: base, listener: l}

	tok, err := n.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

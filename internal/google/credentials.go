package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
)

// ErrDisabled is returned by Load when the client keys or the stored
// credentials are missing. It is not fatal: the mail channel stays off.
var ErrDisabled = errors.New("gmail channel disabled: oauth configuration missing")

// AuthError wraps failures to obtain or refresh an access token.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "oauth token refresh failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TokenListener is notified synchronously whenever a token source hands out
// a new access token.
type TokenListener interface {
	OnTokenRotated(tok *oauth2.Token) error
}

// storedCredentials is the subset of the credentials file the manager reads.
// ExpiryDate is milliseconds since the epoch; Expiry is RFC 3339.
type storedCredentials struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiryDate   *float64 `json:"expiry_date,omitempty"`
	Expiry       string   `json:"expiry,omitempty"`
}

func (s storedCredentials) token() (*oauth2.Token, error) {
	if s.AccessToken == "" && s.RefreshToken == "" {
		return nil, errors.New("credentials contain neither access_token nor refresh_token")
	}

	tok := &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
	}

	switch {
	case s.ExpiryDate != nil:
		tok.Expiry = time.UnixMilli(int64(math.Round(*s.ExpiryDate)))
	case s.Expiry != "":
		expiry, err := time.Parse(time.RFC3339, s.Expiry)
		if err != nil {
			return nil, fmt.Errorf("parsing expiry %q: %w", s.Expiry, err)
		}
		tok.Expiry = expiry
	case s.AccessToken == "":
		// Only a refresh token: force a refresh on first use.
		tok.Expiry = time.Unix(1, 0)
	}

	return tok, nil
}

// Option configures a CredentialManager.
type Option func(*CredentialManager)

// WithLogger sets the logger used for rotation events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *CredentialManager) {
		m.logger = logger
	}
}

// WithMetrics records oauth_token_refresh_total on m.
func WithMetrics(metrics *instrumentation.Metrics) Option {
	return func(m *CredentialManager) {
		m.metrics = metrics
	}
}

// WithScopes overrides DefaultOAuthScopes.
func WithScopes(scopes ...string) Option {
	return func(m *CredentialManager) {
		m.scopes = scopes
	}
}

// CredentialManager loads OAuth credentials from disk and persists rotated
// tokens back to the credentials file.
type CredentialManager struct {
	keysPath        string
	credentialsPath string
	scopes          []string
	logger          *slog.Logger
	metrics         *instrumentation.Metrics

	// mu serializes writes to credentialsPath.
	mu sync.Mutex
}

var _ TokenListener = (*CredentialManager)(nil)

// NewCredentialManager creates a manager for the given client keys and
// stored credentials files.
func NewCredentialManager(keysPath, credentialsPath string, opts ...Option) *CredentialManager {
	m := &CredentialManager{
		keysPath:        keysPath,
		credentialsPath: credentialsPath,
		scopes:          DefaultOAuthScopes,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.WithComponent(m.logger, "credentials")
	return m
}

// Credentials is a loaded OAuth client config plus the stored user token.
type Credentials struct {
	Config *oauth2.Config
	Token  *oauth2.Token

	listener TokenListener
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
}

// Load reads the client keys and stored credentials. A missing file yields
// an error wrapping ErrDisabled.
func (m *CredentialManager) Load(ctx context.Context) (*Credentials, error) {
	keys, err := os.ReadFile(m.keysPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: client keys %s not found", ErrDisabled, m.keysPath)
	}
	if err != nil {
		return nil, fmt.Errorf("reading client keys: %w", err)
	}

	cfg, err := google.ConfigFromJSON(keys, m.scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing client keys %s: %w", m.keysPath, err)
	}

	raw, err := os.ReadFile(m.credentialsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: credentials %s not found", ErrDisabled, m.credentialsPath)
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	var stored storedCredentials
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("parsing credentials %s: %w", m.credentialsPath, err)
	}

	tok, err := stored.token()
	if err != nil {
		return nil, fmt.Errorf("parsing credentials %s: %w", m.credentialsPath, err)
	}

	m.logger.DebugContext(ctx, "credentials loaded",
		"has_refresh_token", tok.RefreshToken != "",
		"expiry", tok.Expiry,
	)

	return &Credentials{
		Config:   cfg,
		Token:    tok,
		listener: m,
		metrics:  m.metrics,
		logger:   m.logger,
	}, nil
}

// HTTPClient loads the credentials and returns an authenticated client.
func (m *CredentialManager) HTTPClient(ctx context.Context) (*http.Client, error) {
	creds, err := m.Load(ctx)
	if err != nil {
		return nil, err
	}
	return creds.HTTPClient(ctx), nil
}

// OnTokenRotated merges tok into the stored credentials file, keeping every
// field the token does not carry, and replaces the file atomically.
func (m *CredentialManager) OnTokenRotated(tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := map[string]json.RawMessage{}
	raw, err := os.ReadFile(m.credentialsPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &fields); err != nil {
			return fmt.Errorf("parsing credentials %s: %w", m.credentialsPath, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("reading credentials: %w", err)
	}

	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[key] = b
		return nil
	}

	updates := map[string]any{"access_token": tok.AccessToken}
	if tok.TokenType != "" {
		updates["token_type"] = tok.TokenType
	}
	if tok.RefreshToken != "" {
		updates["refresh_token"] = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		updates["expiry_date"] = tok.Expiry.UnixMilli()
		if _, ok := fields["expiry"]; ok {
			updates["expiry"] = tok.Expiry.UTC().Format(time.RFC3339)
		}
	}
	for k, v := range updates {
		if err := set(k, v); err != nil {
			return fmt.Errorf("encoding %s: %w", k, err)
		}
	}

	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := writeFileAtomic(m.credentialsPath, data, 0o600); err != nil {
		return err
	}

	m.logger.Info("oauth token rotated",
		"expiry", tok.Expiry,
		"refresh_token_rotated", tok.RefreshToken != "",
	)
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// TokenSource returns a caching token source that refreshes with the client
// config and notifies the listener on every rotation.
func (c *Credentials) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(c.Token, &rotationNotifier{
		base:     c.Config.TokenSource(ctx, c.Token),
		listener: c.listener,
		metrics:  c.metrics,
		logger:   c.logger,
		last:     c.Token.AccessToken,
	})
}

// HTTPClient returns an HTTP client authorized by TokenSource.
// The client uses HTTP/1.1 to avoid HTTP/2 stream errors on long-lived
// connections to the Gmail API.
func (c *Credentials) HTTPClient(ctx context.Context) *http.Client {
	client := oauth2.NewClient(ctx, c.TokenSource(ctx))
	if transport, ok := client.Transport.(*oauth2.Transport); ok {
		transport.Base = &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			ForceAttemptHTTP2: false,
		}
	}
	return client
}

// rotationNotifier reports access token changes of base to listener.
type rotationNotifier struct {
	base     oauth2.TokenSource
	listener TokenListener
	metrics  *instrumentation.Metrics
	logger   *slog.Logger

	mu   sync.Mutex
	last string
}

func (n *rotationNotifier) Token() (*oauth2.Token, error) {
	ctx := context.Background()

	tok, err := n.base.Token()
	if err != nil {
		n.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		return nil, &AuthError{Err: err}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if tok.AccessToken == n.last {
		return tok, nil
	}
	n.last = tok.AccessToken

	if n.listener != nil {
		if err := n.listener.OnTokenRotated(tok); err != nil {
			// The new token is still valid in memory; only persistence failed.
			if n.logger != nil {
				n.logger.Warn("failed to persist rotated oauth token", logging.Err(err))
			}
			n.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultPersistFailure)
			return tok, nil
		}
	}

	n.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	return tok, nil
}

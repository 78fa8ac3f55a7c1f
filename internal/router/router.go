// Package router maps sender addresses to isolated conversation workspaces.
//
// Every sender gets one directory under the workspace root, named by its
// SenderKey. The directory is created on first contact together with a logs
// subdirectory and, when configured, a copy of a starter template. The
// agent session handle of the sender lives in the session store.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/store"
)

// LogsDir is the per-workspace directory that receives executor logs.
const LogsDir = "logs"

// ErrInvalidSender is returned for addresses that produce an empty key.
var ErrInvalidSender = errors.New("sender address has no usable characters")

// Conversation is the routing result for a sender.
type Conversation struct {
	SenderKey       string
	WorkspaceFolder string

	// SessionHandle is "" until the agent returned one for this sender.
	SessionHandle string
}

// LogsFolder returns the logs directory inside the workspace.
func (c Conversation) LogsFolder() string {
	return filepath.Join(c.WorkspaceFolder, LogsDir)
}

// SenderKey derives a deterministic, filesystem-safe key from an address:
// lower-cased, characters outside [a-z0-9@.] dropped, then "@" becomes
// "_at_" and "." becomes "_dot_".
func SenderKey(address string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(address)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@':
			b.WriteString("_at_")
		case r == '.':
			b.WriteString("_dot_")
		}
	}
	return b.String()
}

// Option configures a Router.
type Option func(*Router)

// WithTemplate copies the file at path into every new workspace.
func WithTemplate(path string) Option {
	return func(r *Router) {
		r.template = path
	}
}

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// Router resolves senders to conversations.
type Router struct {
	root     string
	template string
	sessions store.SessionStore
	logger   *slog.Logger
}

// New creates a Router with workspaces under root.
func New(root string, sessions store.SessionStore, opts ...Option) *Router {
	r := &Router{
		root:     root,
		sessions: sessions,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithComponent(r.logger, "router")
	return r
}

// Route returns the conversation for address, creating its workspace on
// first contact.
func (r *Router) Route(ctx context.Context, address string) (Conversation, error) {
	key := SenderKey(address)
	if key == "" {
		return Conversation{}, fmt.Errorf("%w: %q", ErrInvalidSender, address)
	}

	folder := filepath.Join(r.root, key)
	created, err := r.ensureWorkspace(folder)
	if err != nil {
		return Conversation{}, err
	}

	if created {
		r.logger.InfoContext(ctx, "created conversation workspace", logging.SenderKey(key))
		if r.template != "" {
			if err := copyFile(r.template, filepath.Join(folder, filepath.Base(r.template))); err != nil {
				r.logger.WarnContext(ctx, "failed to copy workspace template",
					logging.SenderKey(key),
					"template", r.template,
					logging.Err(err),
				)
			}
		}
	}

	handle, err := r.sessions.SessionHandle(ctx, key)
	if err != nil {
		return Conversation{}, fmt.Errorf("loading session for %s: %w", key, err)
	}

	return Conversation{
		SenderKey:       key,
		WorkspaceFolder: folder,
		SessionHandle:   handle,
	}, nil
}

// SaveSession stores the session handle for key.
func (r *Router) SaveSession(ctx context.Context, key, handle string) error {
	return r.sessions.SaveSessionHandle(ctx, key, handle)
}

// ensureWorkspace creates folder and its logs directory. It reports whether
// folder did not exist before.
func (r *Router) ensureWorkspace(folder string) (bool, error) {
	_, err := os.Stat(folder)
	created := errors.Is(err, fs.ErrNotExist)
	if err != nil && !created {
		return false, fmt.Errorf("checking workspace %s: %w", folder, err)
	}

	if err := os.MkdirAll(filepath.Join(folder, LogsDir), 0o700); err != nil {
		return false, fmt.Errorf("creating workspace %s: %w", folder, err)
	}
	return created, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSessions struct {
	handles map[string]string
	err     error
}

func newMemSessions() *memSessions {
	return &memSessions{handles: make(map[string]string)}
}

func (m *memSessions) SessionHandle(_ context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.handles[key], nil
}

func (m *memSessions) SaveSessionHandle(_ context.Context, key, handle string) error {
	if m.err != nil {
		return m.err
	}
	m.handles[key] = handle
	return nil
}

func TestSenderKey(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"alice@example.com", "alice_at_example_dot_com"},
		{"John.Doe+test@Example.COM", "john_dot_doetest_at_example_dot_com"},
		{"  bob@EXAMPLE.org ", "bob_at_example_dot_org"},
		{"../../etc/passwd", "_dot__dot__dot__dot_etcpasswd"},
		{"Jürgen@example.com", "jrgen_at_example_dot_com"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.want, SenderKey(tt.address))
		})
	}
}

func TestSenderKey_Deterministic(t *testing.T) {
	a := SenderKey("John.Doe+test@Example.COM")
	assert.Equal(t, a, SenderKey("John.Doe+test@Example.COM"))
	assert.Equal(t, a, SenderKey("john.doe+test@example.com"))
	assert.NotEqual(t, a, SenderKey("jane@example.com"))
	assert.NotContains(t, a, "/")
	assert.NotContains(t, a, ".")
}

func TestRoute_CreatesWorkspaceOnFirstContact(t *testing.T) {
	root := t.TempDir()
	template := filepath.Join(t.TempDir(), "AGENTS.md")
	require.NoError(t, os.WriteFile(template, []byte("be helpful"), 0o600))

	r := New(root, newMemSessions(), WithTemplate(template))
	conv, err := r.Route(context.Background(), "Alice@Example.com")
	require.NoError(t, err)

	assert.Equal(t, "alice_at_example_dot_com", conv.SenderKey)
	assert.Equal(t, filepath.Join(root, "alice_at_example_dot_com"), conv.WorkspaceFolder)
	assert.Empty(t, conv.SessionHandle)
	assert.DirExists(t, conv.LogsFolder())

	data, err := os.ReadFile(filepath.Join(conv.WorkspaceFolder, "AGENTS.md"))
	require.NoError(t, err)
	assert.Equal(t, "be helpful", string(data))
}

func TestRoute_ExistingWorkspaceKeepsFiles(t *testing.T) {
	root := t.TempDir()
	template := filepath.Join(t.TempDir(), "AGENTS.md")
	require.NoError(t, os.WriteFile(template, []byte("v1"), 0o600))

	r := New(root, newMemSessions(), WithTemplate(template))
	conv, err := r.Route(context.Background(), "alice@example.com")
	require.NoError(t, err)

	// The sender edited their starter document; a newer template must not
	// overwrite it.
	starter := filepath.Join(conv.WorkspaceFolder, "AGENTS.md")
	require.NoError(t, os.WriteFile(starter, []byte("customized"), 0o600))
	require.NoError(t, os.WriteFile(template, []byte("v2"), 0o600))

	again, err := r.Route(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, conv.WorkspaceFolder, again.WorkspaceFolder)

	data, err := os.ReadFile(starter)
	require.NoError(t, err)
	assert.Equal(t, "customized", string(data))
}

func TestRoute_MissingTemplateIsNotFatal(t *testing.T) {
	r := New(t.TempDir(), newMemSessions(), WithTemplate("/does/not/exist.md"))

	conv, err := r.Route(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.DirExists(t, conv.LogsFolder())
}

func TestRoute_SessionHandle(t *testing.T) {
	sessions := newMemSessions()
	r := New(t.TempDir(), sessions)

	conv, err := r.Route(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, r.SaveSession(context.Background(), conv.SenderKey, "sess-42"))

	conv, err = r.Route(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "sess-42", conv.SessionHandle)

	other, err := r.Route(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.Empty(t, other.SessionHandle)
}

func TestRoute_Errors(t *testing.T) {
	r := New(t.TempDir(), newMemSessions())
	_, err := r.Route(context.Background(), "+++")
	assert.ErrorIs(t, err, ErrInvalidSender)

	sessions := newMemSessions()
	sessions.err = errors.New("store down")
	r = New(t.TempDir(), sessions)
	_, err = r.Route(context.Background(), "alice@example.com")
	assert.ErrorContains(t, err, "store down")
}

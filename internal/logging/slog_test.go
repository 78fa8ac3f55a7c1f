package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false, FormatText)
	logger.Info("hello", "k", "v")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") {
		t.Errorf("text output missing message: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message should be filtered at info level: %q", out)
	}
}

func TestNew_JSONFormatDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, true, FormatJSON)
	logger.Debug("visible", MessageID("m1"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "visible" {
		t.Errorf("msg = %v, want visible", entry["msg"])
	}
	if entry[KeyMessageID] != "m1" {
		t.Errorf("%s = %v, want m1", KeyMessageID, entry[KeyMessageID])
	}
}

func TestWithOperation(t *testing.T) {
	logger := slog.Default()
	result := WithOperation(logger, "bridge.cycle")
	if result == nil {
		t.Error("WithOperation returned nil")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(&buf, false, FormatText), "poller")
	logger.Info("x")
	if !strings.Contains(buf.String(), "component=poller") {
		t.Errorf("component attribute missing: %q", buf.String())
	}
}

func TestAttrHelpers(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"operation", Operation("poll"), KeyOperation, "poll"},
		{"message id", MessageID("m1"), KeyMessageID, "m1"},
		{"thread id", ThreadID("t1"), KeyThreadID, "t1"},
		{"sender key", SenderKey("alice_at_example_dot_com"), KeySenderKey, "alice_at_example_dot_com"},
		{"run id", RunID("r-1"), KeyRunID, "r-1"},
		{"status", Status(StatusSuccess), KeyStatus, StatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.wantKey)
			}
			if tt.attr.Value.String() != tt.wantVal {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.wantVal)
			}
		})
	}
}

func TestErr(t *testing.T) {
	err := errors.New("test error")
	attr := Err(err)
	if attr.Key != KeyError {
		t.Errorf("Err key = %q, want %q", attr.Key, KeyError)
	}
	if attr.Value.String() != "test error" {
		t.Errorf("Err value = %q, want %q", attr.Value.String(), "test error")
	}

	// Empty Group has empty key
	attr = Err(nil)
	if attr.Key != "" {
		t.Errorf("Err(nil) key = %q, want empty string (empty group)", attr.Key)
	}
}

func TestAnonymizeEmail(t *testing.T) {
	tests := []struct {
		email    string
		wantLen  int
		hasValue bool
	}{
		{"jane@example.com", 23, true}, // "sender:" + 16 hex chars
		{"user@gmail.com", 23, true},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			result := AnonymizeEmail(tt.email)
			if !tt.hasValue {
				if result != "" {
					t.Errorf("AnonymizeEmail(%q) = %q, want empty string", tt.email, result)
				}
				return
			}
			if len(result) != tt.wantLen {
				t.Errorf("AnonymizeEmail(%q) length = %d, want %d", tt.email, len(result), tt.wantLen)
			}
			if !strings.HasPrefix(result, "sender:") {
				t.Errorf("AnonymizeEmail(%q) should start with 'sender:', got %q", tt.email, result)
			}
		})
	}

	if AnonymizeEmail("Test@Example.com") != AnonymizeEmail("test@example.com") {
		t.Error("AnonymizeEmail should ignore case")
	}
	if AnonymizeEmail("test@example.com") == AnonymizeEmail("other@example.com") {
		t.Error("Different emails should produce different hashes")
	}
}

func TestSenderHash(t *testing.T) {
	attr := SenderHash("jane@example.com")
	if attr.Key != KeySenderHash {
		t.Errorf("SenderHash key = %q, want %q", attr.Key, KeySenderHash)
	}
	if strings.Contains(attr.Value.String(), "jane") {
		t.Errorf("SenderHash leaked the address: %q", attr.Value.String())
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", "<empty>"},
		{"abc123", "[token:6 chars]"},
		{"a_very_long_token_string", "[token:24 chars]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := SanitizeToken(tt.token); got != tt.expected {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, got, tt.expected)
			}
		})
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		email    string
		expected string
	}{
		{"jane@example.com", "example.com"},
		{"user@Gmail.COM", "gmail.com"},
		{"invalid", ""},
		{"", ""},
		{"@", ""},
		{"user@", ""},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := ExtractDomain(tt.email); got != tt.expected {
				t.Errorf("ExtractDomain(%q) = %q, want %q", tt.email, got, tt.expected)
			}
		})
	}
}

func TestDomain(t *testing.T) {
	attr := Domain("jane@example.com")
	if attr.Key != "sender_domain" {
		t.Errorf("Domain key = %q, want %q", attr.Key, "sender_domain")
	}
	if attr.Value.String() != "example.com" {
		t.Errorf("Domain value = %q, want %q", attr.Value.String(), "example.com")
	}
}

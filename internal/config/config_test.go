package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ncsync/uploadd/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
address: https://cloud.example.com
username: alice
password: secret
local_path: /tmp/watched
`

func TestLoad_Valid(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Address != "https://cloud.example.com" {
		t.Errorf("Address = %q, want %q", cfg.Address, "https://cloud.example.com")
	}
	if cfg.Username != "alice" {
		t.Errorf("Username = %q, want %q", cfg.Username, "alice")
	}
	if cfg.Password != "secret" {
		t.Errorf("Password = %q, want %q", cfg.Password, "secret")
	}
	if cfg.LocalPath != "/tmp/watched" {
		t.Errorf("LocalPath = %q, want %q", cfg.LocalPath, "/tmp/watched")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeTemp(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "json")
	}
	if cfg.RecentEvents != 100 {
		t.Errorf("RecentEvents = %d, want 100", cfg.RecentEvents)
	}
	if cfg.StatusAddr != "" || cfg.JournalPath != "" {
		t.Errorf("optional surfaces should be disabled by default: %+v", cfg)
	}
}

func TestLoad_OptionalFields(t *testing.T) {
	yaml := validYAML + `
log_level: debug
log_format: text
event_buffer: 256
status_addr: "127.0.0.1:9310"
journal_path: /var/lib/uploadd/journal.log
recent_events: 10
`
	cfg, err := config.Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "text" {
		t.Errorf("log settings = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.EventBuffer != 256 {
		t.Errorf("EventBuffer = %d, want 256", cfg.EventBuffer)
	}
	if cfg.StatusAddr != "127.0.0.1:9310" {
		t.Errorf("StatusAddr = %q", cfg.StatusAddr)
	}
	if cfg.JournalPath != "/var/lib/uploadd/journal.log" {
		t.Errorf("JournalPath = %q", cfg.JournalPath)
	}
	if cfg.RecentEvents != 10 {
		t.Errorf("RecentEvents = %d, want 10", cfg.RecentEvents)
	}
}

func TestLoad_EmptyAndQuotedStrings(t *testing.T) {
	content := `
address: "42"
username: ''
password: ""
local_path: '3.5'
`
	cfg, err := config.Load(writeTemp(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Address != "42" || cfg.LocalPath != "3.5" {
		t.Errorf("quoted scalars = %q/%q, want 42/3.5", cfg.Address, cfg.LocalPath)
	}
	if cfg.Username != "" || cfg.Password != "" {
		t.Errorf("empty strings = %q/%q, want empty", cfg.Username, cfg.Password)
	}
}

func TestLoad_AllScalarsWrongType(t *testing.T) {
	_, err := config.Load(writeTemp(t, "address: 42\nusername: true\npassword: 1234\nlocal_path: 3.5\n"))
	if !errors.Is(err, config.ErrParse) {
		t.Fatalf("expected ErrParse, got: %v", err)
	}
	for _, want := range []string{"address", "username", "password", "local_path"} {
		if !strings.Contains(err.Error(), want+" must be a string") {
			t.Errorf("error %q does not reject %s", err, want)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !errors.Is(err, config.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist in chain, got: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
}

func TestLoad_DirectoryIsUnreadable(t *testing.T) {
	_, err := config.Load(t.TempDir())
	if !errors.Is(err, config.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a directory, got: %v", err)
	}
}

func TestLoad_ParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "readme",
			content: "# uploadd\n\nWatches a directory and uploads finished files.\n",
		},
		{
			name:    "malformed yaml",
			content: "address: [unclosed\nusername: alice\n",
		},
		{
			name:    "empty document",
			content: "",
			wantMsg: "empty",
		},
		{
			name:    "wrong type",
			content: "address: https://cloud.example.com\nusername: [alice, bob]\npassword: secret\nlocal_path: /tmp/watched\n",
		},
		{
			name:    "boolean username",
			content: "address: https://cloud.example.com\nusername: true\npassword: secret\nlocal_path: /tmp/watched\n",
			wantMsg: "username must be a string",
		},
		{
			name:    "integer password",
			content: "address: https://cloud.example.com\nusername: alice\npassword: 1234\nlocal_path: /tmp/watched\n",
			wantMsg: "password must be a string",
		},
		{
			name:    "float local_path",
			content: "address: https://cloud.example.com\nusername: alice\npassword: secret\nlocal_path: 3.5\n",
			wantMsg: "local_path must be a string",
		},
		{
			name:    "null address",
			content: "address:\nusername: alice\npassword: secret\nlocal_path: /tmp/watched\n",
			wantMsg: "address must be a string",
		},
		{
			name:    "unknown key",
			content: validYAML + "remote_dir: /uploads\n",
			wantMsg: "remote_dir",
		},
		{
			name:    "missing address",
			content: "username: alice\npassword: secret\nlocal_path: /tmp/watched\n",
			wantMsg: "address is required",
		},
		{
			name:    "missing username",
			content: "address: https://cloud.example.com\npassword: secret\nlocal_path: /tmp/watched\n",
			wantMsg: "username is required",
		},
		{
			name:    "missing password",
			content: "address: https://cloud.example.com\nusername: alice\nlocal_path: /tmp/watched\n",
			wantMsg: "password is required",
		},
		{
			name:    "missing local_path",
			content: "address: https://cloud.example.com\nusername: alice\npassword: secret\n",
			wantMsg: "local_path is required",
		},
		{
			name:    "bad log level",
			content: validYAML + "log_level: verbose\n",
			wantMsg: "log_level",
		},
		{
			name:    "bad log format",
			content: validYAML + "log_format: xml\n",
			wantMsg: "log_format",
		},
		{
			name:    "negative buffer",
			content: validYAML + "event_buffer: -1\n",
			wantMsg: "event_buffer",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.Load(writeTemp(t, tc.content))
			if err == nil {
				t.Fatalf("expected error, got config %+v", cfg)
			}
			if !errors.Is(err, config.ErrParse) {
				t.Errorf("expected ErrParse, got: %v", err)
			}
			if errors.Is(err, config.ErrNotFound) {
				t.Errorf("parse failure must not match ErrNotFound: %v", err)
			}
			if cfg != nil {
				t.Errorf("expected nil config on error, got %+v", cfg)
			}
			if tc.wantMsg != "" && !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestLoad_BinaryContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not_yaml.bin")
	if err := os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x80, 0x81, 0x9f, 0x03, 0x7f}, 0o600); err != nil {
		t.Fatalf("write binary file: %v", err)
	}
	_, err := config.Load(path)
	if !errors.Is(err, config.ErrParse) {
		t.Fatalf("expected ErrParse for binary content, got: %v", err)
	}
}

func TestLoad_MultipleValidationErrors(t *testing.T) {
	_, err := config.Load(writeTemp(t, "log_level: loud\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"address", "username", "password", "local_path", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg, err := config.Load(writeTemp(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := cfg.Redacted()
	if r.Password == "secret" || r.Password == "" {
		t.Errorf("Redacted().Password = %q, want a mask", r.Password)
	}
	if cfg.Password != "secret" {
		t.Errorf("Redacted mutated the original config")
	}
	if r.Username != "alice" || r.LocalPath != "/tmp/watched" {
		t.Errorf("Redacted changed non-secret fields: %+v", r)
	}
}

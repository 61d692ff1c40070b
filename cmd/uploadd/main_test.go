package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ncsync/uploadd/internal/config"
	"github.com/ncsync/uploadd/internal/journal"
	"github.com/ncsync/uploadd/internal/watcher"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "uploadd ") {
		t.Errorf("output = %q", out)
	}
}

func TestCheckConfig_Valid(t *testing.T) {
	path := writeConfig(t, `
address: https://cloud.example.com
username: alice
password: s3cret
local_path: /srv/upload
`)
	out, err := execute(t, "--config", path, "check-config")
	if err != nil {
		t.Fatalf("check-config: %v", err)
	}
	if strings.Contains(out, "s3cret") {
		t.Errorf("password leaked in output:\n%s", out)
	}
	for _, want := range []string{"username: alice", "local_path: /srv/upload", "log_level: info"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckConfig_Errors(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "check-config")
	if !errors.Is(err, config.ErrNotFound) {
		t.Errorf("missing file: got %v, want ErrNotFound", err)
	}

	path := writeConfig(t, "address: [unterminated\n")
	_, err = execute(t, "--config", path, "check-config")
	if !errors.Is(err, config.ErrParse) {
		t.Errorf("malformed file: got %v, want ErrParse", err)
	}
}

func TestVerifyJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, p := range []string{"/w/a", "/w/b"} {
		if _, err := j.Append(watcher.Event{ID: p, Path: p, Time: time.Now().UTC()}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	_ = j.Close()

	out, err := execute(t, "verify-journal", path)
	if err != nil {
		t.Fatalf("verify-journal: %v", err)
	}
	if !strings.Contains(out, "2 entries, chain intact") {
		t.Errorf("output = %q", out)
	}

	if err := os.WriteFile(path, []byte("garbage\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "verify-journal", path); !errors.Is(err, journal.ErrChainBroken) {
		t.Errorf("got %v, want ErrChainBroken", err)
	}
}

func TestVerifyJournal_RequiresPath(t *testing.T) {
	if _, err := execute(t, "verify-journal"); err == nil {
		t.Error("expected an argument error")
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	newLogger("info", "json", &buf).Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	newLogger("info", "text", &buf).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}

	buf.Reset()
	newLogger("warn", "json", &buf).Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
}

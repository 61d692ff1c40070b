// Package config provides YAML configuration loading and validation for the
// uploadd daemon.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is matched by errors returned from Load when the configuration
// file does not exist or cannot be read.
var ErrNotFound = errors.New("configuration file not found or unreadable")

// ErrParse is matched by errors returned from Load when the file is not a
// well-formed configuration document: invalid YAML, wrong field types,
// unknown keys, or missing required fields.
var ErrParse = errors.New("configuration file is not valid")

// Config is the top-level configuration structure for the uploadd daemon.
type Config struct {
	// Address is the remote WebDAV endpoint that changed files are destined
	// for (e.g. "https://cloud.example.com"). Required. Not interpreted by
	// the watcher.
	Address string `yaml:"address"`

	// Username and Password are the remote credentials. Required.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// LocalPath is the root of the directory tree to watch. Required.
	LocalPath string `yaml:"local_path"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level,omitempty"`

	// LogFormat selects the slog handler: "json" (default) or "text".
	LogFormat string `yaml:"log_format,omitempty"`

	// EventBuffer is the capacity of the write-close event channel. Zero
	// uses the watcher default.
	EventBuffer int `yaml:"event_buffer,omitempty"`

	// StatusAddr is the listen address of the local status server
	// (e.g. "127.0.0.1:9310"). Empty disables the server.
	StatusAddr string `yaml:"status_addr,omitempty"`

	// JournalPath is the file that dispatched events are recorded in.
	// Empty disables the journal.
	JournalPath string `yaml:"journal_path,omitempty"`

	// RecentEvents is how many dispatched events the status server keeps
	// in memory. Defaults to 100.
	RecentEvents int `yaml:"recent_events,omitempty"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// Load reads the YAML file at path, decodes it into Config, applies defaults,
// and validates all required fields. Either a fully populated Config or an
// error is returned, never both.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w: %w", path, ErrNotFound, err)
	}

	cfg, fields, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w: %w", path, ErrParse, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg, fields); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w: %w", path, ErrParse, err)
	}

	return cfg, nil
}

// requiredKeys must be present in every configuration and hold a string
// value. An empty string is accepted.
var requiredKeys = []string{"address", "username", "password", "local_path"}

// decode strictly unmarshals a single YAML document. Unknown keys are
// rejected so that a typo in an optional key does not go unnoticed. The
// top-level mapping is also returned as raw nodes, keeping the scalar tags
// that decoding into a string field discards.
func decode(data []byte) (*Config, map[string]yaml.Node, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("document is empty")
		}
		return nil, nil, err
	}

	var fields map[string]yaml.Node
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, nil, err
	}
	return &cfg, fields, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.RecentEvents == 0 {
		cfg.RecentEvents = 100
	}
}

// validate checks that all required keys are present with string values and
// that enumerated fields contain only valid values. No format checks are made
// on the address or the credentials.
func validate(cfg *Config, fields map[string]yaml.Node) error {
	var errs []error

	for _, key := range requiredKeys {
		node, ok := fields[key]
		if !ok {
			errs = append(errs, fmt.Errorf("%s is required", key))
			continue
		}
		switch tag := node.ShortTag(); tag {
		case "!!str", "!!timestamp":
			// yaml.v3 resolves unquoted dates as timestamps; they are still
			// plain text to the daemon.
		default:
			errs = append(errs, fmt.Errorf("%s must be a string, got %s", key, tag))
		}
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if !validLogFormats[cfg.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format %q must be one of: json, text", cfg.LogFormat))
	}
	if cfg.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("event_buffer %d must not be negative", cfg.EventBuffer))
	}
	if cfg.RecentEvents < 0 {
		errs = append(errs, fmt.Errorf("recent_events %d must not be negative", cfg.RecentEvents))
	}

	return errors.Join(errs...)
}

// Redacted returns a copy of cfg that is safe to log: the password is
// replaced by a fixed mask.
func (c *Config) Redacted() Config {
	out := *c
	if out.Password != "" {
		out.Password = "********"
	}
	return out
}

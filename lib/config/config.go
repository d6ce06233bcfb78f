// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable consulted by [Load].
const EnvConfig = "LLMTAP_CONFIG"

// QueuePolicy selects how the capture side channel behaves when the
// consumer falls behind the tee point.
type QueuePolicy string

const (
	// DropOldest evicts the oldest queued capture events to make room.
	// The wrapped call never waits on capture.
	DropOldest QueuePolicy = "drop-oldest"

	// Block makes the tee point wait for room. Capture is complete but
	// a slow consumer adds latency to the wrapped call.
	Block QueuePolicy = "block"
)

// Config is the llmtap configuration.
type Config struct {
	// OutputDir receives session and capture artifacts, and holds the
	// per-session journals under sessions/.
	// Default: ./llmtap-captures
	OutputDir string `yaml:"output_dir"`

	// AgentName is recorded in every artifact to identify the observed
	// program (e.g., "gemini-cli").
	AgentName string `yaml:"agent_name"`

	// SessionID is the default conversation id for requests that do not
	// carry one. Empty means such requests go to a single-shot capture.
	SessionID string `yaml:"session_id"`

	// Verbose enables debug logging, header capture, and raw bodies.
	Verbose bool `yaml:"verbose"`

	// RetainRawBodies keeps request and response bodies in records.
	RetainRawBodies bool `yaml:"retain_raw_bodies"`

	// Listen is the loopback address of the capture proxy.
	// Default: 127.0.0.1:0 (ephemeral port)
	Listen string `yaml:"listen"`

	// Queue configures the side channel between the tee and the
	// correlator.
	Queue QueueConfig `yaml:"queue"`
}

// QueueConfig configures the bounded capture event queue.
type QueueConfig struct {
	// Capacity is the maximum number of queued events.
	// Default: 4096
	Capacity int `yaml:"capacity"`

	// MaxBytes bounds the total payload bytes held by queued events.
	// Default: 64 MiB
	MaxBytes int `yaml:"max_bytes"`

	// Policy is the backpressure policy: "drop-oldest" or "block".
	// Default: drop-oldest
	Policy QueuePolicy `yaml:"policy"`
}

// Default returns the default configuration. File values are merged
// over it.
func Default() *Config {
	return &Config{
		OutputDir: "llmtap-captures",
		AgentName: "agent",
		Listen:    "127.0.0.1:0",
		Queue: QueueConfig{
			Capacity: 4096,
			MaxBytes: 64 << 20,
			Policy:   DropOldest,
		},
	}
}

// Load loads configuration from the file named by LLMTAP_CONFIG. The
// second return is false when the variable is unset, in which case the
// defaults are returned.
func Load() (*Config, bool, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return Default(), false, nil
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, true, err
	}
	return cfg, true, nil
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so once comments and trailing
		// commas are stripped the YAML decoder handles both formats
		// with one set of struct tags.
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.OutputDir = expandVars(c.OutputDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.OutputDir == "" {
		errs = append(errs, fmt.Errorf("output_dir is required"))
	}
	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen is required"))
	}
	if c.Queue.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity))
	}
	if c.Queue.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("queue.max_bytes must be positive, got %d", c.Queue.MaxBytes))
	}
	switch c.Queue.Policy {
	case DropOldest, Block:
	default:
		errs = append(errs, fmt.Errorf("queue.policy must be %q or %q, got %q", DropOldest, Block, c.Queue.Policy))
	}

	return errors.Join(errs...)
}

// KeepRawBodies reports whether records should carry raw bodies.
// Verbose mode implies raw-body retention.
func (c *Config) KeepRawBodies() bool {
	return c.RetainRawBodies || c.Verbose
}

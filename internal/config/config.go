// Package config loads and watches the control plane's YAML configuration:
// listen address, working directory, named sandboxes, and AWS credential
// delivery mode. The Load/Save/Watch shape is carried over from the
// teacher's config package; the field set is entirely new.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const appName = "freeitw"

// DefaultListenAddr is used when Config.ListenAddr is empty.
const DefaultListenAddr = ":3000"

// DefaultWorkDir is used when Config.WorkDir is empty.
const DefaultWorkDir = "/tmp/freeitw_wd"

// AWSConfig controls AWS credential delivery to Namespaced sandboxes.
// Two modes:
//  1. allow_raw_credentials: true -- children read ~/.aws/credentials directly (no blocking, no IMDS server).
//  2. force_profile: "name" -- an IMDS server is started and children are pointed at it; ~/.aws and ~/.ssh are hidden.
type AWSConfig struct {
	AllowRawCredentials *bool  `yaml:"allow_raw_credentials,omitempty"`
	ForceProfile        string `yaml:"force_profile,omitempty"`
}

// AllowsRawCredentials reports whether children may read ~/.aws directly.
func (a *AWSConfig) AllowsRawCredentials() bool {
	return a != nil && a.AllowRawCredentials != nil && *a.AllowRawCredentials
}

// UsesIMDS reports whether an IMDS credential broker should be started.
func (a *AWSConfig) UsesIMDS() bool {
	return a != nil && a.ForceProfile != ""
}

// IMDSProfile returns the AWS profile IMDS-mode credentials are sourced
// from. Only meaningful when UsesIMDS() is true.
func (a *AWSConfig) IMDSProfile() string {
	if a == nil {
		return ""
	}
	return a.ForceProfile
}

// SandboxConfig describes one Namespaced sandbox entry. The Host sandbox is
// always present and is not configurable here.
type SandboxConfig struct {
	IsolationFlags []string `yaml:"isolation_flags,omitempty"`
	UseAWS         bool     `yaml:"use_aws,omitempty"`
}

// Config holds the control plane's settings. Unknown YAML fields are
// silently ignored for forward compatibility.
type Config struct {
	ListenAddr       string                   `yaml:"listen_addr,omitempty"`
	WorkDir          string                   `yaml:"work_dir,omitempty"`
	Sandboxes        map[string]SandboxConfig `yaml:"sandboxes,omitempty"`
	AWS              *AWSConfig               `yaml:"aws,omitempty"`
	RequiredBinaries []string                 `yaml:"required_binaries,omitempty"`
}

// EffectiveListenAddr returns ListenAddr, or DefaultListenAddr if unset.
func (c *Config) EffectiveListenAddr() string {
	if c == nil || c.ListenAddr == "" {
		return DefaultListenAddr
	}
	return c.ListenAddr
}

// EffectiveWorkDir returns WorkDir, or DefaultWorkDir if unset.
func (c *Config) EffectiveWorkDir() string {
	if c == nil || c.WorkDir == "" {
		return DefaultWorkDir
	}
	return c.WorkDir
}

// Path returns the platform-appropriate config file path. If the
// FREEITW_CONFIG env var is set, that path is used directly.
func Path() (string, error) {
	if p := os.Getenv("FREEITW_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine config directory: %w", err)
	}
	return filepath.Join(dir, appName, "config.yaml"), nil
}

// Load reads and parses the config file. If the file does not exist, a
// zero-value Config is returned with no error.
func Load() (*Config, error) {
	p, err := Path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg to the YAML config file, creating its directory if
// needed.
func Save(cfg *Config) error {
	p, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Watch monitors the config file for changes and calls onChange with the
// newly loaded Config. It blocks until ctx is cancelled. If the config
// directory does not exist yet, Watch creates it so fsnotify can watch it.
//
// listen_addr is read once at startup (restarting the process is required
// to change it). work_dir is also used at startup to provision the
// sandbox directories; a reload that changes it points rebuilt sandboxes
// at the new directory without re-running that provisioning. Everything
// else -- sandbox isolation flags, AWS mode -- is safe to reload live, and
// callers should treat every onChange invocation as a full config
// replacement.
func Watch(ctx context.Context, onChange func(*Config)) error {
	p, err := Path()
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(p) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cfg, err := Load()
				if err != nil {
					slog.Error("failed to reload config", "error", err)
					continue
				}
				onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

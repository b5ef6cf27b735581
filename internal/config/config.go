package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/credstore/internal/keychain"
)

// Config holds persistent configuration loaded from ~/.credstore/config.yaml.
type Config struct {
	Backend   string  `yaml:"backend"`
	Workers   int     `yaml:"workers"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	LogLevel  string  `yaml:"log_level"`
	AuditLog  string  `yaml:"audit_log"`
	APIAddr   string  `yaml:"api_addr"`
	Keyring   Keyring `yaml:"keyring"`
}

// Keyring configures the 99designs/keyring backend.
type Keyring struct {
	Backends     []string `yaml:"backends"`
	FileDir      string   `yaml:"file_dir"`
	KeychainName string   `yaml:"keychain_name"`
}

// Home returns the credstore home directory (~/.credstore).
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".credstore")
}

// DefaultPath returns the default config file path: ~/.credstore/config.yaml.
func DefaultPath() string {
	h := Home()
	if h == "" {
		return ""
	}
	return filepath.Join(h, "config.yaml")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		Backend:   keychain.BackendAuto,
		RateBurst: 1,
		LogLevel:  "info",
	}
	if h := Home(); h != "" {
		cfg.AuditLog = filepath.Join(h, "audit.log")
		cfg.Keyring.FileDir = filepath.Join(h, "keyring")
	}
	return cfg
}

// Load reads a YAML config file from path over the defaults. A missing,
// empty or all-comment file yields the defaults and no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.AuditLog = expandHome(cfg.AuditLog)
	cfg.Keyring.FileDir = expandHome(cfg.Keyring.FileDir)
	return cfg, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Backend != "" && !slices.Contains(keychain.BackendNames, c.Backend) {
		return fmt.Errorf("backend %q: must be one of %s", c.Backend, strings.Join(keychain.BackendNames, ", "))
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative, got %v", c.RateLimit)
	}
	if c.RateBurst < 0 {
		return fmt.Errorf("rate_burst must not be negative, got %d", c.RateBurst)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel parses a log level name; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", s, err)
	}
	return l, nil
}

// StoreConfig returns the backend selection for keychain.Open.
func (c *Config) StoreConfig() keychain.BackendConfig {
	return keychain.BackendConfig{
		Name: c.Backend,
		Keyring: keychain.KeyringConfig{
			Backends:     c.Keyring.Backends,
			FileDir:      c.Keyring.FileDir,
			KeychainName: c.Keyring.KeychainName,
		},
	}
}

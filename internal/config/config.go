package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

type (
	Config struct {
		Gateway   GatewayConfig   `yaml:"gateway"`
		Logging   LoggingConfig   `yaml:"logging"`
		Cron      CronConfig      `yaml:"cron"`
		Heartbeat HeartbeatConfig `yaml:"heartbeat"`
		Session   SessionConfig   `yaml:"session"`
	}

	GatewayConfig struct {
		Bind            string           `yaml:"bind"`
		BindScope       string           `yaml:"bind_scope"` // "loopback" | "all"
		Auth            GatewayAuthConfig `yaml:"auth"`
		NodeMethods     []string         `yaml:"node_methods"`
		OriginAllowlist []string         `yaml:"origin_allowlist"`
		TrustedProxies  []string         `yaml:"trusted_proxies"`
	}

	GatewayAuthConfig struct {
		Token            string `yaml:"token"`
		Password         string `yaml:"password"`
		AllowLocalBypass bool   `yaml:"allow_local_bypass"`
		TailscaleProxy   bool   `yaml:"tailscale_proxy"`
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
	}

	CronConfig struct {
		Enabled                   *bool  `yaml:"enabled"`
		MaxConcurrentRuns         int    `yaml:"max_concurrent_runs"`
		DefaultJobTimeoutSec      int    `yaml:"default_job_timeout_sec"`
		EphemeralSessionRetention string `yaml:"ephemeral_session_retention"` // duration string, or "never"
	}

	HeartbeatConfig struct {
		Enabled        bool  `yaml:"enabled"`
		DefaultEveryMs int64 `yaml:"default_every_ms"`
		AckMaxChars    int   `yaml:"ack_max_chars"`
	}

	SessionConfig struct {
		StorePath string `yaml:"store_path"`
	}
)

// UpdateByName applies a named top-level section replacement, used by
// InstanceManager.ApplyWithCAS.
func (c *Config) UpdateByName(name string, value any) error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "config":
		typed, ok := value.(*Config)
		if !ok || typed == nil {
			return fmt.Errorf("name 'config' requires *Config")
		}
		*c = *typed
	case "gateway":
		typed, ok := value.(*GatewayConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'gateway' requires *GatewayConfig")
		}
		c.Gateway = *typed
	case "logging":
		typed, ok := value.(*LoggingConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'logging' requires *LoggingConfig")
		}
		c.Logging = *typed
	case "cron":
		typed, ok := value.(*CronConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'cron' requires *CronConfig")
		}
		c.Cron = *typed
	case "heartbeat":
		typed, ok := value.(*HeartbeatConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'heartbeat' requires *HeartbeatConfig")
		}
		c.Heartbeat = *typed
	case "session":
		typed, ok := value.(*SessionConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'session' requires *SessionConfig")
		}
		c.Session = *typed
	default:
		return fmt.Errorf("unsupported config name: %s", name)
	}

	return nil
}

// Clone returns a deep copy of c via a marshal/unmarshal round trip.
func (c *Config) Clone() (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("config is nil")
	}

	raw, err := sonic.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var cloned Config
	if err := sonic.Unmarshal(raw, &cloned); err != nil {
		return nil, fmt.Errorf("unmarshal config clone: %w", err)
	}

	return &cloned, nil
}

// Hash returns a stable content hash used for optimistic-concurrency CAS on
// ApplyWithCAS.
func (c *Config) Hash() string {
	json := sonic.Config{SortMapKeys: true, UseNumber: true}.Froze()
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

package config

import (
	"errors"
	"strings"
)

const (
	defaultBind                 = ":18789"
	defaultMaxConcurrentRuns     = 1
	defaultJobTimeoutSec         = 600 // 10 minutes, per §4.E
	defaultEphemeralRetention    = "24h"
	defaultHeartbeatEveryMs      = 30 * 60 * 1000
	defaultHeartbeatAckMaxChars  = 280
)

// defaultNodeMethods is the fallback node-role allowlist when the config
// omits gateway.node_methods (Open Question #1: the allowlist is
// configuration, not hardcoded, but needs a safe default).
var defaultNodeMethods = []string{"node.invoke.result", "node.heartbeat"}

// Validate normalizes zero-valued fields to their documented defaults and
// rejects structurally invalid configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	c.Gateway.Bind = strings.TrimSpace(c.Gateway.Bind)
	if c.Gateway.Bind == "" {
		c.Gateway.Bind = defaultBind
	}
	c.Gateway.BindScope = strings.ToLower(strings.TrimSpace(c.Gateway.BindScope))
	switch c.Gateway.BindScope {
	case "":
		c.Gateway.BindScope = "loopback"
	case "loopback", "all":
	default:
		return errors.New("gateway.bind_scope must be \"loopback\" or \"all\"")
	}
	if len(c.Gateway.NodeMethods) == 0 {
		c.Gateway.NodeMethods = append([]string(nil), defaultNodeMethods...)
	}

	if c.Cron.Enabled == nil {
		enabled := true
		c.Cron.Enabled = &enabled
	}
	if c.Cron.MaxConcurrentRuns <= 0 {
		c.Cron.MaxConcurrentRuns = defaultMaxConcurrentRuns
	}
	if c.Cron.DefaultJobTimeoutSec <= 0 {
		c.Cron.DefaultJobTimeoutSec = defaultJobTimeoutSec
	}
	c.Cron.EphemeralSessionRetention = strings.TrimSpace(c.Cron.EphemeralSessionRetention)
	if c.Cron.EphemeralSessionRetention == "" {
		c.Cron.EphemeralSessionRetention = defaultEphemeralRetention
	}

	if c.Heartbeat.DefaultEveryMs <= 0 {
		c.Heartbeat.DefaultEveryMs = defaultHeartbeatEveryMs
	}
	if c.Heartbeat.AckMaxChars <= 0 {
		c.Heartbeat.AckMaxChars = defaultHeartbeatAckMaxChars
	}

	return nil
}

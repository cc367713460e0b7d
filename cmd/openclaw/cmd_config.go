package main

import (
	"os"

	"github.com/openclaw/core/internal/config"
	"github.com/openclaw/core/internal/consts"
)

// loadConfigOrDefault loads the on-disk config if one exists, or an
// unvalidated zero-value Config (whose GatewayConfig.Bind empty string
// probe.FormatAddr treats as the default loopback port) so "status" still
// reports something sensible before the wizard has ever run.
func loadConfigOrDefault() (*config.Config, error) {
	path := consts.DefaultConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

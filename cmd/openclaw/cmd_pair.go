package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/openclaw/core/internal/consts"
	"github.com/openclaw/core/internal/gateway/authn"
)

var pairHwd = &PairRunner{}

// PairRunner registers a new device's public key into the device identity
// registry (SPEC_FULL.md's "Supplemented Features": spec.md's device-
// identity auth mode verifies "against the public key previously
// registered for deviceId" but never says how it got there).
type PairRunner struct{}

func (r *PairRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "pair",
		Usage: "Register a device's ed25519 public key for device-identity auth",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device-id", Required: true, Usage: "Stable id the device will present as deviceId"},
			&cli.StringFlag{Name: "public-key", Required: true, Usage: "Base64-encoded ed25519 public key"},
			&cli.StringFlag{Name: "role", Value: "operator", Usage: "Role to grant: operator or node"},
			&cli.StringSliceFlag{Name: "scope", Usage: "Scope to grant (repeatable); defaults to operator.admin for role=operator"},
		},
		Action: r.run,
	}
}

func (r *PairRunner) run(_ context.Context, cmd *cli.Command) error {
	deviceID := strings.TrimSpace(cmd.String("device-id"))
	pubB64 := strings.TrimSpace(cmd.String("public-key"))
	role := strings.TrimSpace(cmd.String("role"))
	scopes := cmd.StringSlice("scope")

	if deviceID == "" || pubB64 == "" {
		return fmt.Errorf("--device-id and --public-key are required")
	}
	if len(scopes) == 0 {
		if role == "node" {
			scopes = []string{"operator.read"}
		} else {
			scopes = []string{"operator.admin"}
		}
	}

	raw, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("public key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}

	registry := authn.NewDeviceRegistry(consts.DevicePublicKeyRegistryPath())
	if err := registry.Load(); err != nil {
		return fmt.Errorf("load device registry: %w", err)
	}
	if err := registry.Register(deviceID, role, scopes, ed25519.PublicKey(raw), nowMs()); err != nil {
		return fmt.Errorf("register device: %w", err)
	}

	fmt.Printf("paired device %q as role %q with scopes %v\n", deviceID, role, scopes)
	return nil
}

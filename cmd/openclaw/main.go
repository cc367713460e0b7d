package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/openclaw/core/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "openclaw",
		Usage: "openclaw gateway service lifecycle and device pairing",
		Commands: []*cli.Command{
			gatewayHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("command execution failed: %v", err)
		os.Exit(1)
	}
}

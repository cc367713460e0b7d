package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/openclaw/core/internal/consts"
	"github.com/openclaw/core/internal/probe"
)

var gatewayHwd = &GatewayRunner{}

// GatewayRunner implements the §6 CLI surface: install, uninstall, start,
// stop, restart, status. install/uninstall would hand off to platform-native
// service configuration (launchd/systemd/Task Scheduler), which spec.md
// places out of scope as "interfaces only" — here they report that plainly
// rather than faking success. start/stop/restart manage the
// openclaw-gatewayd daemon directly via a pidfile; status is the TCP probe
// the spec says is the only interface the core exposes to these commands.
type GatewayRunner struct{}

func (r *GatewayRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Manage the openclaw-gatewayd service lifecycle",
		Commands: []*cli.Command{
			{Name: "install", Usage: "Install the platform-native service unit", Action: r.install},
			{Name: "uninstall", Usage: "Remove the platform-native service unit", Action: r.uninstall},
			{Name: "start", Usage: "Start openclaw-gatewayd in the background", Action: r.start},
			{Name: "stop", Usage: "Stop the running openclaw-gatewayd", Action: r.stop},
			{Name: "restart", Usage: "Stop then start openclaw-gatewayd", Action: r.restart},
			{Name: "status", Usage: "Probe whether the gateway is accepting connections", Action: r.status},
			pairHwd.cmd(),
		},
	}
}

// servicePlatformUnsupportedMsg names the single reason every install/
// uninstall call fails: there is no platform service manager integration in
// this core, by design (spec.md §1 Non-goals).
const servicePlatformUnsupportedMsg = "platform-native service installation is not implemented by this core; " +
	"install/uninstall must be wired to your platform's service manager (launchd, systemd, Task Scheduler) separately"

func (r *GatewayRunner) install(_ context.Context, _ *cli.Command) error {
	return fmt.Errorf(servicePlatformUnsupportedMsg)
}

func (r *GatewayRunner) uninstall(_ context.Context, _ *cli.Command) error {
	return fmt.Errorf(servicePlatformUnsupportedMsg)
}

func (r *GatewayRunner) start(ctx context.Context, _ *cli.Command) error {
	if pid, ok := readRunningPid(); ok {
		fmt.Printf("openclaw-gatewayd already running (pid %d)\n", pid)
		return nil
	}

	bin, err := gatewaydBinaryPath()
	if err != nil {
		return err
	}

	cmd := exec.Command(bin)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start openclaw-gatewayd: %w", err)
	}

	if err := os.MkdirAll(consts.StateDir(), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(consts.PidFilePath(), []byte(strconv.Itoa(cmd.Process.Pid)), 0o600); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}

	fmt.Printf("openclaw-gatewayd started (pid %d)\n", cmd.Process.Pid)
	return nil
}

func (r *GatewayRunner) stop(_ context.Context, _ *cli.Command) error {
	pid, ok := readRunningPid()
	if !ok {
		fmt.Println("openclaw-gatewayd is not running")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	_ = os.Remove(consts.PidFilePath())
	fmt.Printf("sent SIGTERM to openclaw-gatewayd (pid %d)\n", pid)
	return nil
}

func (r *GatewayRunner) restart(ctx context.Context, cmd *cli.Command) error {
	if err := r.stop(ctx, cmd); err != nil {
		return err
	}
	time.Sleep(500 * time.Millisecond)
	return r.start(ctx, cmd)
}

func (r *GatewayRunner) status(_ context.Context, _ *cli.Command) error {
	cfg, err := loadConfigOrDefault()
	if err != nil {
		return err
	}
	addr := probe.FormatAddr(cfg.Gateway.Bind)

	if probe.Status(addr, probe.DefaultTimeout) {
		fmt.Printf("gateway is running and accepting connections on %s\n", addr)
		return nil
	}
	fmt.Printf("gateway is not accepting connections on %s\n", addr)
	return cli.Exit("", 1)
}

func readRunningPid() (int, bool) {
	data, err := os.ReadFile(consts.PidFilePath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Signal 0 probes for existence without affecting the process.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

func gatewaydBinaryPath() (string, error) {
	if p, err := exec.LookPath("openclaw-gatewayd"); err == nil {
		return p, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate openclaw-gatewayd: %w", err)
	}
	sibling := filepath.Join(filepath.Dir(self), "openclaw-gatewayd")
	if _, err := os.Stat(sibling); err != nil {
		return "", fmt.Errorf("openclaw-gatewayd not found on PATH or next to %s", self)
	}
	return sibling, nil
}

package consts

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	StateDirEnv    = "OPENCLAW_STATE_DIR"
	ProfileEnv     = "OPENCLAW_PROFILE"
	baseDirName    = ".openclaw"
	ConfigFileName = "config.yaml"
)

// StateDir resolves the root directory the core persists to. OPENCLAW_STATE_DIR
// wins outright; otherwise it is $HOME/.openclaw, or $HOME/.openclaw-<profile>
// when OPENCLAW_PROFILE is set.
func StateDir() string {
	if dir := strings.TrimSpace(os.Getenv(StateDirEnv)); dir != "" {
		return dir
	}

	home, _ := os.UserHomeDir()
	name := baseDirName
	if profile := strings.TrimSpace(os.Getenv(ProfileEnv)); profile != "" {
		name = baseDirName + "-" + profile
	}
	return filepath.Join(home, name)
}

func DefaultConfigPath() string {
	return filepath.Join(StateDir(), ConfigFileName)
}

func SessionStorePath() string {
	return filepath.Join(StateDir(), "sessions.json")
}

func SessionStoreLockPath() string {
	return SessionStorePath() + ".lock"
}

func CronStoreDir() string {
	return filepath.Join(StateDir(), "cron")
}

func CronStorePath() string {
	return filepath.Join(CronStoreDir(), "jobs.json")
}

func DevicePublicKeyRegistryPath() string {
	return filepath.Join(StateDir(), "devices.json")
}

func LogFilePath() string {
	return filepath.Join(StateDir(), "logs", "openclaw.log")
}

// PidFilePath is where the "openclaw gateway start"/"stop" CLI commands
// record the daemon's process id. Platform-native service installation
// (launchd/systemd/Task Scheduler) is out of scope per spec.md; this
// pidfile is the minimal process-lifecycle bookkeeping the CLI needs to
// manage a foreground-spawned daemon itself.
func PidFilePath() string {
	return filepath.Join(StateDir(), "gatewayd.pid")
}

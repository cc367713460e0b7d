package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openclaw/core/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("OPENCLAW_STATE_DIR", t.TempDir())

	cfg := &config.Config{}
	cfg.Gateway.Bind = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_WiresCollaboratorGraphWithoutStarting(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, a.Sessions)
	require.NotNil(t, a.SysEvents)
	require.NotNil(t, a.Lanes)
	require.NotNil(t, a.Scheduler)
	require.NotNil(t, a.Heartbeats)
	require.NotNil(t, a.Gateway)
	require.NotNil(t, a.Devices)
}

func TestStartStop_BringsUpAndTearsDownEveryCollaborator(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Stop(context.Background()))
}

func TestParseEphemeralRetention(t *testing.T) {
	require.Equal(t, time.Duration(0), parseEphemeralRetention("never"))
	require.Equal(t, time.Duration(0), parseEphemeralRetention(""))
	require.Equal(t, 24*time.Hour, parseEphemeralRetention("24h"))
	require.Equal(t, time.Duration(0), parseEphemeralRetention("not-a-duration"))
}

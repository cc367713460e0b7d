package app

import (
	"context"
	"fmt"

	"github.com/openclaw/core/internal/agentexec"
	"github.com/openclaw/core/internal/coreerr"
)

// placeholderExecutor satisfies agentexec.Executor without performing model
// invocation. spec.md §4.G is explicit that "the core does not implement
// model invocation; it calls out via an interface" — a real deployment
// supplies its own Executor at wiring time (swap the value passed to
// app.New's collaborators); this default exists only so the daemon can
// start and exercise every other module before a provider is plugged in.
type placeholderExecutor struct{}

func NewPlaceholderExecutor() agentexec.Executor {
	return placeholderExecutor{}
}

func (placeholderExecutor) Run(ctx context.Context, req agentexec.RunRequest) (agentexec.RunResult, error) {
	return agentexec.RunResult{}, fmt.Errorf("%w: no agent executor is configured for session %q", coreerr.ErrNotFound, req.SessionID)
}

func (placeholderExecutor) Compact(ctx context.Context, req agentexec.CompactRequest) error {
	return fmt.Errorf("%w: no agent executor is configured", coreerr.ErrNotFound)
}

func (placeholderExecutor) IsBusy(sessionID string) bool { return false }

func (placeholderExecutor) EnqueueFollowUp(sessionID, text string) bool { return false }

func (placeholderExecutor) WaitForIdle(ctx context.Context, sessionID string, timeoutMs int64) bool {
	return true
}

// Package agentexec declares the Agent Executor Facade (§4.G): the narrow
// interface the rest of the core calls out through for model invocation and
// context compaction. The core never implements inference itself.
package agentexec

import "context"

// ThinkLevel mirrors the session entry's thinking-level override.
type ThinkLevel string

const (
	ThinkDefault ThinkLevel = ""
	ThinkLow     ThinkLevel = "low"
	ThinkMedium  ThinkLevel = "medium"
	ThinkHigh    ThinkLevel = "high"
)

// StopReason is the terminal reason a run ended.
type StopReason string

const (
	StopEndTurn    StopReason = "end_turn"
	StopMaxTokens  StopReason = "max_tokens"
	StopTimeout    StopReason = "timeout"
	StopToolUse    StopReason = "tool_use"
	StopError      StopReason = "error"
)

// Block is one unit of a run's output (text, tool call, tool result, ...).
// Kind is implementation-defined; the core only inspects Text blocks when
// extracting a final reply.
type Block struct {
	Kind string
	Text string
	Data any
}

// Usage reports token accounting for a single run, folded into the session
// entry's TokenCounters by the caller.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// RunRequest is the input to Run.
type RunRequest struct {
	SessionID  string
	SessionKey string
	Prompt     string
	ThinkLevel ThinkLevel
	TimeoutMs  int64

	// OnPartial, OnTool, and OnReasoning are invoked synchronously on the
	// lane's worker goroutine as streaming output arrives. Implementations
	// must not block inside these callbacks.
	OnPartial   func(text string)
	OnTool      func(name string, input any)
	OnReasoning func(text string)
}

// RunResult is the output of a completed (or cut-short) run.
type RunResult struct {
	Text       string
	Blocks     []Block
	Usage      Usage
	StopReason StopReason
}

// CompactRequest drives Compact: free up context budget in a session while
// preserving at least MinReserveTokens of headroom for the next turn.
type CompactRequest struct {
	SessionID        string
	MinReserveTokens int64
}

// Executor is the contract every model-invocation backend implements.
// Run is treated as possibly long-running (seconds to minutes) and must
// respect ctx cancellation; it is idempotent only in the sense that the
// session file, not the call, is the source of truth for conversation
// state.
type Executor interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
	Compact(ctx context.Context, req CompactRequest) error
	IsBusy(sessionID string) bool
	EnqueueFollowUp(sessionID, text string) bool
	WaitForIdle(ctx context.Context, sessionID string, timeoutMs int64) bool
}

// Package noderegistry tracks connected role:"node" sessions and implements
// the node.invoke relay protocol from SPEC_FULL.md §4.F.
package noderegistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/core/internal/coreerr"
)

const DefaultInvokeTimeout = 30 * time.Second

// Sender is the minimal capability a connection exposes to the registry: a
// way to push an event frame to it.
type Sender interface {
	SendEvent(event string, payload any) error
}

type pendingInvoke struct {
	resultCh chan invokeResult
}

type invokeResult struct {
	payload any
	err     error
}

// Registry maps nodeId to its live connection and tracks in-flight
// node.invoke calls awaiting a matching node.invoke.result.
type Registry struct {
	mu       sync.Mutex
	nodes    map[string]Sender
	pending  map[string]*pendingInvoke // keyed by request id
}

func New() *Registry {
	return &Registry{
		nodes:   make(map[string]Sender),
		pending: make(map[string]*pendingInvoke),
	}
}

// Register associates nodeId with its connection, replacing any prior
// registration (a node that reconnects supersedes its old session).
func (r *Registry) Register(nodeID string, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID] = sender
}

// Unregister removes nodeId's registration if sender is still the one on
// file (a stale close racing a reconnect must not evict the new session).
func (r *Registry) Unregister(nodeID string, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes[nodeID] == sender {
		delete(r.nodes, nodeID)
	}
}

func (r *Registry) Lookup(nodeID string) (Sender, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.nodes[nodeID]
	return s, ok
}

// Invoke implements the operator side of node.invoke: look up the node
// session, push a node.invoke.request event with a fresh request id, and
// block until a matching node.invoke.result arrives or timeout elapses.
func (r *Registry) Invoke(ctx context.Context, nodeID, command string, params any, timeout time.Duration) (any, error) {
	if timeout <= 0 || timeout > DefaultInvokeTimeout {
		timeout = DefaultInvokeTimeout
	}

	sender, ok := r.Lookup(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: node %q is not connected", coreerr.ErrNotFound, nodeID)
	}

	requestID := uuid.NewString()
	pending := &pendingInvoke{resultCh: make(chan invokeResult, 1)}
	r.mu.Lock()
	r.pending[requestID] = pending
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, requestID)
		r.mu.Unlock()
	}()

	if err := sender.SendEvent("node.invoke.request", map[string]any{
		"requestId": requestID,
		"command":   command,
		"params":    params,
	}); err != nil {
		return nil, fmt.Errorf("deliver node.invoke.request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pending.resultCh:
		return res.payload, res.err
	case <-timer.C:
		return nil, coreerr.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve delivers a node.invoke.result back to the waiting Invoke call. It
// returns false if requestId names no pending invocation (e.g. it already
// timed out).
func (r *Registry) Resolve(requestID string, payload any, invokeErr error) bool {
	r.mu.Lock()
	pending, ok := r.pending[requestID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case pending.resultCh <- invokeResult{payload: payload, err: invokeErr}:
	default:
	}
	return true
}

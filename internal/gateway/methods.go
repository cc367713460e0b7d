package gateway

import (
	"fmt"
	"time"

	"github.com/openclaw/core/internal/coreerr"
	"github.com/openclaw/core/internal/gateway/wire"
)

func handlePing(hc *HandlerContext, req wire.Req) (any, error) {
	return map[string]any{"pong": true}, nil
}

type nodeInvokeParams struct {
	NodeID    string `json:"nodeId"`
	Command   string `json:"command"`
	Params    any    `json:"params"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// handleNodeInvoke implements the operator side of §4.F's node-invocation
// protocol: it immediately acknowledges acceptance (the result may take up
// to timeoutMs to arrive) then blocks for the matching node.invoke.result.
func handleNodeInvoke(hc *HandlerContext, req wire.Req) (any, error) {
	var params nodeInvokeParams
	if err := wire.DecodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.NodeID == "" || params.Command == "" {
		return nil, fmt.Errorf("%w: nodeId and command are required", coreerr.ErrInvalidRequest)
	}

	if err := hc.Conn.sendRes(wire.NewAcceptedRes(req.ID)); err != nil {
		return nil, err
	}

	timeout := time.Duration(params.TimeoutMs) * time.Millisecond
	result, err := hc.Router.nodes.Invoke(hc.Ctx, params.NodeID, params.Command, params.Params, timeout)
	if err != nil {
		return nil, err
	}
	return result, nil
}

type nodeInvokeResultParams struct {
	RequestID string `json:"requestId"`
	Payload   any    `json:"payload"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// handleNodeInvokeResult implements the node side: it resolves a pending
// Invoke call by request id.
func handleNodeInvokeResult(hc *HandlerContext, req wire.Req) (any, error) {
	var params nodeInvokeResultParams
	if err := wire.DecodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.RequestID == "" {
		return nil, fmt.Errorf("%w: requestId is required", coreerr.ErrInvalidRequest)
	}

	var invokeErr error
	if params.Error != nil {
		invokeErr = coreerr.New(coreerr.Code(params.Error.Code), params.Error.Message)
	}
	resolved := hc.Router.nodes.Resolve(params.RequestID, params.Payload, invokeErr)
	return map[string]any{"resolved": resolved}, nil
}

func handleNodeHeartbeat(hc *HandlerContext, req wire.Req) (any, error) {
	return map[string]any{"ack": true}, nil
}

func handleCronJobsList(hc *HandlerContext, req wire.Req) (any, error) {
	if hc.Router.deps.Scheduler == nil {
		return []any{}, nil
	}
	return hc.Router.deps.Scheduler.ListJobs(), nil
}

type cronJobsRemoveParams struct {
	ID string `json:"id"`
}

func handleCronJobsRemove(hc *HandlerContext, req wire.Req) (any, error) {
	var params cronJobsRemoveParams
	if err := wire.DecodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, fmt.Errorf("%w: id is required", coreerr.ErrInvalidRequest)
	}
	if hc.Router.deps.Scheduler == nil {
		return nil, coreerr.ErrNotFound
	}
	if err := hc.Router.deps.Scheduler.RemoveJob(params.ID); err != nil {
		return nil, err
	}
	return map[string]any{"removed": true}, nil
}

// handleAgentsCreateStub exists only so the write-scoped "agents.create"
// method named in SPEC_FULL.md's testable properties resolves to a real
// handler; agent configuration itself lives outside this core (spec.md
// explicitly places it out of scope).
func handleAgentsCreateStub(hc *HandlerContext, req wire.Req) (any, error) {
	return nil, fmt.Errorf("%w: agent configuration is managed outside the core", coreerr.ErrNotFound)
}

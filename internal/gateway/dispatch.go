package gateway

import (
	"context"

	"github.com/openclaw/core/internal/coreerr"
	"github.com/openclaw/core/internal/gateway/authz"
	"github.com/openclaw/core/internal/gateway/wire"
	"github.com/openclaw/core/internal/pkg/logs"
	metrics "github.com/openclaw/core/internal/pkg/metrics"
)

// HandlerContext is the capability set SPEC_FULL.md §4.F grants a resolved
// method handler: broadcast, system-event enqueue, heartbeat wake, node
// lookup, and access to the session/cron stores and the executor facade.
// The authenticated principal for the call is hc.Conn.principal.
type HandlerContext struct {
	Ctx    context.Context
	Conn   *Connection
	Router *Router
}

// HandlerFunc resolves one req frame to a payload. A handler that needs to
// emit an intermediate "accepted" res before finishing a long operation may
// call hc.Conn.sendRes(wire.NewAcceptedRes(req.ID)) itself before returning.
type HandlerFunc func(hc *HandlerContext, req wire.Req) (any, error)

func (r *Router) registerBuiltinHandlers() {
	r.handlers["ping"] = handlePing
	r.handlers["node.invoke"] = handleNodeInvoke
	r.handlers["node.invoke.result"] = handleNodeInvokeResult
	r.handlers["node.heartbeat"] = handleNodeHeartbeat
	r.handlers["cron.jobs.list"] = handleCronJobsList
	r.handlers["cron.jobs.remove"] = handleCronJobsRemove
	r.handlers["agents.create"] = handleAgentsCreateStub
}

// handleFrame decodes one inbound frame and dispatches it according to its
// kind. Only req frames are dispatched; event and res frames from a client
// are dropped without a reply. A node's node.invoke.result arrives as a req
// and is routed by method name like any other request.
func (c *Connection) handleFrame(ctx context.Context, raw []byte) {
	metrics.GatewayFrameBytes.Observe(float64(len(raw)))

	kind, err := wire.DecodeEnvelope(raw)
	if err != nil {
		_ = c.sendRes(wire.NewErrorRes("", coreerr.CodeOf(err), err.Error()))
		return
	}
	if kind != wire.KindReq {
		return
	}

	req, err := wire.DecodeReq(raw)
	if err != nil {
		_ = c.sendRes(wire.NewErrorRes("", coreerr.CodeOf(err), err.Error()))
		return
	}
	decision := c.router.methods.Authorize(req.Method, c.principal.Role, c.principal.Scopes)
	switch decision.Result {
	case authz.ResultUnknownMethod:
		metrics.GatewayRequestsTotal.WithLabelValues(req.Method, "unknown-method").Inc()
		_ = c.sendRes(wire.NewErrorRes(req.ID, coreerr.CodeUnknownMethod, "unknown method: "+req.Method))
		return
	case authz.ResultUnauthorizedRole:
		metrics.GatewayRequestsTotal.WithLabelValues(req.Method, "unauthorized-role").Inc()
		_ = c.sendRes(wire.NewErrorRes(req.ID, coreerr.CodeUnauthorizedRole, "role is not permitted to invoke this method"))
		return
	case authz.ResultMissingScope:
		metrics.GatewayRequestsTotal.WithLabelValues(req.Method, "missing-scope").Inc()
		_ = c.sendRes(wire.NewErrorRes(req.ID, coreerr.CodeMissingScope, "missing required scope: "+string(decision.MissingScope)))
		return
	}

	handler, ok := c.router.handlers[req.Method]
	if !ok {
		metrics.GatewayRequestsTotal.WithLabelValues(req.Method, "unknown-method").Inc()
		_ = c.sendRes(wire.NewErrorRes(req.ID, coreerr.CodeUnknownMethod, "unknown method: "+req.Method))
		return
	}

	hc := &HandlerContext{Ctx: ctx, Conn: c, Router: c.router}
	payload, err := handler(hc, req)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		logs.Debug("gateway: method %s failed for conn %s: %v", req.Method, c.id, err)
		_ = c.sendRes(wire.NewErrorRes(req.ID, coreerr.CodeOf(err), err.Error()))
		return
	}
	metrics.GatewayRequestsTotal.WithLabelValues(req.Method, "ok").Inc()
	_ = c.sendRes(wire.NewRes(req.ID, payload))
}

// builtinMethods declares the authorization class of every method this
// router knows about (§4.F "Authorization").
func builtinMethods() []authz.MethodSpec {
	return []authz.MethodSpec{
		{Name: "ping", Access: authz.AccessRead},
		{Name: "node.invoke", Access: authz.AccessWrite, Streaming: true},
		{Name: "node.invoke.result", Access: authz.AccessWrite},
		{Name: "node.heartbeat", Access: authz.AccessWrite},
		{Name: "cron.jobs.list", Access: authz.AccessRead},
		{Name: "cron.jobs.remove", Access: authz.AccessWrite},
		{Name: "agents.create", Access: authz.AccessWrite},
	}
}

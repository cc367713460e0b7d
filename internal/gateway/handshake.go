package gateway

import (
	"context"
	"fmt"

	"github.com/openclaw/core/internal/coreerr"
	"github.com/openclaw/core/internal/gateway/authn"
	"github.com/openclaw/core/internal/gateway/wire"
)

const protocolVersion = 1

// clientIdentity is the handshake req's "client" block.
type clientIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
}

// handshakeParams is the handshake req's params shape (§6 "Handshake frame").
type handshakeParams struct {
	MinProtocol int                  `json:"minProtocol"`
	MaxProtocol int                  `json:"maxProtocol"`
	Client      clientIdentity       `json:"client"`
	Auth        authn.HandshakeAuth  `json:"auth"`
}

// handshake reads the first frame, validates it is a handshake request,
// authenticates, authorizes origin for web clients, and replies hello-ok or
// closes the connection on failure.
func (c *Connection) handshake(ctx context.Context, nonce []byte) (authn.Principal, error) {
	_, raw, err := c.ws.Read(ctx)
	if err != nil {
		return authn.Principal{}, fmt.Errorf("read handshake frame: %w", err)
	}

	req, err := wire.DecodeReq(raw)
	if err != nil {
		_ = c.sendRes(wire.NewErrorRes("", coreerr.CodeInvalidRequest, "first frame must be a handshake request"))
		return authn.Principal{}, err
	}

	var params handshakeParams
	if err := wire.DecodeParams(req, &params); err != nil {
		_ = c.sendRes(wire.NewErrorRes(req.ID, coreerr.CodeInvalidRequest, "invalid handshake params"))
		return authn.Principal{}, err
	}

	if params.MinProtocol > protocolVersion || params.MaxProtocol < protocolVersion {
		_ = c.sendRes(wire.NewErrorRes(req.ID, coreerr.CodeProtocolVersion, "no commonly supported protocol version"))
		return authn.Principal{}, coreerr.ErrProtocol
	}

	if params.Client.Platform == "web" {
		if !c.router.originAllowed(c.originHeader) {
			_ = c.sendRes(wire.NewErrorRes(req.ID, coreerr.CodeUnauthorized, "origin not permitted"))
			return authn.Principal{}, coreerr.ErrUnauthorized
		}
	}

	principal, err := c.router.authr.Authenticate(c.connInfo, nonce, params.Auth)
	if err != nil {
		_ = c.sendRes(wire.NewErrorRes(req.ID, coreerr.CodeOf(err), "authentication failed"))
		return authn.Principal{}, err
	}

	if principal.Role == "node" {
		c.nodeID = params.Client.ID
		c.router.nodes.Register(c.nodeID, c)
	}

	bearerToken, err := c.router.authr.Bearer().Issue(principal)
	if err != nil {
		return authn.Principal{}, fmt.Errorf("issue bearer token: %w", err)
	}

	if err := c.sendRes(wire.NewRes(req.ID, map[string]any{
		"event":             "hello-ok",
		"protocolVersion":   protocolVersion,
		"serverVersion":     serverVersion,
		"capabilities":      []string{"req", "res", "event"},
		"bearerToken":       bearerToken,
		"bearerTokenExpiry": authn.BearerTokenTTL.Milliseconds(),
	})); err != nil {
		return authn.Principal{}, err
	}

	return principal, nil
}

const serverVersion = "1.0"

func (r *Router) originAllowed(origin string) bool {
	if len(r.deps.Config.OriginAllowlist) == 0 {
		return false
	}
	for _, allowed := range r.deps.Config.OriginAllowlist {
		if allowed == origin || allowed == "*" {
			return true
		}
	}
	return false
}

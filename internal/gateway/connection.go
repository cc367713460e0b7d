package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/openclaw/core/internal/gateway/authn"
	"github.com/openclaw/core/internal/gateway/wire"
	"github.com/openclaw/core/internal/pkg/logs"
)

const tickInterval = 30 * time.Second

// Connection is one accepted Gateway Router WebSocket connection, from
// handshake through close (§4.F "Connection lifecycle").
type Connection struct {
	id     string
	ws     *websocket.Conn
	router *Router

	principal    authn.Principal
	connInfo     authn.ConnInfo
	originHeader string
	nodeID       string // set once a handshake identifies this connection as role:"node"

	seq int64 // per-connection monotonically increasing event seq (§4.F)

	writeMu sync.Mutex
	cancel  context.CancelFunc
}

func newConnection(id string, ws *websocket.Conn, router *Router) *Connection {
	return &Connection{id: id, ws: ws, router: router}
}

// SendEvent implements noderegistry.Sender and is also used directly by the
// active-phase tick loop.
func (c *Connection) SendEvent(event string, payload any) error {
	seq := atomic.AddInt64(&c.seq, 1)
	return c.writeFrame(wire.Event{Type: wire.KindEvent, Event: event, Payload: payload, Seq: seq})
}

func (c *Connection) sendRes(res wire.Res) error {
	return c.writeFrame(res)
}

func (c *Connection) writeFrame(v any) error {
	data, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// serve runs the connection's lifecycle: open (challenge), handshake,
// active (read loop + tick keepalive), close. It blocks until the
// connection ends.
func (c *Connection) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	nonce, err := authn.NewChallengeNonce()
	if err != nil {
		logs.Error("gateway: generate challenge nonce: %v", err)
		c.ws.Close(websocket.StatusInternalError, "challenge generation failed")
		return
	}
	if err := c.SendEvent("challenge", map[string]any{"nonce": encodeNonce(nonce)}); err != nil {
		return
	}

	principal, err := c.handshake(ctx, nonce)
	if err != nil {
		logs.Warn("gateway: connection %s handshake failed: %v", c.id, err)
		c.ws.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}
	c.principal = principal

	c.router.registerConn(c)
	defer c.router.unregisterConn(c)

	tickTimer := time.NewTicker(tickInterval)
	defer tickTimer.Stop()

	readCh := make(chan []byte)
	readErrCh := make(chan error, 1)
	go c.readLoop(ctx, readCh, readErrCh)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrCh:
			if err != nil {
				logs.Debug("gateway: connection %s closed: %v", c.id, err)
			}
			return
		case raw := <-readCh:
			c.handleFrame(ctx, raw)
		case <-tickTimer.C:
			if err := c.SendEvent("tick", nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readLoop(ctx context.Context, out chan<- []byte, errOut chan<- error) {
	c.ws.SetReadLimit(wire.MaxFrameBytes)
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			errOut <- err
			return
		}
		select {
		case out <- data:
		case <-ctx.Done():
			errOut <- ctx.Err()
			return
		}
	}
}

func (c *Connection) close(statusCode websocket.StatusCode, reason string) {
	if c.cancel != nil {
		c.cancel()
	}
	_ = c.ws.Close(statusCode, reason)
}

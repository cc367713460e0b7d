// Package wire defines the JSON frame shapes exchanged on a Gateway Router
// connection and the codec used to read/write them, grounded on the
// req/res/event framing in SPEC_FULL.md §4.F.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/openclaw/core/internal/coreerr"
)

// MaxFrameBytes is the per-frame cap; larger frames are rejected with
// coreerr.CodePayloadTooLarge before being unmarshaled.
const MaxFrameBytes = 25 * 1024 * 1024

// Kind identifies which of the three frame shapes a message carries.
type Kind string

const (
	KindReq   Kind = "req"
	KindRes   Kind = "res"
	KindEvent Kind = "event"
)

// AcceptedStatus marks an intermediate res frame in a streaming response;
// only the final res frame for an id omits it.
const AcceptedStatus = "accepted"

// Req is a client-chosen, opaque request. Method is resolved by authz
// against the caller's scopes before a handler ever sees it.
type Req struct {
	Type   Kind            `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Error is the wire shape of a failed response.
type Error struct {
	Code    coreerr.Code `json:"code"`
	Message string       `json:"message"`
}

// Res answers a Req by ID. A handler producing a streaming response emits
// one or more Res frames with Status == AcceptedStatus before a final frame
// whose Ok is authoritative.
type Res struct {
	Type    Kind   `json:"type"`
	ID      string `json:"id"`
	Ok      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   *Error `json:"error,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Event is a server-pushed notification, carrying a per-connection
// monotonically increasing Seq (§4.F "event sequencing").
type Event struct {
	Type    Kind   `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	Seq     int64  `json:"seq"`
}

func NewRes(id string, payload any) Res {
	return Res{Type: KindRes, ID: id, Ok: true, Payload: payload}
}

func NewAcceptedRes(id string) Res {
	return Res{Type: KindRes, ID: id, Ok: true, Status: AcceptedStatus}
}

func NewErrorRes(id string, code coreerr.Code, message string) Res {
	return Res{Type: KindRes, ID: id, Ok: false, Error: &Error{Code: code, Message: message}}
}

// Envelope peeks at the "type" field of an inbound frame without decoding
// the rest, so the router can dispatch to the right concrete type.
type Envelope struct {
	Type Kind `json:"type"`
}

// DecodeEnvelope reports which frame kind raw carries.
func DecodeEnvelope(raw []byte) (Kind, error) {
	if len(raw) > MaxFrameBytes {
		return "", coreerr.New(coreerr.CodePayloadTooLarge, fmt.Sprintf("frame exceeds %d bytes", MaxFrameBytes))
	}
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", coreerr.ErrInvalidRequest, err)
	}
	return env.Type, nil
}

// DecodeReq decodes raw as a Req frame.
func DecodeReq(raw []byte) (Req, error) {
	var req Req
	if err := sonic.Unmarshal(raw, &req); err != nil {
		return Req{}, fmt.Errorf("%w: %v", coreerr.ErrInvalidRequest, err)
	}
	if req.ID == "" || req.Method == "" {
		return Req{}, fmt.Errorf("%w: req requires id and method", coreerr.ErrInvalidRequest)
	}
	return req, nil
}

// DecodeParams unmarshals a Req's params into dst.
func DecodeParams(req Req, dst any) error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(req.Params, dst); err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrInvalidRequest, err)
	}
	return nil
}

func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

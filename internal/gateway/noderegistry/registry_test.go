package noderegistry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openclaw/core/internal/coreerr"
)

type fakeSender struct {
	mu     sync.Mutex
	events []string
	onSend func(event string, payload any)
}

func (f *fakeSender) SendEvent(event string, payload any) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(event, payload)
	}
	return nil
}

func TestInvoke_ResolvesOnMatchingResult(t *testing.T) {
	r := New()
	sender := &fakeSender{}
	sender.onSend = func(event string, payload any) {
		if event != "node.invoke.request" {
			return
		}
		reqID := payload.(map[string]any)["requestId"].(string)
		go r.Resolve(reqID, map[string]any{"ok": true}, nil)
	}
	r.Register("node-1", sender)

	result, err := r.Invoke(context.Background(), "node-1", "run", map[string]any{"x": 1}, 2*time.Second)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	payload, ok := result.(map[string]any)
	if !ok || payload["ok"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestInvoke_UnknownNode(t *testing.T) {
	r := New()
	_, err := r.Invoke(context.Background(), "missing", "run", nil, time.Second)
	if err == nil {
		t.Fatal("expected error for unknown node")
	}
	if coreerr.CodeOf(err) != coreerr.CodeNotFound {
		t.Fatalf("expected CodeNotFound, got %v", coreerr.CodeOf(err))
	}
}

func TestInvoke_TimesOutWithoutResult(t *testing.T) {
	r := New()
	r.Register("node-1", &fakeSender{})

	_, err := r.Invoke(context.Background(), "node-1", "run", nil, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if coreerr.CodeOf(err) != coreerr.CodeTimeout {
		t.Fatalf("expected CodeTimeout, got %v", coreerr.CodeOf(err))
	}
}

func TestInvoke_ClampsTimeoutAboveDefault(t *testing.T) {
	r := New()
	sender := &fakeSender{}
	sender.onSend = func(event string, payload any) {
		reqID := payload.(map[string]any)["requestId"].(string)
		go r.Resolve(reqID, "done", nil)
	}
	r.Register("node-1", sender)

	result, err := r.Invoke(context.Background(), "node-1", "run", nil, time.Hour)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != "done" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestResolve_ReturnsFalseForUnknownRequestID(t *testing.T) {
	r := New()
	if r.Resolve("does-not-exist", nil, nil) {
		t.Fatal("expected Resolve to report false for an unknown request id")
	}
}

func TestUnregister_DoesNotEvictReconnectedSender(t *testing.T) {
	r := New()
	oldSender := &fakeSender{}
	newSender := &fakeSender{}
	r.Register("node-1", oldSender)
	r.Register("node-1", newSender)

	r.Unregister("node-1", oldSender)

	s, ok := r.Lookup("node-1")
	if !ok || s != newSender {
		t.Fatal("expected the reconnected sender to remain registered")
	}
}

func TestInvoke_PropagatesErrorFromResolve(t *testing.T) {
	r := New()
	sender := &fakeSender{}
	wantErr := coreerr.ErrConflict
	sender.onSend = func(event string, payload any) {
		reqID := payload.(map[string]any)["requestId"].(string)
		go r.Resolve(reqID, nil, wantErr)
	}
	r.Register("node-1", sender)

	_, err := r.Invoke(context.Background(), "node-1", "run", nil, time.Second)
	if err != wantErr {
		t.Fatalf("expected propagated error, got %v", err)
	}
}

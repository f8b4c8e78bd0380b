package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paigeai/paige/internal/observability"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	return New(Options{
		Logger:  logger,
		Version: "test",
		Init: func() map[string]any {
			return map[string]any{"sessionId": nil, "capabilities": []string{}, "featureFlags": map[string]any{}}
		},
	})
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	env, err := newEnvelope(msgType, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatal(err)
	}
}

func TestHandshakeSequence(t *testing.T) {
	h := newTestHub(t)
	conn := dial(t, h)

	// Messages before connection:ready are refused.
	send(t, conn, MsgFileOpen, map[string]any{"path": "main.go"})
	if env := readEnvelope(t, conn); env.Type != MsgConnectionError {
		t.Fatalf("pre-handshake reply = %q, want connection:error", env.Type)
	}

	send(t, conn, MsgConnectionReady, nil)
	hello := readEnvelope(t, conn)
	if hello.Type != MsgConnectionHello {
		t.Fatalf("first reply = %q, want connection:hello", hello.Type)
	}
	var helloPayload map[string]any
	if err := json.Unmarshal(hello.Payload, &helloPayload); err != nil {
		t.Fatal(err)
	}
	if helloPayload["serverId"] == "" || helloPayload["version"] != "test" {
		t.Errorf("hello payload = %v", helloPayload)
	}

	if env := readEnvelope(t, conn); env.Type != MsgConnectionInit {
		t.Fatalf("second reply = %q, want connection:init", env.Type)
	}
}

func TestDispatchOrderAndErrors(t *testing.T) {
	h := newTestHub(t)

	var order []int
	done := make(chan struct{})
	h.On(MsgFileOpen, func(context.Context, Envelope) error {
		order = append(order, 1)
		return nil
	})
	h.On(MsgFileOpen, func(context.Context, Envelope) error {
		order = append(order, 2)
		return context.DeadlineExceeded // logged, not propagated
	})
	h.On(MsgFileOpen, func(context.Context, Envelope) error {
		order = append(order, 3)
		close(done)
		return nil
	})

	conn := dial(t, h)
	send(t, conn, MsgConnectionReady, nil)
	readEnvelope(t, conn) // hello
	readEnvelope(t, conn) // init

	send(t, conn, MsgFileOpen, map[string]any{"path": "a.go"})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers not invoked")
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("invocation order = %v", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	h := newTestHub(t)

	calls := 0
	off := h.On(MsgFileSave, func(context.Context, Envelope) error {
		calls++
		return nil
	})
	off()

	h.dispatch(context.Background(), Envelope{Type: MsgFileSave})
	if calls != 0 {
		t.Errorf("handler invoked after unsubscribe")
	}
}

func TestUnhandledTypeRepliesGeneralError(t *testing.T) {
	h := newTestHub(t)
	conn := dial(t, h)

	send(t, conn, MsgConnectionReady, nil)
	readEnvelope(t, conn) // hello
	readEnvelope(t, conn) // init

	send(t, conn, "totally:unknown", map[string]any{})
	env := readEnvelope(t, conn)
	if env.Type != MsgErrorGeneral {
		t.Fatalf("reply = %q, want error:general", env.Type)
	}
	var payload map[string]any
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["code"] != "unknown_type" {
		t.Errorf("code = %v, want unknown_type", payload["code"])
	}
	if msg, _ := payload["message"].(string); !strings.Contains(msg, "totally:unknown") {
		t.Errorf("message = %q, want the offending type named", msg)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	h := newTestHub(t)
	conn := dial(t, h)

	send(t, conn, MsgConnectionReady, nil)
	readEnvelope(t, conn)
	readEnvelope(t, conn)

	// Give the ready flag time to land before broadcasting.
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.Broadcast(MsgObserverNudge, map[string]any{"message": "consider a test"})
	env := readEnvelope(t, conn)
	if env.Type != MsgObserverNudge {
		t.Fatalf("broadcast type = %q", env.Type)
	}
	if env.Timestamp == 0 {
		t.Error("envelope missing timestamp")
	}
}

func TestEgressEviction(t *testing.T) {
	h := newTestHub(t)
	c := &client{hub: h, wake: make(chan struct{}, 1)}

	// Saturate with low- and high-priority frames interleaved.
	for i := 0; i < maxEgressQueue/2; i++ {
		c.enqueue(MsgEditorCursor, []byte("{}"))
		c.enqueue(MsgCoachingMessage, []byte("{}"))
	}
	c.enqueue(MsgCoachingMessage, []byte("{}"))

	var coaching, cursor int
	c.queueMu.Lock()
	for _, f := range c.queue {
		switch f.msgType {
		case MsgCoachingMessage:
			coaching++
		case MsgEditorCursor:
			cursor++
		}
	}
	c.queueMu.Unlock()

	// The overflow evicted a low-priority frame, never a coaching frame.
	if coaching != maxEgressQueue/2+1 {
		t.Errorf("coaching frames = %d, want all %d retained", coaching, maxEgressQueue/2+1)
	}
	if cursor != maxEgressQueue/2-1 {
		t.Errorf("cursor frames = %d, want one evicted", cursor)
	}
}

func TestTypeSetsAreClosedAndDisjoint(t *testing.T) {
	seen := map[string]string{}
	for _, typ := range ServerTypes {
		if prior, ok := seen[typ]; ok {
			t.Errorf("type %q duplicated (%s)", typ, prior)
		}
		seen[typ] = "server"
	}
	for _, typ := range ClientTypes {
		// connection:ready is client-only; none of the rest may collide
		// with a server type either.
		if prior, ok := seen[typ]; ok {
			t.Errorf("type %q appears in both %s and client sets", typ, prior)
		}
		seen[typ] = "client"
	}

	for _, typ := range []string{MsgBufferUpdate, MsgEditorCursor, MsgEditorScroll} {
		if !LowPriority(typ) {
			t.Errorf("%q not low priority", typ)
		}
	}
	if LowPriority(MsgCoachingMessage) || LowPriority(MsgSessionEnd) {
		t.Error("coaching/session frames must never be droppable")
	}
}

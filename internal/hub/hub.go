// Package hub is the bidirectional JSON message stream between the server
// and UI clients. Inbound messages dispatch to registered handlers in FIFO
// order per connection; outbound broadcasts fan out through bounded
// per-client queues so one slow client cannot stall the rest.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/paigeai/paige/internal/observability"
)

const (
	maxPayloadBytes = 1 << 20
	maxEgressQueue  = 256
	pongWait        = 45 * time.Second
	pingInterval    = 15 * time.Second
	writeWait       = 10 * time.Second
)

// Handler processes one inbound message. Errors are logged, never
// propagated back to the client.
type Handler func(ctx context.Context, msg Envelope) error

type handlerEntry struct {
	id int64
	fn Handler
}

// InitFunc builds the connection:init payload for a new client: the active
// session ID if any, server capabilities, and feature flags.
type InitFunc func() map[string]any

// Hub owns all client connections and the inbound handler registry.
type Hub struct {
	logger  *observability.Logger
	metrics *observability.Metrics

	serverID string
	version  string
	initFn   InitFunc
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	clients   map[string]*client
	handlers  map[string][]handlerEntry
	handlerID int64
}

// Options configures a Hub.
type Options struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Version string
	// Init builds the connection:init payload; nil means an empty payload.
	Init InitFunc
}

// New creates a hub with a fresh server identity.
func New(opts Options) *Hub {
	return &Hub{
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		serverID: uuid.NewString(),
		version:  opts.Version,
		initFn:   opts.Init,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:  make(map[string]*client),
		handlers: make(map[string][]handlerEntry),
	}
}

// On registers an inbound handler for a message type. Handlers for the
// same type run in registration order. The returned function unregisters.
func (h *Hub) On(msgType string, fn Handler) func() {
	h.mu.Lock()
	h.handlerID++
	id := h.handlerID
	h.handlers[msgType] = append(h.handlers[msgType], handlerEntry{id: id, fn: fn})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		entries := h.handlers[msgType]
		for i, e := range entries {
			if e.id == id {
				h.handlers[msgType] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	}
}

// Broadcast sends a message to every connected client that has completed
// the handshake. Ordering is FIFO per client.
func (h *Hub) Broadcast(msgType string, payload any) {
	env, err := newEnvelope(msgType, payload)
	if err != nil {
		h.logger.Error(context.Background(), "broadcast encode failed", "type", msgType, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error(context.Background(), "broadcast encode failed", "type", msgType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.ready.Load() {
			c.enqueue(msgType, data)
		}
	}
}

// ClientCount reports the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{
		hub:    h,
		conn:   conn,
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ConnectedClients.Inc()
	}
	h.logger.Info(ctx, "ui client connected", "client_id", c.id)

	c.run()

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ConnectedClients.Dec()
	}
	h.logger.Info(ctx, "ui client disconnected", "client_id", c.id)
}

// dispatch runs the registered handlers for the envelope's type and reports
// whether any handler was registered at all.
func (h *Hub) dispatch(ctx context.Context, env Envelope) bool {
	h.mu.RLock()
	entries := make([]handlerEntry, len(h.handlers[env.Type]))
	copy(entries, h.handlers[env.Type])
	h.mu.RUnlock()

	for _, e := range entries {
		if err := e.fn(ctx, env); err != nil {
			h.logger.Error(ctx, "message handler failed", "type", env.Type, "error", err)
		}
	}
	return len(entries) > 0
}

// client is one websocket connection. Each connection gets a fresh ID, a
// reconnect after drop is a new client even for the same session.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool

	// Egress queue. Bounded; overflow evicts the oldest low-priority
	// frame before touching coaching or session frames.
	queueMu sync.Mutex
	queue   []queuedFrame
	wake    chan struct{}
}

type queuedFrame struct {
	msgType string
	data    []byte
}

func (c *client) run() {
	defer func() {
		c.cancel()
		_ = c.conn.Close()
	}()
	go c.writeLoop()
	c.readLoop()
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(maxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendDirect(MsgConnectionError, map[string]any{"message": "invalid frame"})
			continue
		}

		if !c.ready.Load() {
			if env.Type != MsgConnectionReady {
				c.sendDirect(MsgConnectionError, map[string]any{
					"message": "handshake required: send connection:ready first",
				})
				continue
			}
			c.handshake()
			continue
		}

		// Handlers run inline so dispatch stays FIFO per connection. A type
		// nothing handles goes back to the sender as a general error.
		if !c.hub.dispatch(c.ctx, env) {
			c.sendDirect(MsgErrorGeneral, map[string]any{
				"code":    "unknown_type",
				"message": "no handler for message type " + env.Type,
			})
		}
	}
}

func (c *client) handshake() {
	c.sendDirect(MsgConnectionHello, map[string]any{
		"serverId":     c.hub.serverID,
		"version":      c.hub.version,
		"capabilities": []string{"coaching", "observer", "planning", "review"},
	})

	initPayload := map[string]any{}
	if c.hub.initFn != nil {
		initPayload = c.hub.initFn()
	}
	c.sendDirect(MsgConnectionInit, initPayload)
	c.ready.Store(true)
}

// sendDirect enqueues a message to this client only.
func (c *client) sendDirect(msgType string, payload any) {
	env, err := newEnvelope(msgType, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.enqueue(msgType, data)
}

func (c *client) enqueue(msgType string, data []byte) {
	c.queueMu.Lock()
	if len(c.queue) >= maxEgressQueue {
		dropped := c.evictLocked()
		if c.hub.metrics != nil {
			c.hub.metrics.DroppedFrames.WithLabelValues(dropped).Inc()
		}
	}
	c.queue = append(c.queue, queuedFrame{msgType: msgType, data: data})
	c.queueMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// evictLocked frees one slot: the oldest low-priority frame if any exists,
// otherwise the oldest frame outright. Returns the dropped type.
func (c *client) evictLocked() string {
	for i, f := range c.queue {
		if LowPriority(f.msgType) {
			dropped := f.msgType
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return dropped
		}
	}
	dropped := c.queue[0].msgType
	c.queue = c.queue[1:]
	return dropped
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case <-c.wake:
			for {
				c.queueMu.Lock()
				if len(c.queue) == 0 {
					c.queueMu.Unlock()
					break
				}
				frame := c.queue[0]
				c.queue = c.queue[1:]
				c.queueMu.Unlock()

				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, frame.data); err != nil {
					c.cancel()
					return
				}
			}
		}
	}
}

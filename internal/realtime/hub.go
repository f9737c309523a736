package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Config struct {
	// AuthTimeout bounds the wait for the reply to authReq.
	AuthTimeout time.Duration
	// Origin controls whether an edit is echoed back to its sender.
	Origin OriginPolicy
	// ReadOnlyReaders drops cell edits sent over a reader grant. Off by
	// default: every authenticated member may edit.
	ReadOnlyReaders bool

	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
	// CheckOrigin is passed to the websocket upgrader; nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		AuthTimeout:    5 * time.Second,
		Origin:         ExcludeOrigin,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = def.AuthTimeout
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	return c
}

// Hub wires the registry, protocol table and dispatcher together and serves
// the websocket endpoint.
type Hub struct {
	cfg        Config
	tokens     TokenVerifier
	access     AccessLookup
	registry   *Registry
	protocol   *Protocol
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

var _ http.Handler = (*Hub)(nil)

func NewHub(cfg Config, tokens TokenVerifier, access AccessLookup, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		tokens: tokens,
		access: access,
		logger: logger.With("component", "hub"),
	}
	h.registry = NewRegistry(logger)
	h.registry.evict = h.Disconnect
	h.protocol = defaultProtocol(h)
	h.dispatcher = NewDispatcher(h.protocol, logger)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     cfg.CheckOrigin,
	}
	if h.upgrader.CheckOrigin == nil {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return h
}

func (h *Hub) Registry() *Registry { return h.registry }

// Connect registers a new connection and starts its handshake.
func (h *Hub) Connect(ctx context.Context, t Transport) *Conn {
	c := newConn(ctx, uuid.NewString(), t, h.logger)
	h.registry.Register(c)
	c.transition(StateUnauthenticated, StateAwaitingCredentials)
	c.logger.Debug("connection opened")
	h.Emit(c, AuthRequired, nil)
	return c
}

// Receive handles one frame read from c.
func (h *Hub) Receive(c *Conn, frame []byte) {
	h.dispatcher.Dispatch(c.ctx, c, frame)
}

// Disconnect tears a connection down: it leaves its room, open reply slots
// are cancelled and the transport is closed. Safe to call repeatedly.
func (h *Hub) Disconnect(c *Conn) {
	open := c.markClosed()
	if h.registry.Unregister(c) {
		c.logger.Debug("connection closed")
	}
	for _, r := range open {
		r.Cancel()
	}
	c.transport.Close()
}

// Emit sends an outbound message to one connection, arming a reply slot when
// the message expects an answer.
func (h *Hub) Emit(c *Conn, kind OutboundKind, payload any) {
	msg, ok := h.protocol.Outbound(kind)
	if !ok {
		h.logger.Error("no outbound message registered", "kind", kind.String())
		return
	}
	if msg.Responder == nil {
		if err := h.registry.Emit(c, msg, payload); err != nil {
			c.logger.Warn("emit failed", "event", msg.Name, "error", err)
		}
		return
	}

	ack, armed := c.expect(msg.Responder(h, c), h.cfg.AuthTimeout)
	if !armed {
		return
	}
	frame, err := encodeFrame(msg.Name, payload, ack)
	if err != nil {
		c.logger.Warn("emit failed", "event", msg.Name, "error", err)
		return
	}
	h.registry.deliver(c, msg.Name, frame)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	t := newWSTransport(ws, h.cfg, h.logger.With("component", "transport"))
	go t.writePump()

	// The request context ends with the handler, not the socket.
	c := h.Connect(context.WithoutCancel(r.Context()), t)
	defer h.Disconnect(c)
	t.readPump(func(frame []byte) { h.Receive(c, frame) })
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown() {
	for _, c := range h.registry.all() {
		h.Disconnect(c)
	}
}

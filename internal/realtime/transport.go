package realtime

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrSlowConsumer = errors.New("realtime: send queue full")

// Transport carries encoded frames to one client.
type Transport interface {
	// Send queues a frame. It never blocks.
	Send(frame []byte) error
	// Close flushes queued frames, sends a close frame and drops the link.
	// Calling it more than once is harmless.
	Close()
}

// wsTransport runs one websocket with a read pump and a write pump.
type wsTransport struct {
	ws     *websocket.Conn
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newWSTransport(ws *websocket.Conn, cfg Config, logger *slog.Logger) *wsTransport {
	return &wsTransport{
		ws:     ws,
		cfg:    cfg,
		logger: logger,
		send:   make(chan []byte, cfg.SendBuffer),
	}
}

func (t *wsTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrConnClosed
	}
	select {
	case t.send <- frame:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (t *wsTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.send)
}

// readPump hands every text frame to onFrame until the socket fails or closes.
func (t *wsTransport) readPump(onFrame func([]byte)) {
	defer t.ws.Close()
	t.ws.SetReadLimit(t.cfg.MaxMessageSize)
	_ = t.ws.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	t.ws.SetPongHandler(func(string) error {
		return t.ws.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})
	for {
		kind, message, err := t.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				t.logger.Warn("read pump failed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		onFrame(message)
	}
}

// writePump writes one frame per websocket message and pings on an interval.
// When the queue is closed it drains what is left and says goodbye.
func (t *wsTransport) writePump() {
	ticker := time.NewTicker(t.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		t.ws.Close()
	}()
	for {
		select {
		case frame, ok := <-t.send:
			_ = t.ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if !ok {
				_ = t.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := t.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				t.logger.Warn("write pump failed", "error", err)
				t.Close()
				return
			}
		case <-ticker.C:
			_ = t.ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := t.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.logger.Warn("write pump failed on sending ping", "error", err)
				t.Close()
				return
			}
		}
	}
}

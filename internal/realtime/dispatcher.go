package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Dispatcher routes frames read from one connection. The caller feeds frames
// of a connection one at a time, so handlers for a connection never overlap.
type Dispatcher struct {
	protocol *Protocol
	logger   *slog.Logger
}

func NewDispatcher(protocol *Protocol, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{protocol: protocol, logger: logger.With("component", "dispatcher")}
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Conn, frame []byte) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		d.logger.Debug("drop unparsable frame", "connID", c.id, "error", err)
		return
	}

	if env.Event == "" {
		d.reply(ctx, c, env)
		return
	}

	inbound, ok := d.protocol.Inbound(env.Event)
	if !ok {
		d.logger.Debug("drop unknown event", "connID", c.id, "event", env.Event)
		return
	}
	if c.State() != StateAuthenticated {
		d.logger.Debug("drop event from unauthenticated connection", "connID", c.id, "event", env.Event)
		return
	}
	if !inbound.Validate(env.Data) {
		d.logger.Debug("drop invalid payload", "connID", c.id, "event", env.Event)
		return
	}
	inbound.Handle(ctx, c, env.Data)
}

func (d *Dispatcher) reply(ctx context.Context, c *Conn, env envelope) {
	if env.Ack == 0 {
		d.logger.Debug("drop frame without event or ack", "connID", c.id)
		return
	}
	responder, ok := c.claim(env.Ack)
	if !ok {
		d.logger.Debug("drop late or unexpected reply", "connID", c.id, "ack", env.Ack)
		return
	}
	responder.Reply(ctx, env.Data)
}

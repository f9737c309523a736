// Package realtime implements the sheet collaboration channel: the
// authentication handshake, sheet rooms and cell-edit fan-out over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// OutboundKind identifies a message the server sends.
type OutboundKind int

const (
	AuthRequired OutboundKind = iota
	AuthRefused
	AuthSuccess
	WriteCell
)

func (k OutboundKind) String() string {
	switch k {
	case AuthRequired:
		return "AuthRequired"
	case AuthRefused:
		return "AuthRefused"
	case AuthSuccess:
		return "AuthSuccess"
	case WriteCell:
		return "WriteCell"
	default:
		return fmt.Sprintf("OutboundKind(%d)", int(k))
	}
}

// Responder receives the client's reply to an outbound message that asked
// for one. Exactly one of the three methods is called per emitted message.
type Responder interface {
	Reply(ctx context.Context, payload json.RawMessage)
	Expire()
	Cancel()
}

// OutboundMessage is an entry of the outbound table. Responder is nil for
// fire-and-forget messages.
type OutboundMessage struct {
	Name      string
	Responder func(h *Hub, c *Conn) Responder
}

// InboundSpec describes a message the server accepts from authenticated clients.
type InboundSpec interface {
	Name() string
	Validate(payload []byte) bool
	Handle(ctx context.Context, c *Conn, payload []byte)
}

// Protocol is the immutable message table shared by every connection.
type Protocol struct {
	outbound map[OutboundKind]OutboundMessage
	inbound  map[string]InboundSpec
}

func NewProtocol(outbound map[OutboundKind]OutboundMessage, inbound ...InboundSpec) *Protocol {
	p := &Protocol{
		outbound: make(map[OutboundKind]OutboundMessage, len(outbound)),
		inbound:  make(map[string]InboundSpec, len(inbound)),
	}
	for kind, msg := range outbound {
		p.outbound[kind] = msg
	}
	for _, in := range inbound {
		p.inbound[in.Name()] = in
	}
	return p
}

func (p *Protocol) Outbound(kind OutboundKind) (OutboundMessage, bool) {
	msg, ok := p.outbound[kind]
	return msg, ok
}

func (p *Protocol) Inbound(name string) (InboundSpec, bool) {
	in, ok := p.inbound[name]
	return in, ok
}

// defaultProtocol is the sheet collaboration message catalogue.
func defaultProtocol(h *Hub) *Protocol {
	return NewProtocol(map[OutboundKind]OutboundMessage{
		AuthRequired: {Name: "authReq", Responder: newHandshake},
		AuthRefused:  {Name: "authFail"},
		AuthSuccess:  {Name: "authOk"},
		WriteCell:    {Name: "writeCell"},
	}, &writeCellSpec{hub: h})
}

// envelope is the JSON text frame exchanged in both directions. A client
// reply carries the ack of the message it answers and no event.
type envelope struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
}

func encodeFrame(name string, payload any, ack uint64) ([]byte, error) {
	env := envelope{Event: name, Ack: ack}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", name, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

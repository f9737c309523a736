package realtime

import (
	"context"
	"encoding/json"

	"cellsync/api/internal/rbac"
	"github.com/tidwall/gjson"
)

// writeCellSpec relays a cell edit to the rest of the sheet room.
// Last write wins; nothing is merged or stored.
type writeCellSpec struct {
	hub *Hub
}

func (s *writeCellSpec) Name() string { return "writeCell" }

// Validate requires {"line": integer, "column": string, "content": string}.
func (s *writeCellSpec) Validate(payload []byte) bool {
	if !gjson.ValidBytes(payload) {
		return false
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return false
	}
	if _, ok := integerValue(root.Get("line")); !ok {
		return false
	}
	return root.Get("column").Type == gjson.String && root.Get("content").Type == gjson.String
}

func (s *writeCellSpec) Handle(ctx context.Context, c *Conn, payload []byte) {
	if s.hub.cfg.ReadOnlyReaders && !rbac.Can(rbac.Normalize(c.Role()), rbac.ActionWrite) {
		c.logger.Info("cell edit dropped for read-only grant", "room", c.RoomID())
		return
	}
	msg, _ := s.hub.protocol.Outbound(WriteCell)
	if err := s.hub.registry.EmitToRoom(c, msg, json.RawMessage(payload), s.hub.cfg.Origin); err != nil {
		c.logger.Warn("broadcast cell edit failed", "error", err)
	}
}

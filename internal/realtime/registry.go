package realtime

import (
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
)

// OriginPolicy decides whether a room broadcast reaches the sending connection.
type OriginPolicy int

const (
	ExcludeOrigin OriginPolicy = iota
	IncludeOrigin
)

// RoomID names the broadcast room of a sheet.
func RoomID(sheetID int64) string {
	return "sheet" + strconv.FormatInt(sheetID, 10)
}

// Registry owns every live connection and the room memberships. Rooms exist
// only while they have members.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	rooms  map[string]map[string]*Conn
	logger *slog.Logger
	// evict is called outside the lock for connections whose send queue overflowed.
	evict func(*Conn)
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
		logger: logger.With("component", "registry"),
	}
}

func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
}

// Unregister removes the connection and its room membership. It reports
// whether the connection was still registered.
func (r *Registry) Unregister(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; !ok {
		return false
	}
	delete(r.conns, c.id)
	r.leaveLocked(c)
	return true
}

// JoinRoom moves a registered connection into roomID.
func (r *Registry) JoinRoom(c *Conn, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; !ok {
		return false
	}
	r.joinLocked(c, roomID)
	return true
}

// Authenticate records the identity of a connection that is awaiting
// credentials and joins it to roomID in one step. It fails when the
// connection has been unregistered or already left the handshake.
func (r *Registry) Authenticate(c *Conn, userID, role, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; !ok {
		return false
	}
	c.mu.Lock()
	if c.closed || c.state != StateAwaitingCredentials {
		c.mu.Unlock()
		return false
	}
	c.state = StateAuthenticated
	c.userID = userID
	c.role = role
	c.mu.Unlock()
	r.joinLocked(c, roomID)
	return true
}

func (r *Registry) joinLocked(c *Conn, roomID string) {
	r.leaveLocked(c)
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Conn)
		r.rooms[roomID] = members
	}
	members[c.id] = c
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

func (r *Registry) leaveLocked(c *Conn) {
	c.mu.Lock()
	roomID := c.roomID
	c.roomID = ""
	c.mu.Unlock()
	if roomID == "" {
		return
	}
	members := r.rooms[roomID]
	delete(members, c.id)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// Emit sends one message to a single connection. Sending to a closed
// connection is not an error.
func (r *Registry) Emit(c *Conn, msg OutboundMessage, payload any) error {
	frame, err := encodeFrame(msg.Name, payload, 0)
	if err != nil {
		return err
	}
	r.deliver(c, msg.Name, frame)
	return nil
}

// EmitToRoom sends one message to every member of origin's current room as
// it stood when the call started.
func (r *Registry) EmitToRoom(origin *Conn, msg OutboundMessage, payload any, policy OriginPolicy) error {
	roomID := origin.RoomID()
	if roomID == "" {
		return nil
	}
	frame, err := encodeFrame(msg.Name, payload, 0)
	if err != nil {
		return err
	}
	for _, member := range r.snapshot(roomID) {
		if member == origin && policy == ExcludeOrigin {
			continue
		}
		r.deliver(member, msg.Name, frame)
	}
	return nil
}

func (r *Registry) snapshot(roomID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	out := make([]*Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

func (r *Registry) deliver(c *Conn, name string, frame []byte) {
	err := c.write(frame)
	switch {
	case err == nil:
	case errors.Is(err, ErrConnClosed):
		r.logger.Debug("skip send to closed connection", "connID", c.id, "event", name)
	case errors.Is(err, ErrSlowConsumer):
		r.logger.Warn("send queue full, dropping connection", "connID", c.id, "event", name)
		if r.evict != nil {
			r.evict(c)
		}
	default:
		r.logger.Warn("send failed", "connID", c.id, "event", name, "error", err)
	}
}

// Members returns the ids of the connections in roomID, sorted.
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len is the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Rooms is the number of rooms that currently have members.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) all() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

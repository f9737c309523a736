package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cellsync/api/internal/store"
)

type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	full     bool
	closedCh chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closedCh: make(chan struct{})}
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnClosed
	}
	if f.full {
		return ErrSlowConsumer
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.closedCh)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) envelopes(t *testing.T) []envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("decode frame %s: %v", frame, err)
		}
		out = append(out, env)
	}
	return out
}

func (f *fakeTransport) events(t *testing.T) []string {
	t.Helper()
	var names []string
	for _, env := range f.envelopes(t) {
		names = append(names, env.Event)
	}
	return names
}

type fakeVerifier struct {
	users map[string]string
}

func (v fakeVerifier) VerifyToken(_ context.Context, token string) (string, error) {
	userID, ok := v.users[token]
	if !ok {
		return "", errors.New("invalid token")
	}
	return userID, nil
}

type grantKey struct {
	userID  string
	sheetID int64
}

type fakeAccess struct {
	grants map[grantKey]string
	err    error
	calls  atomic.Int32
	// block, when set, holds the lookup until it is closed or ctx ends.
	block chan struct{}
}

func (a *fakeAccess) LookupAccess(ctx context.Context, userID string, sheetID int64) (store.Grant, bool, error) {
	a.calls.Add(1)
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return store.Grant{}, false, ctx.Err()
		}
	}
	if a.err != nil {
		return store.Grant{}, false, a.err
	}
	right, ok := a.grants[grantKey{userID, sheetID}]
	if !ok {
		return store.Grant{}, false, nil
	}
	return store.Grant{UserID: userID, SheetID: sheetID, AccessRight: right}, true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture: alice and bob write sheet 7, carol reads it, dave writes sheet 8.
func newFixture(cfg Config) (*Hub, *fakeAccess) {
	verifier := fakeVerifier{users: map[string]string{
		"tok-alice": "alice",
		"tok-bob":   "bob",
		"tok-carol": "carol",
		"tok-dave":  "dave",
	}}
	access := &fakeAccess{grants: map[grantKey]string{
		{"alice", 7}: "owner",
		{"bob", 7}:   "writer",
		{"carol", 7}: "reader",
		{"dave", 8}:  "writer",
	}}
	return NewHub(cfg, verifier, access, discardLogger()), access
}

func authReply(ack uint64, token string, sheetID int64) []byte {
	return []byte(fmt.Sprintf(`{"ack":%d,"data":{"token":%q,"sheetId":%d}}`, ack, token, sheetID))
}

func firstAck(t *testing.T, tr *fakeTransport) uint64 {
	t.Helper()
	envs := tr.envelopes(t)
	if len(envs) == 0 || envs[0].Event != "authReq" || envs[0].Ack == 0 {
		t.Fatalf("expected authReq with ack as first frame, got %+v", envs)
	}
	return envs[0].Ack
}

// join connects and completes the handshake for token on sheetID.
func join(t *testing.T, h *Hub, token string, sheetID int64) (*Conn, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	c := h.Connect(context.Background(), tr)
	h.Receive(c, authReply(firstAck(t, tr), token, sheetID))
	if c.State() != StateAuthenticated {
		t.Fatalf("expected %s to authenticate, state %s", token, c.State())
	}
	return c, tr
}

func waitClosed(t *testing.T, tr *fakeTransport, within time.Duration) {
	t.Helper()
	select {
	case <-tr.closedCh:
	case <-time.After(within):
		t.Fatalf("transport not closed within %s", within)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package realtime

import (
	"context"
	"testing"
)

const cellEdit = `{"line":3,"column":"B","content":"=SUM(A1:A3)"}`

func writeCellFrame(data string) []byte {
	return []byte(`{"event":"writeCell","data":` + data + `}`)
}

func TestWriteCellValidation(t *testing.T) {
	cell := &writeCellSpec{}
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"integer line", `{"line":3,"column":"B","content":"x"}`, true},
		{"integral float line", `{"line":3.0,"column":"B","content":"x"}`, true},
		{"empty strings", `{"line":0,"column":"","content":""}`, true},
		{"extra fields", `{"line":1,"column":"A","content":"x","style":"bold"}`, true},
		{"string line", `{"line":"3","column":"B","content":"x"}`, false},
		{"fractional line", `{"line":3.5,"column":"B","content":"x"}`, false},
		{"array payload", `[3,"B","x"]`, false},
		{"numeric column", `{"line":3,"column":2,"content":"x"}`, false},
		{"null content", `{"line":3,"column":"B","content":null}`, false},
		{"missing content", `{"line":3,"column":"B"}`, false},
		{"missing line", `{"column":"B","content":"x"}`, false},
		{"not json", `{"line":3,`, false},
		{"empty", ``, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := cell.Validate([]byte(tc.payload)); got != tc.want {
				t.Fatalf("Validate(%s) = %v, want %v", tc.payload, got, tc.want)
			}
		})
	}
}

func TestBroadcastReachesRoomExceptOrigin(t *testing.T) {
	h, _ := newFixture(DefaultConfig())
	alice, aliceTr := join(t, h, "tok-alice", 7)
	_, bobTr := join(t, h, "tok-bob", 7)
	_, carolTr := join(t, h, "tok-carol", 7)
	_, daveTr := join(t, h, "tok-dave", 8)

	h.Receive(alice, writeCellFrame(cellEdit))

	for name, tr := range map[string]*fakeTransport{"bob": bobTr, "carol": carolTr} {
		envs := tr.envelopes(t)
		last := envs[len(envs)-1]
		if last.Event != "writeCell" || string(last.Data) != cellEdit {
			t.Fatalf("%s expected identical writeCell payload, got %s %s", name, last.Event, last.Data)
		}
	}
	if got := aliceTr.events(t); !equalStrings(got, []string{"authReq", "authOk"}) {
		t.Fatalf("origin must not receive its own edit, got %v", got)
	}
	if got := daveTr.events(t); !equalStrings(got, []string{"authReq", "authOk"}) {
		t.Fatalf("other rooms must not receive the edit, got %v", got)
	}
}

// Two editors on one sheet: each sees the other's edits and never its own.
func TestTwoEditorsExchangeEdits(t *testing.T) {
	h, _ := newFixture(DefaultConfig())
	c1, tr1 := join(t, h, "tok-alice", 7)
	c2, tr2 := join(t, h, "tok-bob", 7)

	first := `{"line":1,"column":"A","content":"hello"}`
	second := `{"line":1,"column":"A","content":"world"}`
	h.Receive(c1, writeCellFrame(first))
	h.Receive(c2, writeCellFrame(second))

	env1 := tr1.envelopes(t)
	env2 := tr2.envelopes(t)
	if len(env1) != 3 || string(env1[2].Data) != second {
		t.Fatalf("c1 expected only c2's edit, got %+v", env1)
	}
	if len(env2) != 3 || string(env2[2].Data) != first {
		t.Fatalf("c2 expected only c1's edit, got %+v", env2)
	}
}

func TestIncludeOriginEchoesEdit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Origin = IncludeOrigin
	h, _ := newFixture(cfg)
	alice, aliceTr := join(t, h, "tok-alice", 7)
	_, bobTr := join(t, h, "tok-bob", 7)

	h.Receive(alice, writeCellFrame(cellEdit))

	for _, tr := range []*fakeTransport{aliceTr, bobTr} {
		if got := tr.events(t); !equalStrings(got, []string{"authReq", "authOk", "writeCell"}) {
			t.Fatalf("expected echo to every member, got %v", got)
		}
	}
}

func TestReaderGrantEditsByDefault(t *testing.T) {
	h, _ := newFixture(DefaultConfig())
	_, aliceTr := join(t, h, "tok-alice", 7)
	carol, carolTr := join(t, h, "tok-carol", 7)

	h.Receive(carol, writeCellFrame(cellEdit))

	if got := aliceTr.events(t); !equalStrings(got, []string{"authReq", "authOk", "writeCell"}) {
		t.Fatalf("reader edit must reach the room, got %v", got)
	}
	if got := carolTr.events(t); !equalStrings(got, []string{"authReq", "authOk"}) {
		t.Fatalf("reader must not receive its own edit, got %v", got)
	}
}

func TestReadOnlyReadersCannotEdit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadOnlyReaders = true
	h, _ := newFixture(cfg)
	_, aliceTr := join(t, h, "tok-alice", 7)
	bob, _ := join(t, h, "tok-bob", 7)
	carol, _ := join(t, h, "tok-carol", 7)

	h.Receive(carol, writeCellFrame(cellEdit))

	if got := aliceTr.events(t); !equalStrings(got, []string{"authReq", "authOk"}) {
		t.Fatalf("reader edit must not be broadcast, got %v", got)
	}

	h.Receive(bob, writeCellFrame(cellEdit))
	if got := aliceTr.events(t); !equalStrings(got, []string{"authReq", "authOk", "writeCell"}) {
		t.Fatalf("writer edit must still be broadcast, got %v", got)
	}
}

func TestEditsBeforeAuthenticationHaveNoEffect(t *testing.T) {
	h, _ := newFixture(DefaultConfig())
	_, aliceTr := join(t, h, "tok-alice", 7)

	tr := newFakeTransport()
	pending := h.Connect(context.Background(), tr)
	h.Receive(pending, writeCellFrame(cellEdit))

	if got := aliceTr.events(t); !equalStrings(got, []string{"authReq", "authOk"}) {
		t.Fatalf("pre-auth edit leaked to room: %v", got)
	}
	if pending.State() != StateAwaitingCredentials || pending.RoomID() != "" {
		t.Fatalf("pre-auth edit changed connection: state=%s room=%q", pending.State(), pending.RoomID())
	}
	// The handshake is still answerable afterwards.
	h.Receive(pending, authReply(firstAck(t, tr), "tok-bob", 7))
	if pending.State() != StateAuthenticated {
		t.Fatalf("expected handshake to complete, got %s", pending.State())
	}
}

func TestDispatcherDropsUnknownAndInvalidFrames(t *testing.T) {
	h, _ := newFixture(DefaultConfig())
	alice, _ := join(t, h, "tok-alice", 7)
	_, bobTr := join(t, h, "tok-bob", 7)

	frames := []string{
		`{"event":"deleteSheet","data":{}}`,
		`{"event":"writeCell","data":{"line":"3","column":"B","content":"x"}}`,
		`{"event":"writeCell","data":{"line":3.5,"column":"B","content":"x"}}`,
		`{"event":"writeCell","data":[3,"B","x"]}`,
		`{"event":"writeCell"}`,
		`not json`,
		`{"event":7}`,
		`{}`,
		`{"ack":99,"data":{}}`,
	}
	for _, frame := range frames {
		h.Receive(alice, []byte(frame))
	}

	if got := bobTr.events(t); !equalStrings(got, []string{"authReq", "authOk"}) {
		t.Fatalf("expected every frame to be dropped, got %v", got)
	}
	if alice.State() != StateAuthenticated {
		t.Fatal("dropped frames must not affect the sender")
	}
}

func TestBroadcastSkipsConnectionRemovedBeforeSend(t *testing.T) {
	h, _ := newFixture(DefaultConfig())
	alice, _ := join(t, h, "tok-alice", 7)
	bob, bobTr := join(t, h, "tok-bob", 7)

	h.Disconnect(bob)
	h.Receive(alice, writeCellFrame(cellEdit))

	if got := bobTr.events(t); !equalStrings(got, []string{"authReq", "authOk"}) {
		t.Fatalf("removed connection was written to: %v", got)
	}
}

func TestSlowConsumerIsEvicted(t *testing.T) {
	h, _ := newFixture(DefaultConfig())
	alice, _ := join(t, h, "tok-alice", 7)
	bob, bobTr := join(t, h, "tok-bob", 7)

	bobTr.mu.Lock()
	bobTr.full = true
	bobTr.mu.Unlock()

	h.Receive(alice, writeCellFrame(cellEdit))

	if !bobTr.isClosed() {
		t.Fatal("expected slow consumer transport to be closed")
	}
	if got := h.Registry().Members("sheet7"); !equalStrings(got, []string{alice.ID()}) {
		t.Fatalf("expected only alice in room, got %v", got)
	}
	if bob.RoomID() != "" {
		t.Fatal("evicted connection must leave its room")
	}
}

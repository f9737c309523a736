package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"

	"cellsync/api/internal/store"
	"github.com/tidwall/gjson"
)

// TokenVerifier resolves a bearer token to the user it was issued for.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (userID string, err error)
}

// AccessLookup finds the grant a user holds on a sheet. A missing grant is
// reported as found == false with a nil error.
type AccessLookup interface {
	LookupAccess(ctx context.Context, userID string, sheetID int64) (store.Grant, bool, error)
}

// AuthCredential is the client's answer to authReq.
type AuthCredential struct {
	Token   string
	SheetID int64
}

var errMalformedCredential = errors.New("malformed credential")

// Refusal reasons, logged only; the client always sees authFail.
const (
	reasonMalformed = "malformed_payload"
	reasonToken     = "invalid_credential"
	reasonNoAccess  = "no_access"
	reasonLookup    = "access_lookup_failed"
	reasonTimeout   = "handshake_timeout"
)

// handshake is the responder armed by authReq. The Conn's reply slot makes
// sure only one of Reply, Expire or Cancel runs.
type handshake struct {
	hub  *Hub
	conn *Conn
}

func newHandshake(h *Hub, c *Conn) Responder {
	return &handshake{hub: h, conn: c}
}

func (hs *handshake) Reply(ctx context.Context, payload json.RawMessage) {
	cred, err := parseCredential(payload)
	if err != nil {
		hs.refuse(reasonMalformed)
		return
	}

	userID, err := hs.hub.tokens.VerifyToken(ctx, cred.Token)
	if ctx.Err() != nil {
		hs.conn.logger.Debug("connection closed during token check")
		return
	}
	if err != nil {
		hs.conn.logger.Debug("token rejected", "error", err)
		hs.refuse(reasonToken)
		return
	}

	grant, found, err := hs.hub.access.LookupAccess(ctx, userID, cred.SheetID)
	if ctx.Err() != nil {
		hs.conn.logger.Debug("connection closed during access lookup", "userID", userID)
		return
	}
	if err != nil {
		hs.conn.logger.Warn("access lookup failed", "userID", userID, "sheetID", cred.SheetID, "error", err)
		hs.refuse(reasonLookup)
		return
	}
	if !found {
		hs.refuse(reasonNoAccess)
		return
	}

	roomID := RoomID(cred.SheetID)
	if !hs.hub.registry.Authenticate(hs.conn, userID, grant.AccessRight, roomID) {
		hs.conn.logger.Debug("connection left before authentication completed", "userID", userID)
		return
	}
	hs.conn.logger.Info("connection authenticated", "userID", userID, "room", roomID, "role", grant.AccessRight)
	hs.hub.Emit(hs.conn, AuthSuccess, nil)
}

func (hs *handshake) Expire() {
	hs.refuse(reasonTimeout)
}

func (hs *handshake) Cancel() {
	hs.conn.logger.Debug("handshake cancelled by disconnect")
}

// refuse emits authFail and then closes the connection. The transport
// flushes queued frames before the close frame.
func (hs *handshake) refuse(reason string) {
	if !hs.conn.transition(StateAwaitingCredentials, StateRefused) {
		return
	}
	hs.conn.logger.Info("authentication refused", "reason", reason)
	hs.hub.Emit(hs.conn, AuthRefused, nil)
	hs.hub.Disconnect(hs.conn)
}

// parseCredential accepts {"token": string, "sheetId": integer}. sheetID is
// accepted as an alternative spelling of the key.
func parseCredential(payload []byte) (AuthCredential, error) {
	if !gjson.ValidBytes(payload) {
		return AuthCredential{}, errMalformedCredential
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return AuthCredential{}, errMalformedCredential
	}
	token := root.Get("token")
	if token.Type != gjson.String || token.Str == "" {
		return AuthCredential{}, errMalformedCredential
	}
	sheet := root.Get("sheetId")
	if !sheet.Exists() {
		sheet = root.Get("sheetID")
	}
	sheetID, ok := integerValue(sheet)
	if !ok {
		return AuthCredential{}, errMalformedCredential
	}
	return AuthCredential{Token: token.Str, SheetID: sheetID}, nil
}

// integerValue accepts JSON numbers with no fractional part, so 3 and 3.0
// pass while "3" and 3.5 do not.
func integerValue(v gjson.Result) (int64, bool) {
	if v.Type != gjson.Number {
		return 0, false
	}
	if n, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
		return n, true
	}
	f := v.Num
	if math.IsInf(f, 0) || math.IsNaN(f) || math.Trunc(f) != f {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

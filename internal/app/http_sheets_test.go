package app

import (
	"context"
	"net/http"
	"testing"

	"cellsync/api/internal/store"
)

func TestCreateSheetMakesCallerOwner(t *testing.T) {
	var owner string
	fs := &fakeStore{
		createSheetFn: func(_ context.Context, sheet store.Sheet, ownerID string) (store.Sheet, error) {
			owner = ownerID
			sheet.ID = 42
			return sheet, nil
		},
	}
	server, tokens := newSheetServer(t, fs)

	rr, payload := doJSON(t, server.Handler(), http.MethodPost, "/api/sheets", tokens["walt"], `{"title":"  Q3 plan ","detail":"draft"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["title"] != "Q3 plan" || payload["access"] != "owner" || payload["id"] != float64(42) {
		t.Fatalf("unexpected sheet payload %v", payload)
	}
	if owner != writerUser.ID {
		t.Fatalf("expected owner %s, got %s", writerUser.ID, owner)
	}

	rr, payload = doJSON(t, server.Handler(), http.MethodPost, "/api/sheets", tokens["walt"], `{"title":"   "}`)
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 for blank title, got %d %v", rr.Code, payload)
	}
}

func TestListSheetsByScope(t *testing.T) {
	var scopes []store.SheetScope
	fs := &fakeStore{
		listSheetsForUserFn: func(_ context.Context, userID string, scope store.SheetScope) ([]store.AccessibleSheet, error) {
			scopes = append(scopes, scope)
			return []store.AccessibleSheet{{Sheet: store.Sheet{ID: 7, Title: "Budget"}, AccessRight: "reader"}}, nil
		},
	}
	server, tokens := newSheetServer(t, fs)

	for _, path := range []string{"/api/sheets", "/api/sheets/owned", "/api/sheets/shared"} {
		rr, payload := doJSON(t, server.Handler(), http.MethodGet, path, tokens["rita"], "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rr.Code)
		}
		items, _ := payload["items"].([]any)
		if len(items) != 1 {
			t.Fatalf("%s: expected one item, got %v", path, payload)
		}
	}
	want := []store.SheetScope{store.ScopeAccessible, store.ScopeOwned, store.ScopeShared}
	for i := range want {
		if scopes[i] != want[i] {
			t.Fatalf("expected scopes %v, got %v", want, scopes)
		}
	}
}

func TestSheetAccessByRole(t *testing.T) {
	var updated, deleted bool
	fs := &fakeStore{
		updateSheetFn: func(context.Context, int64, *string, *string) error {
			updated = true
			return nil
		},
		deleteSheetFn: func(context.Context, int64) error {
			deleted = true
			return nil
		},
	}
	server, tokens := newSheetServer(t, fs)

	tests := []struct {
		name   string
		login  string
		method string
		path   string
		body   string
		status int
	}{
		{"reader reads", "rita", http.MethodGet, "/api/sheets/7", "", http.StatusOK},
		{"outsider reads", "oscar", http.MethodGet, "/api/sheets/7", "", http.StatusForbidden},
		{"missing sheet", "olive", http.MethodGet, "/api/sheets/8", "", http.StatusNotFound},
		{"bad id", "olive", http.MethodGet, "/api/sheets/x", "", http.StatusUnprocessableEntity},
		{"reader edits", "rita", http.MethodPatch, "/api/sheets/7", `{"title":"New"}`, http.StatusForbidden},
		{"writer blanks title", "walt", http.MethodPatch, "/api/sheets/7", `{"title":" "}`, http.StatusUnprocessableEntity},
		{"writer edits", "walt", http.MethodPatch, "/api/sheets/7", `{"title":"New"}`, http.StatusOK},
		{"writer deletes", "walt", http.MethodDelete, "/api/sheets/7", "", http.StatusForbidden},
		{"owner deletes", "olive", http.MethodDelete, "/api/sheets/7", "", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr, _ := doJSON(t, server.Handler(), tc.method, tc.path, tokens[tc.login], tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
	if !updated || !deleted {
		t.Fatalf("expected update and delete to reach the store, updated=%v deleted=%v", updated, deleted)
	}
}

func TestProfileEditsAreSelfOnly(t *testing.T) {
	var patched store.UserPatch
	fs := &fakeStore{
		updateUserFn: func(_ context.Context, id string, patch store.UserPatch) error {
			patched = patch
			return nil
		},
	}
	server, tokens := newSheetServer(t, fs)

	rr, payload := doJSON(t, server.Handler(), http.MethodPatch, "/api/users/user-reader", tokens["walt"], `{"firstname":"Hacked"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 editing another profile, got %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, server.Handler(), http.MethodPatch, "/api/users/user-reader", tokens["rita"], `{"firstname":"Margarita"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rr.Code, payload)
	}
	if patched.Firstname == nil || *patched.Firstname != "Margarita" {
		t.Fatalf("expected firstname patch, got %+v", patched)
	}

	rr, payload = doJSON(t, server.Handler(), http.MethodGet, "/api/users/user-reader", tokens["walt"], "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, visible := payload["mail"]; visible {
		t.Fatalf("mail must only be visible to its owner, got %v", payload)
	}
}

func TestSearchWithoutBackendReturnsEmpty(t *testing.T) {
	server, tokens := newSheetServer(t, &fakeStore{})

	rr, payload := doJSON(t, server.Handler(), http.MethodGet, "/api/search?q=budget", tokens["rita"], "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload["query"] != "budget" {
		t.Fatalf("expected echoed query, got %v", payload)
	}

	rr, payload = doJSON(t, server.Handler(), http.MethodGet, "/api/search?q=budget&limit=ten", tokens["rita"], "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for non-integer limit, got %d %v", rr.Code, payload)
	}
}

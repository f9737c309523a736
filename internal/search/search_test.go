package search

import (
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

func TestHitToResultPrefersHighlightedFields(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"42"`),
		"title":      json.RawMessage(`"Budget"`),
		"detail":     json.RawMessage(`"quarterly numbers"`),
		"_formatted": json.RawMessage(`{"title":"<mark>Budget</mark>","detail":"","members":["u1"]}`),
	}
	got, ok := hitToResult(hit)
	if !ok {
		t.Fatal("expected hit to decode")
	}
	if got.SheetID != 42 {
		t.Fatalf("expected sheet id 42, got %d", got.SheetID)
	}
	if got.Title != "<mark>Budget</mark>" {
		t.Fatalf("expected highlighted title, got %q", got.Title)
	}
	if got.Snippet != "quarterly numbers" {
		t.Fatalf("expected raw detail when highlight is blank, got %q", got.Snippet)
	}
}

func TestHitToResultRejectsNonNumericID(t *testing.T) {
	if _, ok := hitToResult(meili.Hit{"id": json.RawMessage(`"abc"`)}); ok {
		t.Fatal("expected non-numeric id to be rejected")
	}
}

func TestMemberFilterQuotesUserID(t *testing.T) {
	got := memberFilter(`6c1f"x`)
	if got != `members = "6c1f\"x"` {
		t.Fatalf("unexpected filter %s", got)
	}
}

func TestNormalizeClampsPaging(t *testing.T) {
	q := normalize(Query{Limit: 1000, Offset: -3})
	if q.Limit != 20 || q.Offset != 0 {
		t.Fatalf("expected limit 20 offset 0, got %+v", q)
	}
	q = normalize(Query{Limit: 5, Offset: 10})
	if q.Limit != 5 || q.Offset != 10 {
		t.Fatalf("expected paging to be kept, got %+v", q)
	}
}

func TestSplitMembers(t *testing.T) {
	if got := splitMembers(""); len(got) != 0 {
		t.Fatalf("expected no members, got %v", got)
	}
	got := splitMembers("a,b")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected members %v", got)
	}
}

func TestServiceWithoutBackendsReturnsEmpty(t *testing.T) {
	svc := NewService(nil, nil)
	resp := svc.Search(Query{Text: "budget", UserID: "u1"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Query != "budget" {
		t.Fatalf("unexpected response %+v", resp)
	}
	svc.RefreshSheet(1)
	svc.DeleteSheet(1)
	svc.Close()
}

package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("jti")
	if !strings.HasPrefix(id, "jti_") || len(id) != len("jti_")+32 {
		t.Fatalf("unexpected id %q", id)
	}
	if bare := NewID(""); len(bare) != 32 || strings.Contains(bare, "_") {
		t.Fatalf("unexpected bare id %q", bare)
	}
	if NewID("x") == NewID("x") {
		t.Fatalf("ids must not repeat")
	}
}

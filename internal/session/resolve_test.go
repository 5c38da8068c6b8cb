package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stridehq/stride/internal/session"
	"github.com/stridehq/stride/pkg/models"
)

func seedResults(t *testing.T, s *session.Store, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Create(ctx, id, "user-1", "tenant-1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := s.AppendMessage(ctx, id, models.Message{
		Role:    models.RoleAssistant,
		Content: "found these",
		Entities: []models.EntityRef{
			{Type: "task", ID: "t-1", Title: "Fix login"},
			{Type: "bug", ID: "b-2", Title: "Crash on save"},
			{Type: "task", ID: "t-3", Title: "Update docs"},
		},
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
}

func TestResolveReference_OrdinalGlobal(t *testing.T) {
	s := newTestStore(t, session.Config{TTL: time.Minute, OrdinalScope: session.OrdinalScopeGlobal})
	seedResults(t, s, "sess-ord")
	ctx := context.Background()

	ref, ok, err := s.ResolveReference(ctx, "sess-ord", "the first one")
	if err != nil {
		t.Fatalf("ResolveReference() error = %v", err)
	}
	if !ok {
		t.Fatal("ResolveReference() did not resolve")
	}
	if ref.ID != "t-1" {
		t.Errorf("first one = %q, want t-1 (index 0 of last result set)", ref.ID)
	}

	ref, ok, _ = s.ResolveReference(ctx, "sess-ord", "the second one")
	if !ok || ref.ID != "b-2" {
		t.Errorf("second one = %q (ok=%v), want b-2", ref.ID, ok)
	}

	ref, ok, _ = s.ResolveReference(ctx, "sess-ord", "the last one")
	if !ok || ref.ID != "t-3" {
		t.Errorf("last one = %q (ok=%v), want t-3", ref.ID, ok)
	}
}

func TestResolveReference_OrdinalPerType(t *testing.T) {
	s := newTestStore(t, session.Config{TTL: time.Minute, OrdinalScope: session.OrdinalScopePerType})
	seedResults(t, s, "sess-pt")
	ctx := context.Background()

	// Global index 1 is a bug; per-type "second task" skips it.
	ref, ok, err := s.ResolveReference(ctx, "sess-pt", "the second task")
	if err != nil {
		t.Fatalf("ResolveReference() error = %v", err)
	}
	if !ok || ref.ID != "t-3" {
		t.Errorf("second task = %q (ok=%v), want t-3", ref.ID, ok)
	}
}

func TestResolveReference_Demonstrative(t *testing.T) {
	s := newTestStore(t, session.Config{TTL: time.Minute})
	seedResults(t, s, "sess-dem")
	ctx := context.Background()

	ref, ok, _ := s.ResolveReference(ctx, "sess-dem", "close that bug")
	if !ok || ref.ID != "b-2" {
		t.Errorf("that bug = %q (ok=%v), want b-2", ref.ID, ok)
	}
	// Most recent of the type wins.
	ref, ok, _ = s.ResolveReference(ctx, "sess-dem", "assign that task to me")
	if !ok || ref.ID != "t-3" {
		t.Errorf("that task = %q (ok=%v), want t-3", ref.ID, ok)
	}
}

func TestResolveReference_Unresolved(t *testing.T) {
	s := newTestStore(t, session.Config{TTL: time.Minute})
	ctx := context.Background()
	s.Create(ctx, "sess-empty", "user-1", "tenant-1")

	// No result set tracked yet.
	if _, ok, _ := s.ResolveReference(ctx, "sess-empty", "the first one"); ok {
		t.Error("resolved an ordinal with no tracked results")
	}
	// Ordinal past the end of the set.
	seedResults(t, s, "sess-oob")
	if _, ok, _ := s.ResolveReference(ctx, "sess-oob", "the fifth one"); ok {
		t.Error("resolved an ordinal beyond the result set")
	}
	// Unknown session is not-found, not an error.
	if _, ok, err := s.ResolveReference(ctx, "no-such-session", "the first one"); ok || err != nil {
		t.Errorf("unknown session: ok=%v err=%v, want false/nil", ok, err)
	}
}

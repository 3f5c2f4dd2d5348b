package sqlite

import (
	"context"
	"os"
	"testing"

	"github.com/GaryBoone/ai-critics/pkg/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	tmpFile := t.TempDir() + "/test.db"
	s, err := New(tmpFile)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		os.Remove(tmpFile)
	})
	return s, tmpFile
}

func TestPersistsAcrossReopen(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &domain.Run{ID: "run-1", Problem: "p"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.Append(ctx, &domain.Event{RunID: "run-1", Type: domain.EventProposal, Proposal: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	s.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	ev := &domain.Event{RunID: "run-1", Type: domain.EventVerdict, Proposal: 1}
	if err := s2.Append(ctx, ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ev.Seq != 2 {
		t.Errorf("Seq = %d, want 2", ev.Seq)
	}
	got, err := s2.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Problem != "p" {
		t.Errorf("Problem = %q, want %q", got.Problem, "p")
	}
}

func TestCreateRun_DuplicateID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &domain.Run{ID: "dup"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateRun(ctx, &domain.Run{ID: "dup"}); err == nil {
		t.Error("expected error on duplicate run ID")
	}
}

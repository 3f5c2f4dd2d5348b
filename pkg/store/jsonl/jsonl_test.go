package jsonl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GaryBoone/ai-critics/pkg/domain"
)

func TestSeqRecoveredAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRun(ctx, &domain.Run{ID: "run-1"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Append(ctx, &domain.Event{RunID: "run-1", Type: domain.EventProposal}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	ev := &domain.Event{RunID: "run-1", Type: domain.EventVerification}
	if err := s2.Append(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if ev.Seq != 3 {
		t.Errorf("Seq = %d, want 3", ev.Seq)
	}
}

func TestFileLayout(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.CreateRun(ctx, &domain.Run{ID: "run-1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, &domain.Event{RunID: "run-1", Type: domain.EventProposal, Content: "line one\nline two"}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "runs", "index.json")); err != nil {
		t.Errorf("index.json: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "runs", "run-1.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 1 {
		t.Errorf("event file has %d lines, want 1", n)
	}
}

func TestCreateRun_DuplicateID(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.CreateRun(ctx, &domain.Run{ID: "dup"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRun(ctx, &domain.Run{ID: "dup"}); err == nil {
		t.Error("expected error on duplicate run ID")
	}
}

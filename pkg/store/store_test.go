package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GaryBoone/ai-critics/pkg/domain"
	"github.com/GaryBoone/ai-critics/pkg/store"
	"github.com/GaryBoone/ai-critics/pkg/store/jsonl"
	"github.com/GaryBoone/ai-critics/pkg/store/sqlite"
)

// backends returns a constructor per RunStore implementation.
func backends() map[string]func(t *testing.T) store.RunStore {
	return map[string]func(t *testing.T) store.RunStore{
		"jsonl": func(t *testing.T) store.RunStore {
			s, err := jsonl.New(t.TempDir())
			if err != nil {
				t.Fatalf("jsonl.New: %v", err)
			}
			return s
		},
		"sqlite": func(t *testing.T) store.RunStore {
			s, err := sqlite.New(filepath.Join(t.TempDir(), "runs.db"))
			if err != nil {
				t.Fatalf("sqlite.New: %v", err)
			}
			return s
		},
	}
}

func TestRunStore(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("RunLifecycle", func(t *testing.T) { testRunLifecycle(t, newStore(t)) })
			t.Run("EventOrdering", func(t *testing.T) { testEventOrdering(t, newStore(t)) })
			t.Run("ListNewestFirst", func(t *testing.T) { testListNewestFirst(t, newStore(t)) })
			t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
		})
	}
}

func testRunLifecycle(t *testing.T, s store.RunStore) {
	defer s.Close()
	ctx := context.Background()

	run := &domain.Run{ID: uuid.New().String(), Problem: "Write a function that adds two numbers."}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != domain.RunRunning {
		t.Errorf("Status = %q, want %q", got.Status, domain.RunRunning)
	}
	if got.Problem != run.Problem {
		t.Errorf("Problem = %q, want %q", got.Problem, run.Problem)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}

	if err := s.FinishRun(ctx, run.ID, domain.RunExhausted, 3, "maximum proposals exceeded"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, err = s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != domain.RunExhausted {
		t.Errorf("Status = %q, want %q", got.Status, domain.RunExhausted)
	}
	if got.Proposals != 3 {
		t.Errorf("Proposals = %d, want 3", got.Proposals)
	}
	if got.Error != "maximum proposals exceeded" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.FinishedAt == nil {
		t.Error("expected FinishedAt to be set")
	}
}

func testEventOrdering(t *testing.T, s store.RunStore) {
	defer s.Close()
	ctx := context.Background()

	a := &domain.Run{ID: "run-a"}
	b := &domain.Run{ID: "run-b"}
	for _, r := range []*domain.Run{a, b} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	types := []domain.EventType{domain.EventProposal, domain.EventVerdict, domain.EventReview, domain.EventVerification}
	for i, typ := range types {
		ev := &domain.Event{RunID: a.ID, Type: typ, Proposal: 1, Actor: "Coder", Content: "fn main() {}\n"}
		if err := s.Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if ev.Seq != int64(i+1) {
			t.Errorf("Seq = %d, want %d", ev.Seq, i+1)
		}
		if ev.Timestamp.IsZero() {
			t.Error("expected Timestamp to be set")
		}
	}
	if err := s.Append(ctx, &domain.Event{RunID: b.ID, Type: domain.EventProposal}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := s.Events(ctx, a.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != len(types) {
		t.Fatalf("len(events) = %d, want %d", len(events), len(types))
	}
	for i, ev := range events {
		if ev.Type != types[i] {
			t.Errorf("events[%d].Type = %q, want %q", i, ev.Type, types[i])
		}
		if ev.Seq != int64(i+1) {
			t.Errorf("events[%d].Seq = %d, want %d", i, ev.Seq, i+1)
		}
		if ev.Content != "fn main() {}\n" {
			t.Errorf("events[%d].Content = %q", i, ev.Content)
		}
	}

	other, err := s.Events(ctx, b.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(other) != 1 || other[0].Seq != 1 {
		t.Errorf("run-b events = %+v, want one event with seq 1", other)
	}

	empty, err := s.Events(ctx, "no-such-run")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("len(events) = %d, want 0", len(empty))
	}
}

func testListNewestFirst(t *testing.T, s store.RunStore) {
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		run := &domain.Run{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	want := []string{"third", "second", "first"}
	if len(runs) != len(want) {
		t.Fatalf("len(runs) = %d, want %d", len(runs), len(want))
	}
	for i, id := range want {
		if runs[i].ID != id {
			t.Errorf("runs[%d].ID = %q, want %q", i, runs[i].ID, id)
		}
	}
}

func testNotFound(t *testing.T, s store.RunStore) {
	defer s.Close()
	ctx := context.Background()

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRun err = %v, want ErrNotFound", err)
	}
	if err := s.FinishRun(ctx, "missing", domain.RunFailed, 0, ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FinishRun err = %v, want ErrNotFound", err)
	}
	if err := s.Append(ctx, &domain.Event{RunID: "missing", Type: domain.EventProposal}); err == nil {
		t.Error("expected error appending to a missing run")
	}
}

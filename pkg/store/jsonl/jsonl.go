// Package jsonl implements store.RunStore with an index file plus one JSONL
// event file per run.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/GaryBoone/ai-critics/pkg/domain"
	"github.com/GaryBoone/ai-critics/pkg/store"
)

const (
	indexFile = "index.json"
	// maxLine bounds a single event line; events carry whole programs.
	maxLine = 16 << 20
)

// Store implements store.RunStore using JSONL files under a root directory.
type Store struct {
	mu      sync.Mutex
	runsDir string
	files   map[string]*os.File
	seqs    map[string]int64
}

// Verify interface compliance at compile time.
var _ store.RunStore = (*Store)(nil)

// Index represents the index.json structure
type Index struct {
	Runs []domain.Run `json:"runs"`
}

// New opens (or creates) a journal rooted at rootDir.
func New(rootDir string) (*Store, error) {
	runsDir := filepath.Join(rootDir, "runs")
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs dir: %w", err)
	}
	return &Store{
		runsDir: runsDir,
		files:   make(map[string]*os.File),
		seqs:    make(map[string]int64),
	}, nil
}

func (s *Store) eventsPath(id string) string {
	return filepath.Join(s.runsDir, id+".jsonl")
}

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.RunRunning
	}

	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	for _, r := range idx.Runs {
		if r.ID == run.ID {
			return fmt.Errorf("run %s already exists", run.ID)
		}
	}
	idx.Runs = append(idx.Runs, *run)
	return s.writeIndex(idx)
}

func (s *Store) FinishRun(ctx context.Context, id string, status domain.RunStatus, proposals int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	found := false
	for i := range idx.Runs {
		if idx.Runs[i].ID == id {
			now := time.Now().UTC()
			idx.Runs[i].Status = status
			idx.Runs[i].Proposals = proposals
			idx.Runs[i].Error = errMsg
			idx.Runs[i].FinishedAt = &now
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err := s.writeIndex(idx); err != nil {
		return err
	}
	return s.closeFileLocked(id)
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	for _, r := range idx.Runs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
}

func (s *Store) ListRuns(ctx context.Context) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	runs := idx.Runs
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

func (s *Store) Append(ctx context.Context, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileLocked(ev.RunID)
	if err != nil {
		return err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Seq = s.seqs[ev.RunID] + 1

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	s.seqs[ev.RunID] = ev.Seq
	return nil
}

func (s *Store) Events(ctx context.Context, runID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readEvents(runID)
}

// Close closes all open event files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id := range s.files {
		if err := s.closeFileLocked(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fileLocked returns the open event file for a run, opening it and
// recovering the last sequence number on first use.
func (s *Store) fileLocked(id string) (*os.File, error) {
	if f, ok := s.files[id]; ok {
		return f, nil
	}
	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	known := false
	for _, r := range idx.Runs {
		if r.ID == id {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}

	existing, err := s.readEvents(id)
	if err != nil {
		return nil, err
	}
	var last int64
	if n := len(existing); n > 0 {
		last = existing[n-1].Seq
	}

	f, err := os.OpenFile(s.eventsPath(id), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	s.files[id] = f
	s.seqs[id] = last
	return f, nil
}

func (s *Store) closeFileLocked(id string) error {
	f, ok := s.files[id]
	if !ok {
		return nil
	}
	delete(s.files, id)
	delete(s.seqs, id)
	return f.Close()
}

func (s *Store) readEvents(id string) ([]domain.Event, error) {
	f, err := os.Open(s.eventsPath(id))
	if os.IsNotExist(err) {
		return []domain.Event{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	events := []domain.Event{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("corrupt event in %s: %w", id, err)
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

func (s *Store) readIndex() (Index, error) {
	var idx Index
	data, err := os.ReadFile(filepath.Join(s.runsDir, indexFile))
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return idx, err
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return idx, fmt.Errorf("corrupt index: %w", err)
	}
	return idx, nil
}

func (s *Store) writeIndex(idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.runsDir, indexFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.runsDir, indexFile))
}

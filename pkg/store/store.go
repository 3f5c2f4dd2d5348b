// Package store persists the journal of convergence runs.
package store

import (
	"context"
	"errors"

	"github.com/GaryBoone/ai-critics/pkg/domain"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStore records runs and their append-only event streams.
type RunStore interface {
	// CreateRun persists a new run. The ID must be set by the caller; CreatedAt
	// is set by the store when zero.
	CreateRun(ctx context.Context, run *domain.Run) error

	// FinishRun records the terminal status of a run.
	FinishRun(ctx context.Context, id string, status domain.RunStatus, proposals int, errMsg string) error

	// GetRun retrieves a run by ID. Returns ErrNotFound if it does not exist.
	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]domain.Run, error)

	// Append adds an event to the end of a run's stream. The store assigns
	// Seq, and Timestamp when it is zero.
	Append(ctx context.Context, ev *domain.Event) error

	// Events returns a run's events in append order.
	Events(ctx context.Context, runID string) ([]domain.Event, error)

	// Close releases any resources held by the store.
	Close() error
}

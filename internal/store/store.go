// Package store persists the run log: one row per run and one per property
// processed in it.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/adamdsmith/fwspp/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the run log.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, cfg model.RunConfig) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Properties
	RecordProperty(ctx context.Context, runID string, result *model.PropertyResult) error
	ListProperties(ctx context.Context, runID string) ([]model.PropertyLog, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ErrRunNotFound is returned by GetRun when no run has the given ID.
var ErrRunNotFound = eris.New("run not found")

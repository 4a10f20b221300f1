// Package storage persists generation and hall-of-fame snapshots keyed by
// evolution id. Stores only ever see snapshots, never live populations, so a
// failed write cannot leave in-memory training state half-updated.
package storage

import (
	"context"
	"fmt"

	"github.com/pthm-cable/racer/evolution"
)

// Store is the persistence collaborator of a training run.
type Store interface {
	Init(ctx context.Context) error
	SaveGeneration(ctx context.Context, evolutionID string, gen evolution.GenerationSnapshot) error
	LoadLatestGeneration(ctx context.Context, evolutionID string) (evolution.GenerationSnapshot, bool, error)
	SaveHallOfFame(ctx context.Context, evolutionID string, hof evolution.HallOfFameSnapshot) error
	LoadHallOfFame(ctx context.Context, evolutionID string) (evolution.HallOfFameSnapshot, bool, error)
	// TrimHistory keeps the newest keep generations and returns how many were deleted.
	// keep <= 0 keeps everything.
	TrimHistory(ctx context.Context, evolutionID string, keep int) (int, error)
	// LatestEvolution returns the evolution id that saved a generation most recently.
	LatestEvolution(ctx context.Context) (string, bool, error)
	Close() error
}

// NewStore creates an uninitialized store for the named backend.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(path), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

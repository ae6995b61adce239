// Package progress reports how far a unit's analysis has advanced.
package progress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kasane-ai/kasane/internal/model"
	"github.com/kasane-ai/kasane/internal/storage"
)

// Service computes and serves per-unit analysis progress.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates the progress service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Get recomputes and returns the unit's progress counters. The
// recompute is cheap and keeps the cached row honest, so readers
// always see post-resolution counts.
func (s *Service) Get(ctx context.Context, unitID uuid.UUID) (model.Progress, error) {
	p, err := s.db.RecomputeProgress(ctx, unitID)
	if err != nil {
		return model.Progress{}, fmt.Errorf("progress: %w", err)
	}
	return p, nil
}

// Complete reports whether every extracted fragment has reached a
// settled status. Skipped fragments still count as open: skipping
// defers, it does not settle.
func (s *Service) Complete(ctx context.Context, unitID uuid.UUID) (bool, error) {
	p, err := s.Get(ctx, unitID)
	if err != nil {
		return false, err
	}
	open := p.PendingCount + p.NeedsConfirmationCount + p.NeedsDecisionCount
	return p.TotalFragments > 0 && open == 0, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kasane-ai/kasane/internal/model"
)

// RecomputeProgress rebuilds a unit's progress row from its source and
// fragment rows in one statement. The stored row is a cache; this is
// the only writer, so the counts can never drift from the truth for
// longer than one refresh.
func (db *DB) RecomputeProgress(ctx context.Context, unitID uuid.UUID) (model.Progress, error) {
	var p model.Progress
	err := db.pool.QueryRow(ctx,
		`INSERT INTO unit_progress (unit_id, total_sources, total_fragments,
		   pending_count, auto_integrated_count, needs_confirmation_count,
		   needs_decision_count, resolved_count, skipped_count, updated_at)
		 SELECT u.id,
		   (SELECT COUNT(*) FROM sources s WHERE s.unit_id = u.id),
		   COUNT(f.id),
		   COUNT(f.id) FILTER (WHERE f.status = 'pending'),
		   COUNT(f.id) FILTER (WHERE f.status = 'auto_integrated'),
		   COUNT(f.id) FILTER (WHERE f.status = 'needs_confirmation'),
		   COUNT(f.id) FILTER (WHERE f.status = 'needs_decision'),
		   COUNT(f.id) FILTER (WHERE f.status = 'resolved'),
		   (SELECT COUNT(DISTINCT d.fragment_id) FROM decisions d
		    JOIN fragments df ON df.id = d.fragment_id
		    JOIN sources ds ON ds.id = df.source_id
		    WHERE ds.unit_id = u.id AND d.skipped),
		   now()
		 FROM units u
		 LEFT JOIN sources s ON s.unit_id = u.id
		 LEFT JOIN fragments f ON f.source_id = s.id
		 WHERE u.id = $1
		 GROUP BY u.id
		 ON CONFLICT (unit_id) DO UPDATE SET
		   total_sources = EXCLUDED.total_sources,
		   total_fragments = EXCLUDED.total_fragments,
		   pending_count = EXCLUDED.pending_count,
		   auto_integrated_count = EXCLUDED.auto_integrated_count,
		   needs_confirmation_count = EXCLUDED.needs_confirmation_count,
		   needs_decision_count = EXCLUDED.needs_decision_count,
		   resolved_count = EXCLUDED.resolved_count,
		   skipped_count = EXCLUDED.skipped_count,
		   updated_at = EXCLUDED.updated_at
		 RETURNING unit_id, total_sources, total_fragments, pending_count,
		   auto_integrated_count, needs_confirmation_count, needs_decision_count,
		   resolved_count, skipped_count, updated_at`,
		unitID,
	).Scan(
		&p.UnitID, &p.TotalSources, &p.TotalFragments, &p.PendingCount,
		&p.AutoIntegratedCount, &p.NeedsConfirmationCount, &p.NeedsDecisionCount,
		&p.ResolvedCount, &p.SkippedCount, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Progress{}, fmt.Errorf("storage: unit %s: %w", unitID, ErrNotFound)
		}
		return model.Progress{}, fmt.Errorf("storage: recompute progress: %w", err)
	}
	return p, nil
}

// GetProgress reads the stored progress row without refreshing it.
func (db *DB) GetProgress(ctx context.Context, unitID uuid.UUID) (model.Progress, error) {
	var p model.Progress
	err := db.pool.QueryRow(ctx,
		`SELECT unit_id, total_sources, total_fragments, pending_count,
		 auto_integrated_count, needs_confirmation_count, needs_decision_count,
		 resolved_count, skipped_count, updated_at
		 FROM unit_progress WHERE unit_id = $1`,
		unitID,
	).Scan(
		&p.UnitID, &p.TotalSources, &p.TotalFragments, &p.PendingCount,
		&p.AutoIntegratedCount, &p.NeedsConfirmationCount, &p.NeedsDecisionCount,
		&p.ResolvedCount, &p.SkippedCount, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Progress{}, fmt.Errorf("storage: progress for %s: %w", unitID, ErrNotFound)
		}
		return model.Progress{}, fmt.Errorf("storage: get progress: %w", err)
	}
	return p, nil
}

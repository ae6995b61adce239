package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kasane-ai/kasane/internal/model"
)

const sourceColumns = `id, unit_id, source_type, name, content, extraction_status, fragment_count, created_at, updated_at`

// CreateSource inserts a source in extraction status pending.
func (db *DB) CreateSource(ctx context.Context, s model.Source) (model.Source, error) {
	if !s.SourceType.Valid() {
		return model.Source{}, fmt.Errorf("storage: create source: unknown type %q", s.SourceType)
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.ExtractionStatus == "" {
		s.ExtractionStatus = model.ExtractionPending
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO sources (id, unit_id, source_type, name, content, extraction_status, fragment_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UnitID, s.SourceType, s.Name, s.Content,
		s.ExtractionStatus, s.FragmentCount, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return model.Source{}, fmt.Errorf("storage: create source: %w", err)
	}
	return s, nil
}

// GetSource retrieves a source by ID.
func (db *DB) GetSource(ctx context.Context, id uuid.UUID) (model.Source, error) {
	var s model.Source
	err := db.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id,
	).Scan(
		&s.ID, &s.UnitID, &s.SourceType, &s.Name, &s.Content,
		&s.ExtractionStatus, &s.FragmentCount, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Source{}, fmt.Errorf("storage: source %s: %w", id, ErrNotFound)
		}
		return model.Source{}, fmt.Errorf("storage: get source: %w", err)
	}
	return s, nil
}

// ListSourcesByUnit returns a unit's sources, newest first.
func (db *DB) ListSourcesByUnit(ctx context.Context, unitID uuid.UUID) ([]model.Source, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE unit_id = $1 ORDER BY created_at DESC`,
		unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list sources: %w", err)
	}
	defer rows.Close()
	return scanSources(rows)
}

// SetExtractionStatus moves a source through the extraction lifecycle.
// fragmentCount is recorded when the status is completed.
func (db *DB) SetExtractionStatus(ctx context.Context, id uuid.UUID, status model.ExtractionStatus, fragmentCount int) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE sources SET extraction_status = $1, fragment_count = $2, updated_at = now()
		 WHERE id = $3`,
		status, fragmentCount, id,
	)
	if err != nil {
		return fmt.Errorf("storage: set extraction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: source %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSource removes a source; its fragments cascade.
func (db *DB) DeleteSource(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: source %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanSources(rows pgx.Rows) ([]model.Source, error) {
	var sources []model.Source
	for rows.Next() {
		var s model.Source
		if err := rows.Scan(
			&s.ID, &s.UnitID, &s.SourceType, &s.Name, &s.Content,
			&s.ExtractionStatus, &s.FragmentCount, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan source: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

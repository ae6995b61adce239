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

// CreateUnit inserts a knowledge unit and returns it.
func (db *DB) CreateUnit(ctx context.Context, u model.Unit) (model.Unit, error) {
	if !u.Kind.Valid() {
		return model.Unit{}, fmt.Errorf("storage: create unit: unknown kind %q", u.Kind)
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO units (id, name, kind, description, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Name, u.Kind, u.Description, u.CreatedAt,
	)
	if err != nil {
		return model.Unit{}, fmt.Errorf("storage: create unit: %w", err)
	}
	return u, nil
}

// GetUnit retrieves a unit by ID.
func (db *DB) GetUnit(ctx context.Context, id uuid.UUID) (model.Unit, error) {
	var u model.Unit
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, kind, description, created_at FROM units WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Kind, &u.Description, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Unit{}, fmt.Errorf("storage: unit %s: %w", id, ErrNotFound)
		}
		return model.Unit{}, fmt.Errorf("storage: get unit: %w", err)
	}
	return u, nil
}

// ListUnits returns all units, newest first.
func (db *DB) ListUnits(ctx context.Context) ([]model.Unit, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, kind, description, created_at
		 FROM units ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list units: %w", err)
	}
	defer rows.Close()

	var units []model.Unit
	for rows.Next() {
		var u model.Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.Kind, &u.Description, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// DeleteUnit removes a unit. Sources, fragments, items, and progress
// cascade at the schema level.
func (db *DB) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM units WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: unit %s: %w", id, ErrNotFound)
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/kasane-ai/kasane/internal/model"
)

const itemColumns = `id, unit_id, slot, content, item_type, strength, provenance,
	annotation, active, supersedes_item_id, deactivated_by, created_at, superseded_at`

// txItemStore exposes item mutations bound to one transaction. It is
// what the applicator runs against inside resolution and
// auto-integration transactions.
type txItemStore struct {
	tx pgx.Tx
}

func (s txItemStore) GetItem(ctx context.Context, id uuid.UUID) (model.Item, error) {
	return getItemRow(ctx, s.tx, id)
}

func (s txItemStore) InsertItem(ctx context.Context, item model.Item) (model.Item, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.tx.Exec(ctx,
		`INSERT INTO items (id, unit_id, slot, content, item_type, strength, provenance,
		 annotation, active, supersedes_item_id, deactivated_by, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		item.ID, item.UnitID, item.Slot, item.Content, item.Type, item.Strength,
		item.Provenance, item.Annotation, item.Active, item.SupersedesItemID,
		item.DeactivatedBy, item.Embedding, item.CreatedAt,
	)
	if err != nil {
		return model.Item{}, fmt.Errorf("storage: insert item: %w", err)
	}
	return item, nil
}

func (s txItemStore) DeactivateItem(ctx context.Context, id, changeID uuid.UUID) (bool, error) {
	tag, err := s.tx.Exec(ctx,
		`UPDATE items SET active = FALSE, deactivated_by = $1, superseded_at = now()
		 WHERE id = $2 AND active`,
		changeID, id,
	)
	if err != nil {
		return false, fmt.Errorf("storage: deactivate item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s txItemStore) ItemByChange(ctx context.Context, changeID uuid.UUID) (*model.Item, error) {
	item, err := getItemBy(ctx, s.tx,
		`SELECT `+itemColumns+` FROM items WHERE provenance->>'change_id' = $1`,
		changeID.String(),
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// GetItem retrieves an item by ID.
func (db *DB) GetItem(ctx context.Context, id uuid.UUID) (model.Item, error) {
	return getItemRow(ctx, db.pool, id)
}

// CreateManualItem inserts an active item entered directly by a
// person, bypassing the fragment pipeline. Manual items participate
// in supersession like any other item.
func (db *DB) CreateManualItem(ctx context.Context, unitID uuid.UUID, slot, content string, itemType model.ItemType, strength float64, author string) (model.Item, error) {
	if slot == "" {
		return model.Item{}, &model.ValidationError{Field: "slot", Reason: "must not be empty"}
	}
	if content == "" {
		return model.Item{}, &model.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if !itemType.Valid() {
		return model.Item{}, &model.ValidationError{Field: "item_type", Reason: "unknown item type"}
	}
	if strength < 0 || strength > 1 {
		return model.Item{}, &model.ValidationError{Field: "strength", Reason: "must be in [0,1]"}
	}
	prov := model.ManualProvenance(author)
	if err := prov.Validate(); err != nil {
		return model.Item{}, err
	}

	var item model.Item
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		item, err = txItemStore{tx}.InsertItem(ctx, model.Item{
			UnitID:     unitID,
			Slot:       slot,
			Content:    content,
			Type:       itemType,
			Strength:   strength,
			Provenance: prov,
			Active:     true,
		})
		return err
	})
	if err != nil {
		return model.Item{}, err
	}
	return item, nil
}

// ListActiveItems returns a unit's active items, ordered by slot then age.
func (db *DB) ListActiveItems(ctx context.Context, unitID uuid.UUID) ([]model.Item, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE unit_id = $1 AND active ORDER BY slot, created_at, id`,
		unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list active items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ItemChain returns an item's full supersession history, oldest first.
// The passed ID can be any node in the chain.
func (db *DB) ItemChain(ctx context.Context, id uuid.UUID) ([]model.Item, error) {
	rows, err := db.pool.Query(ctx,
		`WITH RECURSIVE back AS (
		    SELECT `+itemColumns+` FROM items WHERE id = $1
		    UNION ALL
		    SELECT i.id, i.unit_id, i.slot, i.content, i.item_type, i.strength, i.provenance,
		           i.annotation, i.active, i.supersedes_item_id, i.deactivated_by, i.created_at, i.superseded_at
		    FROM items i JOIN back b ON b.supersedes_item_id = i.id
		), fwd AS (
		    SELECT `+itemColumns+` FROM items WHERE id = $1
		    UNION ALL
		    SELECT i.id, i.unit_id, i.slot, i.content, i.item_type, i.strength, i.provenance,
		           i.annotation, i.active, i.supersedes_item_id, i.deactivated_by, i.created_at, i.superseded_at
		    FROM items i JOIN fwd f ON i.supersedes_item_id = f.id
		)
		SELECT DISTINCT ON (id) * FROM (
		    SELECT * FROM back UNION ALL SELECT * FROM fwd
		) chain ORDER BY id, created_at`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: item chain: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("storage: item %s: %w", id, ErrNotFound)
	}
	// Order by chain position, not insertion time.
	return sortChain(items), nil
}

// sortChain orders chain nodes root-to-tail by following the
// supersedes links.
func sortChain(items []model.Item) []model.Item {
	byPredecessor := make(map[uuid.UUID]model.Item, len(items))
	var root *model.Item
	for i := range items {
		if items[i].SupersedesItemID == nil {
			root = &items[i]
		} else {
			byPredecessor[*items[i].SupersedesItemID] = items[i]
		}
	}
	if root == nil {
		return items
	}
	ordered := make([]model.Item, 0, len(items))
	for node := *root; ; {
		ordered = append(ordered, node)
		next, ok := byPredecessor[node.ID]
		if !ok {
			return ordered
		}
		node = next
	}
}

// SetItemEmbedding stores the embedding vector for an item. Embeddings
// are computed asynchronously after integration, so this is a separate
// write rather than part of the insert.
func (db *DB) SetItemEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE items SET embedding = $1 WHERE id = $2`, embedding, id,
	)
	if err != nil {
		return fmt.Errorf("storage: set item embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: item %s: %w", id, ErrNotFound)
	}
	return nil
}

// SimilarItem is an active item with its cosine similarity to a probe.
type SimilarItem struct {
	Item       model.Item
	Similarity float32
}

// FindSimilarItems returns the unit's active items nearest to the
// given embedding. Items without embeddings are skipped.
func (db *DB) FindSimilarItems(ctx context.Context, unitID uuid.UUID, embedding pgvector.Vector, limit int) ([]SimilarItem, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+itemColumns+`, 1 - (embedding <=> $2) AS similarity
		 FROM items
		 WHERE unit_id = $1 AND active AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		unitID, embedding, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: find similar items: %w", err)
	}
	defer rows.Close()

	var results []SimilarItem
	for rows.Next() {
		var it model.Item
		var sim float32
		if err := rows.Scan(
			&it.ID, &it.UnitID, &it.Slot, &it.Content, &it.Type, &it.Strength,
			&it.Provenance, &it.Annotation, &it.Active, &it.SupersedesItemID,
			&it.DeactivatedBy, &it.CreatedAt, &it.SupersededAt, &sim,
		); err != nil {
			return nil, fmt.Errorf("storage: scan similar item: %w", err)
		}
		results = append(results, SimilarItem{Item: it, Similarity: sim})
	}
	return results, rows.Err()
}

func getItemRow(ctx context.Context, q rowQuerier, id uuid.UUID) (model.Item, error) {
	item, err := getItemBy(ctx, q, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Item{}, fmt.Errorf("storage: item %s: %w", id, ErrNotFound)
		}
		return model.Item{}, err
	}
	return item, nil
}

func getItemBy(ctx context.Context, q rowQuerier, query string, args ...any) (model.Item, error) {
	var it model.Item
	err := q.QueryRow(ctx, query, args...).Scan(
		&it.ID, &it.UnitID, &it.Slot, &it.Content, &it.Type, &it.Strength,
		&it.Provenance, &it.Annotation, &it.Active, &it.SupersedesItemID,
		&it.DeactivatedBy, &it.CreatedAt, &it.SupersededAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Item{}, ErrNotFound
		}
		return model.Item{}, fmt.Errorf("storage: get item: %w", err)
	}
	return it, nil
}

func scanItems(rows pgx.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(
			&it.ID, &it.UnitID, &it.Slot, &it.Content, &it.Type, &it.Strength,
			&it.Provenance, &it.Annotation, &it.Active, &it.SupersedesItemID,
			&it.DeactivatedBy, &it.CreatedAt, &it.SupersededAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

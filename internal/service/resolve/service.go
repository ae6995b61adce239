// Package resolve exposes the human side of the pipeline: review
// queues, decision recording, confirmation, and re-analysis resets.
//
// All state changes delegate to the storage layer's transactional
// operations; this service adds queue assembly, logging, and metrics.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kasane-ai/kasane/internal/model"
	"github.com/kasane-ai/kasane/internal/storage"
	"github.com/kasane-ai/kasane/internal/telemetry"
)

// Resolution transactions touching the same item chain can deadlock
// under concurrent reviewers; retry a few times with a short backoff.
const (
	resolveRetries = 3
	retryBaseDelay = 50 * time.Millisecond
)

// Service carries the review and resolution operations.
type Service struct {
	db     *storage.DB
	logger *slog.Logger

	resolutions metric.Int64Counter
}

// New creates the resolution service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	meter := telemetry.Meter("kasane/resolve")
	resolutions, _ := meter.Int64Counter("kasane.resolutions",
		metric.WithDescription("Human resolutions by action"),
	)
	return &Service{db: db, logger: logger, resolutions: resolutions}
}

// ReviewItem is one fragment waiting for human attention, with
// everything a reviewer needs: the staged changes for confirmations,
// the competing interpretations for decisions, and any prior skip
// decisions.
type ReviewItem struct {
	Fragment        model.Fragment           `json:"fragment"`
	StagedChanges   []model.StructuralChange `json:"staged_changes,omitempty"`
	Interpretations []model.Interpretation   `json:"interpretations,omitempty"`
	Decisions       []model.Decision         `json:"decisions,omitempty"`
}

// PendingConfirmations lists fragments waiting in needs_confirmation,
// oldest first, each with its single staged change.
func (s *Service) PendingConfirmations(ctx context.Context, unitID uuid.UUID, limit int) ([]ReviewItem, error) {
	frags, err := s.db.ListFragmentsByStatus(ctx, unitID, model.FragmentNeedsConfirmation, limit)
	if err != nil {
		return nil, fmt.Errorf("resolve: pending confirmations: %w", err)
	}
	items := make([]ReviewItem, len(frags))
	for i, frag := range frags {
		changes, err := s.db.ListChangesByFragment(ctx, frag.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve: pending confirmations: %w", err)
		}
		items[i] = ReviewItem{Fragment: frag, StagedChanges: changes}
	}
	return items, nil
}

// PendingDecisions lists fragments waiting in needs_decision, oldest
// first, each with its interpretation set and decision history.
// Skipped fragments reappear here; skipping defers, it does not
// dismiss.
func (s *Service) PendingDecisions(ctx context.Context, unitID uuid.UUID, limit int) ([]ReviewItem, error) {
	frags, err := s.db.ListFragmentsByStatus(ctx, unitID, model.FragmentNeedsDecision, limit)
	if err != nil {
		return nil, fmt.Errorf("resolve: pending decisions: %w", err)
	}
	items := make([]ReviewItem, len(frags))
	for i, frag := range frags {
		item, err := s.reviewItem(ctx, frag)
		if err != nil {
			return nil, err
		}
		items[i] = item
	}
	return items, nil
}

// FragmentDetail assembles the full review view for one fragment,
// whatever its status.
func (s *Service) FragmentDetail(ctx context.Context, fragmentID uuid.UUID) (ReviewItem, error) {
	frag, err := s.db.GetFragment(ctx, fragmentID)
	if err != nil {
		return ReviewItem{}, fmt.Errorf("resolve: fragment detail: %w", err)
	}
	item, err := s.reviewItem(ctx, frag)
	if err != nil {
		return ReviewItem{}, err
	}
	changes, err := s.db.ListChangesByFragment(ctx, frag.ID)
	if err != nil {
		return ReviewItem{}, fmt.Errorf("resolve: fragment detail: %w", err)
	}
	item.StagedChanges = changes
	return item, nil
}

func (s *Service) reviewItem(ctx context.Context, frag model.Fragment) (ReviewItem, error) {
	interps, err := s.db.GetInterpretationsByFragment(ctx, frag.ID)
	if err != nil {
		return ReviewItem{}, fmt.Errorf("resolve: load interpretations: %w", err)
	}
	decisions, err := s.db.ListDecisionsByFragment(ctx, frag.ID)
	if err != nil {
		return ReviewItem{}, fmt.Errorf("resolve: load decisions: %w", err)
	}
	return ReviewItem{Fragment: frag, Interpretations: interps, Decisions: decisions}, nil
}

// Resolve records a human's choice among a fragment's interpretations
// and applies the accepted changes. The decision is immutable; a
// second resolution of the same fragment returns
// storage.ErrAlreadyResolved.
func (s *Service) Resolve(ctx context.Context, req storage.ResolveRequest) (storage.ResolveResult, error) {
	var res storage.ResolveResult
	err := storage.WithRetry(ctx, resolveRetries, retryBaseDelay, func() error {
		var err error
		res, err = s.db.ResolveDecision(ctx, req)
		return err
	})
	if err != nil {
		return storage.ResolveResult{}, err
	}
	s.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "resolve")))
	s.logger.Info("fragment resolved",
		"fragment_id", req.FragmentID,
		"interpretation_id", req.InterpretationID,
		"accepted", len(req.AcceptedChangeIDs),
		"rejected", len(req.RejectedChangeIDs),
		"applied_items", len(res.AppliedItems),
	)
	return res, nil
}

// Skip records a deferral of a needs_decision fragment. The fragment
// stays in the decision queue; the skip itself is part of the
// fragment's permanent decision history.
func (s *Service) Skip(ctx context.Context, fragmentID uuid.UUID, notes *string) (model.Decision, error) {
	dec, err := s.db.SkipDecision(ctx, fragmentID, notes)
	if err != nil {
		return model.Decision{}, err
	}
	s.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "skip")))
	s.logger.Info("fragment skipped", "fragment_id", fragmentID)
	return dec, nil
}

// Confirm accepts or rejects the single staged change of a
// needs_confirmation fragment. Either way the fragment resolves; only
// acceptance touches the item store.
func (s *Service) Confirm(ctx context.Context, fragmentID uuid.UUID, accept bool, notes *string) (storage.ResolveResult, error) {
	var res storage.ResolveResult
	err := storage.WithRetry(ctx, resolveRetries, retryBaseDelay, func() error {
		var err error
		res, err = s.db.ConfirmFragment(ctx, fragmentID, accept, notes)
		return err
	})
	if err != nil {
		return storage.ResolveResult{}, err
	}
	action := "reject"
	if accept {
		action = "accept"
	}
	s.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	s.logger.Info("fragment confirmed",
		"fragment_id", fragmentID, "accepted", accept, "applied_items", len(res.AppliedItems))
	return res, nil
}

// Reset sends an unresolved fragment back to pending for re-analysis,
// discarding its staged interpretations and changes. Resolved and
// auto-integrated fragments cannot be reset; their effects live on in
// the item store.
func (s *Service) Reset(ctx context.Context, fragmentID uuid.UUID) error {
	if err := s.db.ResetFragment(ctx, fragmentID); err != nil {
		return err
	}
	s.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "reset")))
	s.logger.Info("fragment reset", "fragment_id", fragmentID)
	return nil
}

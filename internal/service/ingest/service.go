// Package ingest drives sources through extraction and fragments
// through oracle classification and confidence routing.
//
// The pipeline is source → fragments → judgment → route. Every routing
// outcome commits through a single storage transaction; oracle
// failures leave the fragment pending so a later pass can retry.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/kasane-ai/kasane/internal/extract"
	"github.com/kasane-ai/kasane/internal/model"
	"github.com/kasane-ai/kasane/internal/oracle"
	"github.com/kasane-ai/kasane/internal/router"
	"github.com/kasane-ai/kasane/internal/service/embedding"
	"github.com/kasane-ai/kasane/internal/storage"
	"github.com/kasane-ai/kasane/internal/telemetry"
)

// similarItemLimit bounds how many semantically close items are sent
// to the oracle as additional context.
const similarItemLimit = 5

// Service runs the ingestion pipeline: source registration, fragment
// extraction, and oracle-driven analysis.
type Service struct {
	db          *storage.DB
	classifier  oracle.Classifier
	interpreter oracle.Interpreter
	embedder    embedding.Provider
	extractor   extract.Extractor
	concurrency int
	logger      *slog.Logger

	confidence metric.Float64Histogram
	routes     metric.Int64Counter
}

// New creates the ingestion service. concurrency bounds how many
// fragments AnalyzeSource classifies in parallel; values below one
// fall back to serial analysis.
func New(db *storage.DB, classifier oracle.Classifier, interpreter oracle.Interpreter, embedder embedding.Provider, extractor extract.Extractor, concurrency int, logger *slog.Logger) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	meter := telemetry.Meter("kasane/ingest")
	conf, _ := meter.Float64Histogram("kasane.oracle.confidence",
		metric.WithDescription("Confidence scores returned by the oracle"),
	)
	routes, _ := meter.Int64Counter("kasane.analysis.routes",
		metric.WithDescription("Routing outcomes by tier"),
	)
	return &Service{
		db:          db,
		classifier:  classifier,
		interpreter: interpreter,
		embedder:    embedder,
		extractor:   extractor,
		concurrency: concurrency,
		logger:      logger,
		confidence:  conf,
		routes:      routes,
	}
}

// AddSource registers an external document for a unit. Extraction does
// not start here; call ExtractSource afterwards.
func (s *Service) AddSource(ctx context.Context, unitID uuid.UUID, sourceType model.SourceType, name, content string) (model.Source, error) {
	if !sourceType.Valid() {
		return model.Source{}, fmt.Errorf("ingest: unknown source type %q", sourceType)
	}
	if name == "" {
		return model.Source{}, fmt.Errorf("ingest: source name must not be empty")
	}
	if content == "" {
		return model.Source{}, fmt.Errorf("ingest: source content must not be empty")
	}
	src, err := s.db.CreateSource(ctx, model.Source{
		UnitID:           unitID,
		SourceType:       sourceType,
		Name:             name,
		Content:          content,
		ExtractionStatus: model.ExtractionPending,
	})
	if err != nil {
		return model.Source{}, fmt.Errorf("ingest: add source: %w", err)
	}
	s.logger.Info("source added", "source_id", src.ID, "unit_id", unitID, "type", sourceType)
	return src, nil
}

// ExtractSource splits a source's content into fragments and stores
// them in pending status. The source moves processing → completed, or
// → failed when the extractor errors; a failed source keeps zero
// fragments and can be re-extracted.
func (s *Service) ExtractSource(ctx context.Context, sourceID uuid.UUID) ([]model.Fragment, error) {
	src, err := s.db.GetSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("ingest: extract: %w", err)
	}
	if err := s.db.SetExtractionStatus(ctx, sourceID, model.ExtractionProcessing, 0); err != nil {
		return nil, fmt.Errorf("ingest: extract: %w", err)
	}

	raw, err := s.extractor.Extract(ctx, src.Content)
	if err != nil {
		if stErr := s.db.SetExtractionStatus(ctx, sourceID, model.ExtractionFailed, 0); stErr != nil {
			s.logger.Error("extract: mark failed", "source_id", sourceID, "error", stErr)
		}
		return nil, fmt.Errorf("ingest: extract source %s: %w", sourceID, err)
	}

	frags := make([]model.Fragment, len(raw))
	for i, f := range raw {
		frags[i] = model.Fragment{
			SourceID:     sourceID,
			Content:      f.Content,
			LocationHint: f.LocationHint,
		}
	}
	created, err := s.db.CreateFragmentsBatch(ctx, frags)
	if err != nil {
		if stErr := s.db.SetExtractionStatus(ctx, sourceID, model.ExtractionFailed, 0); stErr != nil {
			s.logger.Error("extract: mark failed", "source_id", sourceID, "error", stErr)
		}
		return nil, fmt.Errorf("ingest: store fragments: %w", err)
	}
	if err := s.db.SetExtractionStatus(ctx, sourceID, model.ExtractionCompleted, len(created)); err != nil {
		return nil, fmt.Errorf("ingest: extract: %w", err)
	}
	if len(created) > 0 {
		// Wake any listening worker; best-effort, polling catches up
		// if the notification is lost.
		if err := s.db.Notify(ctx, storage.ChannelSources, sourceID.String()); err != nil {
			s.logger.Warn("extract: notify", "source_id", sourceID, "error", err)
		}
	}
	s.logger.Info("source extracted", "source_id", sourceID, "fragments", len(created))
	return created, nil
}

// Outcome reports where one fragment landed after analysis. Exactly
// one of Item, Change, or Interpretations is populated, matching the
// route; a no-change auto-integration (duplicate or irrelevant
// fragment) carries none of them.
type Outcome struct {
	FragmentID      uuid.UUID
	Route           router.Route
	Judgment        oracle.Judgment
	Item            *model.Item
	Change          *model.StructuralChange
	Interpretations []model.Interpretation

	// Err is set on batch entries whose oracle call failed. The
	// fragment stayed pending and the other fields are zero.
	Err error
}

// AnalyzeFragment classifies one pending fragment and commits the
// routing outcome. Oracle failures (*oracle.ClassificationError) leave
// the fragment pending and are returned unwrapped so callers can
// distinguish retryable failures from contract violations.
func (s *Service) AnalyzeFragment(ctx context.Context, fragmentID uuid.UUID) (Outcome, error) {
	frag, err := s.db.GetFragment(ctx, fragmentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingest: analyze: %w", err)
	}
	if frag.Status != model.FragmentPending {
		return Outcome{}, fmt.Errorf("ingest: fragment %s is %s: %w", fragmentID, frag.Status, storage.ErrWrongStatus)
	}
	src, err := s.db.GetSource(ctx, frag.SourceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingest: analyze: %w", err)
	}

	unitCtx, err := s.buildUnitContext(ctx, src.UnitID, frag.Content)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingest: analyze: %w", err)
	}

	j, err := s.classifier.Classify(ctx, oracle.ClassifyRequest{
		Context:         unitCtx,
		FragmentContent: frag.Content,
		LocationHint:    frag.LocationHint,
	})
	if err != nil {
		s.logger.Warn("classification failed, fragment stays pending",
			"fragment_id", fragmentID, "error", err)
		return Outcome{}, err
	}
	s.confidence.Record(ctx, j.Confidence)

	route, err := router.Resolve(j.Confidence, j.IsAmbiguous)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingest: analyze fragment %s: %w", fragmentID, err)
	}
	s.routes.Add(ctx, 1, metric.WithAttributes(attribute.String("route", string(route))))

	out, err := s.commitRoute(ctx, src.UnitID, fragmentID, j, route)
	if err != nil {
		return Outcome{}, err
	}
	s.logger.Info("fragment analyzed",
		"fragment_id", fragmentID,
		"route", route,
		"relationship", j.RelationshipKind,
		"confidence", j.Confidence,
	)
	return out, nil
}

// commitRoute persists the judgment under the chosen tier.
func (s *Service) commitRoute(ctx context.Context, unitID, fragmentID uuid.UUID, j oracle.Judgment, route router.Route) (Outcome, error) {
	out := Outcome{FragmentID: fragmentID, Route: route, Judgment: j}
	sj := storageJudgment(j)

	switch route {
	case router.AutoIntegrate, router.NeedsConfirmation:
		change, ok := deriveChange(j)
		if !ok {
			// Duplicates and irrelevant fragments propose nothing to
			// apply or confirm; they settle immediately.
			out.Route = router.AutoIntegrate
			if err := s.db.AutoIntegrateNoChange(ctx, fragmentID, sj); err != nil {
				return Outcome{}, fmt.Errorf("ingest: settle fragment %s: %w", fragmentID, err)
			}
			return out, nil
		}
		if route == router.NeedsConfirmation {
			staged, err := s.db.StageConfirmation(ctx, fragmentID, sj, change)
			if err != nil {
				return Outcome{}, fmt.Errorf("ingest: stage confirmation for %s: %w", fragmentID, err)
			}
			out.Change = &staged
			return out, nil
		}
		item, err := s.db.AutoIntegrate(ctx, unitID, fragmentID, sj, change, itemTypeFor(j))
		if err != nil {
			return Outcome{}, fmt.Errorf("ingest: auto-integrate fragment %s: %w", fragmentID, err)
		}
		out.Item = item
		if item != nil {
			s.embedItem(ctx, item)
		}
		return out, nil

	case router.NeedsDecision:
		interps, err := s.proposeInterpretations(ctx, unitID, fragmentID, j)
		if err != nil {
			return Outcome{}, err
		}
		staged, err := s.db.StageInterpretations(ctx, fragmentID, sj, interps)
		if err != nil {
			return Outcome{}, fmt.Errorf("ingest: stage interpretations for %s: %w", fragmentID, err)
		}
		out.Interpretations = staged
		return out, nil
	}
	return Outcome{}, fmt.Errorf("ingest: unhandled route %q", route)
}

// proposeInterpretations asks the oracle for competing readings and
// converts them to storable interpretations.
func (s *Service) proposeInterpretations(ctx context.Context, unitID, fragmentID uuid.UUID, j oracle.Judgment) ([]model.Interpretation, error) {
	frag, err := s.db.GetFragment(ctx, fragmentID)
	if err != nil {
		return nil, fmt.Errorf("ingest: interpret: %w", err)
	}
	unitCtx, err := s.buildUnitContext(ctx, unitID, frag.Content)
	if err != nil {
		return nil, fmt.Errorf("ingest: interpret: %w", err)
	}
	rationale := ""
	if j.Rationale != nil {
		rationale = *j.Rationale
	}
	proposals, err := s.interpreter.Interpret(ctx, oracle.InterpretRequest{
		Context:            unitCtx,
		FragmentContent:    frag.Content,
		AmbiguityRationale: rationale,
	})
	if err != nil {
		s.logger.Warn("interpretation failed, fragment stays pending",
			"fragment_id", fragmentID, "error", err)
		return nil, err
	}

	interps := make([]model.Interpretation, len(proposals))
	for i, p := range proposals {
		changes := make([]model.StructuralChange, len(p.Changes))
		for k, c := range p.Changes {
			changes[k] = model.StructuralChange{
				Kind:          c.Kind,
				TargetSlot:    c.TargetSlot,
				TargetItemID:  c.TargetItemID,
				BeforeContent: c.BeforeContent,
				AfterContent:  c.AfterContent,
			}
		}
		interps[i] = model.Interpretation{
			Key:                   p.Key,
			Title:                 p.Title,
			Strategy:              p.Strategy,
			Rationale:             p.Rationale,
			RelationshipKind:      p.RelationshipKind,
			TargetSlot:            p.TargetSlot,
			Recommended:           p.Recommended,
			CommitmentStatement:   p.CommitmentStatement,
			ForeclosureStatements: p.ForeclosureStatements,
			Changes:               changes,
		}
	}
	return interps, nil
}

// AnalyzeSource classifies every pending fragment of a source,
// bounded by the configured concurrency. A retryable oracle failure
// leaves its fragment pending and is reported as an outcome with Err
// set; any other error aborts the batch. Outcomes are returned in no
// particular order.
func (s *Service) AnalyzeSource(ctx context.Context, sourceID uuid.UUID) ([]Outcome, error) {
	frags, err := s.db.ListFragmentsBySource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("ingest: analyze source: %w", err)
	}

	var (
		mu       sync.Mutex
		outcomes []Outcome
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, frag := range frags {
		if frag.Status != model.FragmentPending {
			continue
		}
		fragID := frag.ID
		g.Go(func() error {
			out, err := s.AnalyzeFragment(gctx, fragID)
			if err != nil {
				var ce *oracle.ClassificationError
				if !errors.As(err, &ce) {
					return err
				}
				out = Outcome{FragmentID: fragID, Err: err}
			}
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// AnalyzePending classifies up to limit pending fragments across a
// whole unit, oldest first. It is the worker-loop entry point and
// reports failures the same way AnalyzeSource does.
func (s *Service) AnalyzePending(ctx context.Context, unitID uuid.UUID, limit int) ([]Outcome, error) {
	frags, err := s.db.ListFragmentsByStatus(ctx, unitID, model.FragmentPending, limit)
	if err != nil {
		return nil, fmt.Errorf("ingest: analyze pending: %w", err)
	}
	var (
		mu       sync.Mutex
		outcomes []Outcome
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, frag := range frags {
		fragID := frag.ID
		g.Go(func() error {
			out, err := s.AnalyzeFragment(gctx, fragID)
			if err != nil {
				var ce *oracle.ClassificationError
				if !errors.As(err, &ce) {
					return err
				}
				out = Outcome{FragmentID: fragID, Err: err}
			}
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// buildUnitContext assembles what the oracle sees: the unit's
// identity, its active items grouped by slot, and items semantically
// close to the fragment. Similarity search is best-effort; an
// embedding failure only costs the oracle some context.
func (s *Service) buildUnitContext(ctx context.Context, unitID uuid.UUID, fragmentContent string) (oracle.UnitContext, error) {
	unit, err := s.db.GetUnit(ctx, unitID)
	if err != nil {
		return oracle.UnitContext{}, err
	}
	items, err := s.db.ListActiveItems(ctx, unitID)
	if err != nil {
		return oracle.UnitContext{}, err
	}

	bySlot := make(map[string][]oracle.ItemSummary)
	for _, it := range items {
		bySlot[it.Slot] = append(bySlot[it.Slot], oracle.ItemSummary{
			ID:       it.ID,
			Slot:     it.Slot,
			Content:  it.Content,
			Strength: it.Strength,
		})
	}
	slots := make([]oracle.SlotContext, 0, len(bySlot))
	for slot, summaries := range bySlot {
		slots = append(slots, oracle.SlotContext{Slot: slot, Items: summaries})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Slot < slots[j].Slot })

	uc := oracle.UnitContext{
		UnitID:   unit.ID,
		UnitName: unit.Name,
		UnitKind: unit.Kind,
		Slots:    slots,
	}

	if len(items) > 0 {
		vec, err := s.embedder.Embed(ctx, fragmentContent)
		if err != nil {
			s.logger.Warn("fragment embedding failed, classifying without similarity context",
				"unit_id", unitID, "error", err)
			return uc, nil
		}
		similar, err := s.db.FindSimilarItems(ctx, unitID, vec, similarItemLimit)
		if err != nil {
			s.logger.Warn("similarity search failed, classifying without similarity context",
				"unit_id", unitID, "error", err)
			return uc, nil
		}
		for _, sim := range similar {
			uc.SimilarItems = append(uc.SimilarItems, oracle.ItemSummary{
				ID:       sim.Item.ID,
				Slot:     sim.Item.Slot,
				Content:  sim.Item.Content,
				Strength: sim.Item.Strength,
			})
		}
	}
	return uc, nil
}

// embedItem attaches an embedding to a freshly integrated item.
// Non-fatal: the item is already committed, and similarity search just
// skips items without vectors.
func (s *Service) embedItem(ctx context.Context, item *model.Item) {
	vec, err := s.embedder.Embed(ctx, item.Content)
	if err != nil {
		s.logger.Warn("item embedding failed", "item_id", item.ID, "error", err)
		return
	}
	if err := s.db.SetItemEmbedding(ctx, item.ID, vec); err != nil {
		s.logger.Warn("store item embedding failed", "item_id", item.ID, "error", err)
	}
}

// storageJudgment converts the oracle's verdict to the judgment fields
// recorded on the fragment row.
func storageJudgment(j oracle.Judgment) storage.Judgment {
	rationale := ""
	if j.Rationale != nil {
		rationale = *j.Rationale
	}
	return storage.Judgment{
		RelationshipKind: j.RelationshipKind,
		TargetSlot:       j.TargetSlot,
		TargetItemID:     j.TargetItemID,
		Confidence:       j.Confidence,
		IsAmbiguous:      j.IsAmbiguous,
		Rationale:        rationale,
	}
}

// deriveChange turns a judgment into the single structural change of
// the auto-integrate and confirmation tiers. Duplicates and irrelevant
// fragments derive nothing (ok=false), as does any judgment missing
// integration_content. A refinement of a named item becomes a
// revision; everything else appends to the target slot.
func deriveChange(j oracle.Judgment) (model.StructuralChange, bool) {
	switch j.RelationshipKind {
	case model.RelationDuplicates, model.RelationIrrelevant:
		return model.StructuralChange{}, false
	}
	if j.IntegrationContent == nil || j.TargetSlot == nil {
		return model.StructuralChange{}, false
	}
	change := model.StructuralChange{
		Kind:         model.ChangeAddition,
		TargetSlot:   *j.TargetSlot,
		AfterContent: j.IntegrationContent,
	}
	if j.RelationshipKind == model.RelationRefines && j.TargetItemID != nil {
		change.Kind = model.ChangeRevision
		change.TargetItemID = j.TargetItemID
	}
	return change, true
}

// itemTypeFor picks the type of an auto-integrated item: the oracle's
// explicit integration_kind when present, a counterexample for
// contradicting evidence, otherwise the applicator's default.
func itemTypeFor(j oracle.Judgment) model.ItemType {
	if j.IntegrationKind != nil {
		return model.ItemType(*j.IntegrationKind)
	}
	if j.RelationshipKind == model.RelationContradicts {
		return model.ItemCounterexample
	}
	return ""
}

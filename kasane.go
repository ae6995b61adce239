// Package kasane is the public API for embedding the Kasane evidence
// integration engine.
//
// Consumers import this package to construct and drive the engine
// without touching its internals:
//
//	eng, err := kasane.New(
//	    kasane.WithLogger(logger),
//	    kasane.WithClassifier(myOracle),
//	)
//	if err != nil { ... }
//	defer eng.Close(ctx)
//
// The import graph enforces a strict no-cycle rule: kasane (root)
// imports internal/*, but internal/* never imports kasane (root).
// Public types (Fragment, Interpretation, Item, etc.) are standalone
// structs with no internal imports; the conversion helpers live here
// because this is the only file that sees both sides of the boundary.
package kasane

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/kasane-ai/kasane/internal/config"
	"github.com/kasane-ai/kasane/internal/extract"
	"github.com/kasane-ai/kasane/internal/model"
	"github.com/kasane-ai/kasane/internal/service/ingest"
	"github.com/kasane-ai/kasane/internal/service/progress"
	"github.com/kasane-ai/kasane/internal/service/resolve"
	"github.com/kasane-ai/kasane/internal/storage"
	"github.com/kasane-ai/kasane/internal/telemetry"
	"github.com/kasane-ai/kasane/migrations"
)

// Engine is the embedded Kasane lifecycle. Construct with New(), close
// with Close(). Engine has no public fields; use New() options to
// configure it.
type Engine struct {
	cfg          config.Config
	db           *storage.DB
	ingest       *ingest.Service
	resolve      *resolve.Service
	progress     *progress.Service
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the engine. It connects to the database, runs
// migrations, and wires the services. It does not start any
// goroutines: analysis runs when the caller invokes it (or via a
// worker loop like cmd/kasane's).
func New(opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kasane starting", "version", version)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(ctx, extraFS); err != nil {
			db.Close(ctx)
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	embedder := newEmbeddingProvider(cfg, logger)
	if o.embeddingProvider != nil {
		embedder = &embedderAdapter{p: o.embeddingProvider}
	}

	classifier, interpreter := newOracle(cfg, logger)
	if o.classifier != nil {
		a := &classifierAdapter{c: o.classifier}
		classifier, interpreter = a, a
	}

	var extractor extract.Extractor = extract.NewParagraphExtractor(cfg.MaxFragmentChars)
	if o.extractor != nil {
		extractor = &extractorAdapter{e: o.extractor}
	}

	return &Engine{
		cfg:          cfg,
		db:           db,
		ingest:       ingest.New(db, classifier, interpreter, embedder, extractor, cfg.AnalyzeConcurrency, logger),
		resolve:      resolve.New(db, logger),
		progress:     progress.New(db, logger),
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Close releases the database pool and flushes telemetry.
func (e *Engine) Close(ctx context.Context) {
	e.logger.Info("kasane stopping")
	e.db.Close(ctx)
	_ = e.otelShutdown(ctx)
}

// Notification channels reported by WatchActivity.
const (
	ActivitySources   = "kasane_sources"   // extraction created pending fragments
	ActivityFragments = "kasane_fragments" // a fragment was routed
	ActivityDecisions = "kasane_decisions" // a human resolved or skipped a fragment
)

// WatchActivity blocks, invoking fn for every engine notification
// until ctx is cancelled. It requires a NOTIFY_URL (or WithNotifyURL)
// pointing directly at Postgres; without one it returns an error
// immediately and callers should fall back to polling.
func (e *Engine) WatchActivity(ctx context.Context, fn func(channel, payload string)) error {
	for _, ch := range []string{ActivitySources, ActivityFragments, ActivityDecisions} {
		if err := e.db.Listen(ctx, ch); err != nil {
			return err
		}
	}
	for {
		channel, payload, err := e.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		fn(channel, payload)
	}
}

// CreateUnit registers a knowledge unit.
func (e *Engine) CreateUnit(ctx context.Context, name, kind string, description *string) (Unit, error) {
	unit, err := e.db.CreateUnit(ctx, model.Unit{
		Name:        name,
		Kind:        model.UnitKind(kind),
		Description: description,
	})
	if err != nil {
		return Unit{}, err
	}
	return toPublicUnit(unit), nil
}

// GetUnit fetches one unit by id.
func (e *Engine) GetUnit(ctx context.Context, id uuid.UUID) (Unit, error) {
	unit, err := e.db.GetUnit(ctx, id)
	if err != nil {
		return Unit{}, err
	}
	return toPublicUnit(unit), nil
}

// ListUnits returns all units, newest first.
func (e *Engine) ListUnits(ctx context.Context) ([]Unit, error) {
	units, err := e.db.ListUnits(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Unit, len(units))
	for i, u := range units {
		out[i] = toPublicUnit(u)
	}
	return out, nil
}

// DeleteUnit removes a unit and, by cascade, its sources, fragments,
// and items.
func (e *Engine) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	return e.db.DeleteUnit(ctx, id)
}

// Ping verifies database connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	return e.db.Ping(ctx)
}

// ListSources returns a unit's sources, newest first.
func (e *Engine) ListSources(ctx context.Context, unitID uuid.UUID) ([]Source, error) {
	srcs, err := e.db.ListSourcesByUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	out := make([]Source, len(srcs))
	for i, s := range srcs {
		out[i] = toPublicSource(s)
	}
	return out, nil
}

// DeleteSource removes a source and, by cascade, its fragments.
func (e *Engine) DeleteSource(ctx context.Context, id uuid.UUID) error {
	return e.db.DeleteSource(ctx, id)
}

// AddSource registers an external document under a unit.
func (e *Engine) AddSource(ctx context.Context, unitID uuid.UUID, sourceType, name, content string) (Source, error) {
	src, err := e.ingest.AddSource(ctx, unitID, model.SourceType(sourceType), name, content)
	if err != nil {
		return Source{}, err
	}
	return toPublicSource(src), nil
}

// ExtractSource splits a source into pending fragments.
func (e *Engine) ExtractSource(ctx context.Context, sourceID uuid.UUID) ([]Fragment, error) {
	frags, err := e.ingest.ExtractSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return toPublicFragments(frags), nil
}

// AnalyzeFragment classifies one pending fragment and commits the
// routing outcome.
func (e *Engine) AnalyzeFragment(ctx context.Context, fragmentID uuid.UUID) (AnalysisOutcome, error) {
	out, err := e.ingest.AnalyzeFragment(ctx, fragmentID)
	if err != nil {
		return AnalysisOutcome{}, err
	}
	return toPublicOutcome(out), nil
}

// AnalyzeSource classifies every pending fragment of a source with
// bounded concurrency. Fragments whose oracle call fails stay pending
// and are reported as outcomes with Err set.
func (e *Engine) AnalyzeSource(ctx context.Context, sourceID uuid.UUID) ([]AnalysisOutcome, error) {
	outs, err := e.ingest.AnalyzeSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return toPublicOutcomes(outs), nil
}

// AnalyzePending classifies up to limit pending fragments across a
// unit, oldest first.
func (e *Engine) AnalyzePending(ctx context.Context, unitID uuid.UUID, limit int) ([]AnalysisOutcome, error) {
	outs, err := e.ingest.AnalyzePending(ctx, unitID, limit)
	if err != nil {
		return nil, err
	}
	return toPublicOutcomes(outs), nil
}

// PendingConfirmations lists fragments awaiting a lightweight
// accept/reject, oldest first.
func (e *Engine) PendingConfirmations(ctx context.Context, unitID uuid.UUID, limit int) ([]ReviewItem, error) {
	items, err := e.resolve.PendingConfirmations(ctx, unitID, limit)
	if err != nil {
		return nil, err
	}
	return toPublicReviewItems(items), nil
}

// PendingDecisions lists fragments awaiting a full decision, oldest
// first. Skipped fragments reappear here.
func (e *Engine) PendingDecisions(ctx context.Context, unitID uuid.UUID, limit int) ([]ReviewItem, error) {
	items, err := e.resolve.PendingDecisions(ctx, unitID, limit)
	if err != nil {
		return nil, err
	}
	return toPublicReviewItems(items), nil
}

// FragmentDetail assembles the full review view for one fragment.
func (e *Engine) FragmentDetail(ctx context.Context, fragmentID uuid.UUID) (ReviewItem, error) {
	item, err := e.resolve.FragmentDetail(ctx, fragmentID)
	if err != nil {
		return ReviewItem{}, err
	}
	return toPublicReviewItem(item), nil
}

// ResolveDecision records a human's choice among a fragment's
// interpretations and applies the accepted changes. A fragment
// resolves at most once.
func (e *Engine) ResolveDecision(ctx context.Context, input ResolveInput) (ResolveOutcome, error) {
	res, err := e.resolve.Resolve(ctx, storage.ResolveRequest{
		FragmentID:        input.FragmentID,
		InterpretationID:  input.InterpretationID,
		AcceptedChangeIDs: input.AcceptedChangeIDs,
		RejectedChangeIDs: input.RejectedChangeIDs,
		Notes:             input.Notes,
	})
	if err != nil {
		return ResolveOutcome{}, err
	}
	return toPublicResolveOutcome(res), nil
}

// SkipDecision defers a needs_decision fragment without dismissing it.
func (e *Engine) SkipDecision(ctx context.Context, fragmentID uuid.UUID, notes *string) (Decision, error) {
	dec, err := e.resolve.Skip(ctx, fragmentID, notes)
	if err != nil {
		return Decision{}, err
	}
	return toPublicDecision(dec), nil
}

// ConfirmFragment accepts or rejects the single staged change of a
// needs_confirmation fragment.
func (e *Engine) ConfirmFragment(ctx context.Context, fragmentID uuid.UUID, accept bool, notes *string) (ResolveOutcome, error) {
	res, err := e.resolve.Confirm(ctx, fragmentID, accept, notes)
	if err != nil {
		return ResolveOutcome{}, err
	}
	return toPublicResolveOutcome(res), nil
}

// ResetFragment sends an unresolved fragment back to pending for
// re-analysis, discarding its staged interpretations and changes.
func (e *Engine) ResetFragment(ctx context.Context, fragmentID uuid.UUID) error {
	return e.resolve.Reset(ctx, fragmentID)
}

// GetProgress recomputes and returns a unit's analysis progress.
func (e *Engine) GetProgress(ctx context.Context, unitID uuid.UUID) (Progress, error) {
	p, err := e.progress.Get(ctx, unitID)
	if err != nil {
		return Progress{}, err
	}
	return toPublicProgress(p), nil
}

// AddItem enters a knowledge item directly, bypassing extraction and
// classification. The item records who entered it and participates in
// supersession like any pipeline-created item.
func (e *Engine) AddItem(ctx context.Context, unitID uuid.UUID, slot, content, itemType string, strength float64, author string) (Item, error) {
	item, err := e.db.CreateManualItem(ctx, unitID, slot, content, model.ItemType(itemType), strength, author)
	if err != nil {
		return Item{}, err
	}
	return toPublicItem(item), nil
}

// GetItem fetches one knowledge item by id, active or superseded.
func (e *Engine) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	item, err := e.db.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return toPublicItem(item), nil
}

// GetDecision fetches one immutable decision record.
func (e *Engine) GetDecision(ctx context.Context, id uuid.UUID) (Decision, error) {
	dec, err := e.db.GetDecision(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	return toPublicDecision(dec), nil
}

// AnalysisComplete reports whether every extracted fragment of the
// unit has reached a settled status. Skipped fragments count as open.
func (e *Engine) AnalysisComplete(ctx context.Context, unitID uuid.UUID) (bool, error) {
	return e.progress.Complete(ctx, unitID)
}

// ActiveItems returns a unit's active knowledge items.
func (e *Engine) ActiveItems(ctx context.Context, unitID uuid.UUID) ([]Item, error) {
	items, err := e.db.ListActiveItems(ctx, unitID)
	if err != nil {
		return nil, err
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = toPublicItem(it)
	}
	return out, nil
}

// ItemHistory returns an item's full supersession chain, root first.
func (e *Engine) ItemHistory(ctx context.Context, itemID uuid.UUID) ([]Item, error) {
	chain, err := e.db.ItemChain(ctx, itemID)
	if err != nil {
		return nil, err
	}
	out := make([]Item, len(chain))
	for i, it := range chain {
		out[i] = toPublicItem(it)
	}
	return out, nil
}

// ── Converters: internal model → public types ─────────────────────────

func toPublicUnit(u model.Unit) Unit {
	return Unit{
		ID:          u.ID,
		Name:        u.Name,
		Kind:        string(u.Kind),
		Description: u.Description,
		CreatedAt:   u.CreatedAt,
	}
}

func toPublicSource(s model.Source) Source {
	return Source{
		ID:               s.ID,
		UnitID:           s.UnitID,
		Type:             string(s.SourceType),
		Name:             s.Name,
		ExtractionStatus: string(s.ExtractionStatus),
		FragmentCount:    s.FragmentCount,
		CreatedAt:        s.CreatedAt,
	}
}

func toPublicFragment(f model.Fragment) Fragment {
	out := Fragment{
		ID:           f.ID,
		SourceID:     f.SourceID,
		Content:      f.Content,
		LocationHint: f.LocationHint,
		Status:       string(f.Status),
		TargetSlot:   f.TargetSlot,
		TargetItemID: f.TargetItemID,
		Confidence:   f.Confidence,
		IsAmbiguous:  f.IsAmbiguous,
		Rationale:    f.Rationale,
		CreatedAt:    f.CreatedAt,
		AnalyzedAt:   f.AnalyzedAt,
	}
	if f.RelationshipKind != nil {
		kind := string(*f.RelationshipKind)
		out.RelationshipType = &kind
	}
	return out
}

func toPublicFragments(frags []model.Fragment) []Fragment {
	out := make([]Fragment, len(frags))
	for i, f := range frags {
		out[i] = toPublicFragment(f)
	}
	return out
}

func toPublicChange(c model.StructuralChange) StructuralChange {
	return StructuralChange{
		ID:               c.ID,
		InterpretationID: c.InterpretationID,
		Kind:             string(c.Kind),
		TargetSlot:       c.TargetSlot,
		TargetItemID:     c.TargetItemID,
		BeforeContent:    c.BeforeContent,
		AfterContent:     c.AfterContent,
	}
}

func toPublicChanges(changes []model.StructuralChange) []StructuralChange {
	out := make([]StructuralChange, len(changes))
	for i, c := range changes {
		out[i] = toPublicChange(c)
	}
	return out
}

func toPublicInterpretation(in model.Interpretation) Interpretation {
	return Interpretation{
		ID:                    in.ID,
		Key:                   in.Key,
		Title:                 in.Title,
		Strategy:              in.Strategy,
		Rationale:             in.Rationale,
		RelationshipType:      string(in.RelationshipKind),
		TargetSlot:            in.TargetSlot,
		Selected:              in.Selected,
		Recommended:           in.Recommended,
		CommitmentStatement:   in.CommitmentStatement,
		ForeclosureStatements: in.ForeclosureStatements,
		Changes:               toPublicChanges(in.Changes),
	}
}

func toPublicInterpretations(interps []model.Interpretation) []Interpretation {
	out := make([]Interpretation, len(interps))
	for i, in := range interps {
		out[i] = toPublicInterpretation(in)
	}
	return out
}

func toPublicDecision(d model.Decision) Decision {
	return Decision{
		ID:                d.ID,
		FragmentID:        d.FragmentID,
		InterpretationID:  d.InterpretationID,
		AcceptedChangeIDs: d.AcceptedChangeIDs,
		RejectedChangeIDs: d.RejectedChangeIDs,
		Skipped:           d.Skipped,
		Notes:             d.Notes,
		CreatedAt:         d.CreatedAt,
	}
}

func toPublicItem(it model.Item) Item {
	return Item{
		ID:               it.ID,
		UnitID:           it.UnitID,
		Slot:             it.Slot,
		Content:          it.Content,
		Type:             string(it.Type),
		Strength:         it.Strength,
		Annotation:       string(it.Annotation),
		Active:           it.Active,
		SupersedesItemID: it.SupersedesItemID,
		CreatedAt:        it.CreatedAt,
		SupersededAt:     it.SupersededAt,
	}
}

func toPublicProgress(p model.Progress) Progress {
	return Progress{
		UnitID:                 p.UnitID,
		TotalSources:           p.TotalSources,
		TotalFragments:         p.TotalFragments,
		PendingCount:           p.PendingCount,
		AutoIntegratedCount:    p.AutoIntegratedCount,
		NeedsConfirmationCount: p.NeedsConfirmationCount,
		NeedsDecisionCount:     p.NeedsDecisionCount,
		ResolvedCount:          p.ResolvedCount,
		SkippedCount:           p.SkippedCount,
		UpdatedAt:              p.UpdatedAt,
	}
}

func toPublicOutcome(out ingest.Outcome) AnalysisOutcome {
	pub := AnalysisOutcome{
		FragmentID:      out.FragmentID,
		Route:           string(out.Route),
		Interpretations: toPublicInterpretations(out.Interpretations),
		Err:             out.Err,
	}
	if out.Item != nil {
		item := toPublicItem(*out.Item)
		pub.Item = &item
	}
	if out.Change != nil {
		change := toPublicChange(*out.Change)
		pub.StagedChange = &change
	}
	if len(pub.Interpretations) == 0 {
		pub.Interpretations = nil
	}
	return pub
}

func toPublicOutcomes(outs []ingest.Outcome) []AnalysisOutcome {
	pub := make([]AnalysisOutcome, len(outs))
	for i, out := range outs {
		pub[i] = toPublicOutcome(out)
	}
	return pub
}

func toPublicReviewItem(item resolve.ReviewItem) ReviewItem {
	out := ReviewItem{
		Fragment:        toPublicFragment(item.Fragment),
		StagedChanges:   toPublicChanges(item.StagedChanges),
		Interpretations: toPublicInterpretations(item.Interpretations),
	}
	for _, d := range item.Decisions {
		out.Decisions = append(out.Decisions, toPublicDecision(d))
	}
	return out
}

func toPublicReviewItems(items []resolve.ReviewItem) []ReviewItem {
	out := make([]ReviewItem, len(items))
	for i, item := range items {
		out[i] = toPublicReviewItem(item)
	}
	return out
}

func toPublicResolveOutcome(res storage.ResolveResult) ResolveOutcome {
	out := ResolveOutcome{Decision: toPublicDecision(res.Decision)}
	for _, it := range res.AppliedItems {
		out.AppliedItems = append(out.AppliedItems, toPublicItem(it))
	}
	return out
}

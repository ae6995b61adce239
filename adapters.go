package kasane

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pgvector/pgvector-go"

	"github.com/kasane-ai/kasane/internal/config"
	"github.com/kasane-ai/kasane/internal/extract"
	"github.com/kasane-ai/kasane/internal/model"
	"github.com/kasane-ai/kasane/internal/oracle"
	"github.com/kasane-ai/kasane/internal/service/embedding"
)

// newEmbeddingProvider selects the embedding backend from config.
// "auto" picks OpenAI when an API key is set and otherwise disables
// embeddings; similarity context degrades gracefully without them.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	switch cfg.EmbeddingProvider {
	case "openai":
		logger.Info("embeddings: openai", "model", cfg.EmbeddingModel)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	case "ollama":
		logger.Info("embeddings: ollama", "url", cfg.OllamaURL)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	case "noop":
		logger.Info("embeddings: disabled")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	default: // auto
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embeddings: openai (auto)", "model", cfg.EmbeddingModel)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		}
		logger.Info("embeddings: disabled (auto, no OPENAI_API_KEY)")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
}

// newOracle selects the reasoning oracle from config. "auto" picks
// OpenAI when an API key is set and falls back to Ollama; "none"
// leaves every fragment pending until a classifier is provided.
func newOracle(cfg config.Config, logger *slog.Logger) (oracle.Classifier, oracle.Interpreter) {
	provider := cfg.OracleProvider
	if provider == "auto" {
		if cfg.OpenAIAPIKey != "" {
			provider = "openai"
		} else {
			provider = "ollama"
		}
	}
	switch provider {
	case "openai":
		logger.Info("oracle: openai", "model", cfg.OpenAIModel)
		o := oracle.NewOpenAIOracle(cfg.OpenAIAPIKey, cfg.OpenAIModel, "", cfg.OracleTimeout)
		return o, o
	case "ollama":
		logger.Info("oracle: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		o := oracle.NewOllamaOracle(cfg.OllamaURL, cfg.OllamaModel, cfg.OracleTimeout)
		return o, o
	default: // none
		logger.Warn("oracle: disabled, fragments will stay pending")
		d := disabledOracle{}
		return d, d
	}
}

// disabledOracle fails every call with a retryable error, so analysis
// without a configured oracle leaves fragments pending instead of
// corrupting their status.
type disabledOracle struct{}

func (disabledOracle) Classify(context.Context, oracle.ClassifyRequest) (oracle.Judgment, error) {
	return oracle.Judgment{}, &oracle.ClassificationError{Op: "classify", Err: errors.New("no oracle configured")}
}

func (disabledOracle) Interpret(context.Context, oracle.InterpretRequest) ([]oracle.Proposal, error) {
	return nil, &oracle.ClassificationError{Op: "interpret", Err: errors.New("no oracle configured")}
}

// classifierAdapter bridges a public Classifier to the internal
// oracle contract. Responses are validated here so external
// implementations get the same strictness as the built-in clients; a
// violation surfaces as a retryable classification error.
type classifierAdapter struct {
	c Classifier
}

func (a *classifierAdapter) Classify(ctx context.Context, req oracle.ClassifyRequest) (oracle.Judgment, error) {
	j, err := a.c.Classify(ctx, toSnapshot(req.Context), req.FragmentContent, req.LocationHint)
	if err != nil {
		return oracle.Judgment{}, &oracle.ClassificationError{Op: "classify", Err: err}
	}
	oj := oracle.Judgment{
		RelationshipKind:   model.RelationshipKind(j.RelationshipType),
		TargetSlot:         j.TargetSlot,
		TargetItemID:       j.TargetItemID,
		Confidence:         j.Confidence,
		IsAmbiguous:        j.IsAmbiguous,
		Rationale:          j.Rationale,
		IntegrationContent: j.IntegrationContent,
		IntegrationKind:    j.IntegrationKind,
	}
	if err := oj.Validate(); err != nil {
		return oracle.Judgment{}, &oracle.ClassificationError{Op: "classify", Err: err}
	}
	return oj, nil
}

func (a *classifierAdapter) Interpret(ctx context.Context, req oracle.InterpretRequest) ([]oracle.Proposal, error) {
	proposals, err := a.c.Interpret(ctx, toSnapshot(req.Context), req.FragmentContent, req.AmbiguityRationale)
	if err != nil {
		return nil, &oracle.ClassificationError{Op: "interpret", Err: err}
	}
	out := make([]oracle.Proposal, len(proposals))
	for i, p := range proposals {
		changes := make([]oracle.ChangeProposal, len(p.Changes))
		for k, c := range p.Changes {
			changes[k] = oracle.ChangeProposal{
				Kind:          model.ChangeKind(c.Kind),
				TargetSlot:    c.TargetSlot,
				TargetItemID:  c.TargetItemID,
				BeforeContent: c.BeforeContent,
				AfterContent:  c.AfterContent,
			}
		}
		out[i] = oracle.Proposal{
			Key:                   p.Key,
			Title:                 p.Title,
			Strategy:              p.Strategy,
			Rationale:             p.Rationale,
			RelationshipKind:      model.RelationshipKind(p.RelationshipType),
			TargetSlot:            p.TargetSlot,
			Recommended:           p.Recommended,
			Changes:               changes,
			CommitmentStatement:   p.CommitmentStatement,
			ForeclosureStatements: p.ForeclosureStatements,
		}
	}
	if err := oracle.ValidateProposals(out); err != nil {
		return nil, &oracle.ClassificationError{Op: "interpret", Err: err}
	}
	return out, nil
}

func toSnapshot(uc oracle.UnitContext) UnitSnapshot {
	snap := UnitSnapshot{
		ID:   uc.UnitID,
		Name: uc.UnitName,
		Kind: string(uc.UnitKind),
	}
	for _, slot := range uc.Slots {
		snap.Slots = append(snap.Slots, SlotSnapshot{
			Slot:  slot.Slot,
			Items: toItemSummaries(slot.Items),
		})
	}
	snap.SimilarItems = toItemSummaries(uc.SimilarItems)
	return snap
}

func toItemSummaries(items []oracle.ItemSummary) []ItemSummary {
	if len(items) == 0 {
		return nil
	}
	out := make([]ItemSummary, len(items))
	for i, it := range items {
		out[i] = ItemSummary{ID: it.ID, Slot: it.Slot, Content: it.Content, Strength: it.Strength}
	}
	return out
}

// embedderAdapter bridges a public EmbeddingProvider to the internal
// pgvector-based interface.
type embedderAdapter struct {
	p EmbeddingProvider
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}

func (a *embedderAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vecs))
	for i, v := range vecs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *embedderAdapter) Dimensions() int {
	return a.p.Dimensions()
}

// extractorAdapter bridges a public Extractor to the internal one.
type extractorAdapter struct {
	e Extractor
}

func (a *extractorAdapter) Extract(ctx context.Context, content string) ([]extract.Fragment, error) {
	frags, err := a.e.Extract(ctx, content)
	if err != nil {
		return nil, err
	}
	out := make([]extract.Fragment, len(frags))
	for i, f := range frags {
		out[i] = extract.Fragment{Content: f.Content, LocationHint: f.LocationHint}
	}
	return out, nil
}

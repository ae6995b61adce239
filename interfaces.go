package kasane

import (
	"context"
)

// Classifier is the reasoning oracle contract for external
// implementations. When provided via WithClassifier, it replaces the
// config-selected OpenAI/Ollama client for both classification and
// interpretation generation.
//
// Classify must return a complete judgment or an error; there is no
// partial-success path. An error leaves the fragment pending for a
// later retry. Interpret may return zero to four proposals with at
// most one marked Recommended.
type Classifier interface {
	Classify(ctx context.Context, unit UnitSnapshot, fragment string, locationHint *string) (Judgment, error)
	Interpret(ctx context.Context, unit UnitSnapshot, fragment string, ambiguityRationale string) ([]Proposal, error)
}

// EmbeddingProvider generates vector embeddings from text. When
// provided via WithEmbeddingProvider, it replaces the config-selected
// OpenAI/Ollama/noop provider. Uses []float32 (not pgvector.Vector)
// so external consumers do not need the pgvector dependency.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Extractor splits raw source content into candidate fragments. When
// provided via WithExtractor, it replaces the built-in paragraph
// extractor; plug in format-aware extraction (PDF, HTML) here.
type Extractor interface {
	Extract(ctx context.Context, content string) ([]ExtractedFragment, error)
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceType enumerates the kinds of external documents Kasane ingests.
type SourceType string

const (
	SourceArticle     SourceType = "article"
	SourceBook        SourceType = "book"
	SourceNews        SourceType = "news"
	SourceThinkerWork SourceType = "thinker_work"
	SourceURL         SourceType = "url"
	SourceManual      SourceType = "manual"
)

// Valid reports whether the source type is recognized.
func (t SourceType) Valid() bool {
	switch t {
	case SourceArticle, SourceBook, SourceNews, SourceThinkerWork, SourceURL, SourceManual:
		return true
	}
	return false
}

// ExtractionStatus tracks fragment extraction progress for a source.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// Source is an external document under analysis. It is created on
// ingestion and mutated only by the extraction flow; deleting a source
// cascades to its fragments.
type Source struct {
	ID               uuid.UUID        `json:"id"`
	UnitID           uuid.UUID        `json:"unit_id"`
	SourceType       SourceType       `json:"source_type"`
	Name             string           `json:"name"`
	Content          string           `json:"content"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	FragmentCount    int              `json:"fragment_count"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

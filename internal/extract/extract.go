// Package extract splits source documents into analyzable fragments.
//
// The default extractor is deliberately simple: paragraphs separated by
// blank lines, long paragraphs split on sentence boundaries. Anything
// smarter (section-aware chunking, citation tracking) plugs in behind
// the Extractor interface.
package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Fragment is one extracted span of a source document.
type Fragment struct {
	// Content is the fragment text, whitespace-trimmed.
	Content string
	// LocationHint describes where in the document the fragment came
	// from, e.g. "paragraph 3". Nil when the extractor has nothing
	// useful to say about position.
	LocationHint *string
}

// Extractor turns a source document into fragments.
type Extractor interface {
	Extract(ctx context.Context, content string) ([]Fragment, error)
}

// minFragmentChars drops fragments too short to carry a claim.
const minFragmentChars = 20

// ParagraphExtractor splits on blank lines and breaks oversized
// paragraphs at sentence boundaries.
type ParagraphExtractor struct {
	// MaxChars is the soft upper bound for one fragment. Paragraphs
	// over it are split on sentence ends; a single sentence longer
	// than MaxChars is kept whole.
	MaxChars int
}

// NewParagraphExtractor returns an extractor with the given size bound.
// maxChars <= 0 selects the default of 2000.
func NewParagraphExtractor(maxChars int) *ParagraphExtractor {
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &ParagraphExtractor{MaxChars: maxChars}
}

// Extract splits content into fragments. The error return satisfies
// the interface; this implementation cannot fail.
func (e *ParagraphExtractor) Extract(_ context.Context, content string) ([]Fragment, error) {
	var frags []Fragment
	paraNum := 0
	for _, para := range splitParagraphs(content) {
		paraNum++
		pieces := splitOversized(para, e.MaxChars)
		for i, piece := range pieces {
			if len(piece) < minFragmentChars {
				continue
			}
			hint := fmt.Sprintf("paragraph %d", paraNum)
			if len(pieces) > 1 {
				hint = fmt.Sprintf("paragraph %d, part %d", paraNum, i+1)
			}
			frags = append(frags, Fragment{Content: piece, LocationHint: &hint})
		}
	}
	return frags, nil
}

// splitParagraphs splits on runs of blank lines, normalizing line
// endings first.
func splitParagraphs(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var paras []string
	for _, block := range strings.Split(content, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			paras = append(paras, strings.Join(strings.Fields(block), " "))
		}
	}
	return paras
}

// splitOversized breaks a paragraph over maxChars into sentence-aligned
// pieces, greedily packing sentences until the bound.
func splitOversized(para string, maxChars int) []string {
	if len(para) <= maxChars {
		return []string{para}
	}

	sentences := splitSentences(para)
	var pieces []string
	var buf strings.Builder
	for _, s := range sentences {
		if buf.Len() > 0 && buf.Len()+1+len(s) > maxChars {
			pieces = append(pieces, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(s)
	}
	if buf.Len() > 0 {
		pieces = append(pieces, buf.String())
	}
	return pieces
}

// splitSentences splits on terminal punctuation followed by a space and
// an upper-case letter. Abbreviations will occasionally over-split;
// that only shortens fragments, it never loses text.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes)-1; i++ {
		if (runes[i] == '.' || runes[i] == '!' || runes[i] == '?') &&
			unicode.IsSpace(runes[i+1]) {
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			if j < len(runes) && unicode.IsUpper(runes[j]) {
				sentences = append(sentences, strings.TrimSpace(string(runes[start:i+1])))
				start = j
				i = j - 1
			}
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

package oracle

import (
	"fmt"
	"strings"
)

// classifyPrompt asks for a single JSON object matching the Judgment
// wire shape. Both providers send it verbatim; the JSON-only response
// modes (response_format / format:json) do the structural enforcement
// and Validate does the semantic enforcement.
const classifyPrompt = `You are a relevance classifier for a knowledge analysis system.

The unit under analysis:
%s

A new fragment extracted from a source%s:
%s

Decide how this fragment relates to the unit's existing knowledge.

relationship_type must be one of:
- new_evidence: the fragment adds a claim no existing item covers
- supports: it reinforces an existing item (name it in target_item_id)
- contradicts: it conflicts with an existing item (name it in target_item_id)
- refines: it narrows or sharpens an existing item (name it in target_item_id)
- duplicates: an existing item already says this
- irrelevant: the fragment does not bear on this unit

Respond with ONLY a JSON object:
{
  "relationship_type": "...",
  "target_slot": "slot name or null",
  "target_item_id": "uuid of the existing item or null",
  "confidence": 0.0 to 1.0,
  "is_ambiguous": true if the fragment admits materially different readings,
  "rationale": "one or two sentences",
  "integration_content": "the content to store, phrased for the knowledge base, or null",
  "integration_kind": "claim|evidence|counterexample|synthesis_note or null"
}`

// interpretPrompt asks for 2-4 competing readings of an ambiguous
// fragment, each with its structural changes and stated trade-offs.
const interpretPrompt = `You are generating competing interpretations of an ambiguous fragment for a knowledge analysis system.

The unit under analysis:
%s

The ambiguous fragment:
%s

Why it was flagged ambiguous:
%s

Produce 2 to 4 genuinely different readings. For each, state what
committing to it buys and what it forecloses. Flag AT MOST ONE reading
as recommended.

Respond with ONLY a JSON object:
{
  "interpretations": [
    {
      "key": "a",
      "title": "...",
      "strategy": "...",
      "rationale": "...",
      "relationship_type": "new_evidence|supports|contradicts|refines|duplicates|irrelevant",
      "target_slot": "...",
      "is_recommended": false,
      "structural_changes": [
        {
          "change_type": "addition|revision|scope_limitation|strengthening|deletion",
          "target_slot": "...",
          "target_item_id": "uuid or null",
          "before_content": "current content or null",
          "after_content": "new content or null"
        }
      ],
      "commitment_statement": "...",
      "foreclosure_statements": ["..."]
    }
  ]
}`

// formatContext renders a UnitContext as the prompt block both prompts
// embed. Item ids are included so the oracle can reference targets.
func formatContext(uc UnitContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %q (id %s)\n", uc.UnitKind, uc.UnitName, uc.UnitID)
	if len(uc.Slots) == 0 {
		b.WriteString("No existing items.\n")
	}
	for _, sc := range uc.Slots {
		fmt.Fprintf(&b, "Slot %q:\n", sc.Slot)
		for _, it := range sc.Items {
			fmt.Fprintf(&b, "  - [%s] (strength %.2f) %s\n", it.ID, it.Strength, it.Content)
		}
	}
	if len(uc.SimilarItems) > 0 {
		b.WriteString("Semantically similar items elsewhere in this unit:\n")
		for _, it := range uc.SimilarItems {
			fmt.Fprintf(&b, "  - [%s] (slot %q) %s\n", it.ID, it.Slot, it.Content)
		}
	}
	return b.String()
}

func formatClassifyPrompt(req ClassifyRequest) string {
	hint := ""
	if req.LocationHint != nil && *req.LocationHint != "" {
		hint = fmt.Sprintf(" (at %s)", *req.LocationHint)
	}
	return fmt.Sprintf(classifyPrompt, formatContext(req.Context), hint, req.FragmentContent)
}

func formatInterpretPrompt(req InterpretRequest) string {
	return fmt.Sprintf(interpretPrompt, formatContext(req.Context), req.FragmentContent, req.AmbiguityRationale)
}

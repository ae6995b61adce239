package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasane-ai/kasane/internal/model"
)

// fakeOllama returns a test server whose chat endpoint replies with
// the given message content.
func fakeOllama(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Format != "json" {
			t.Errorf("expected format=json, got %q", req.Format)
		}
		resp := ollamaChatResponse{}
		resp.Message.Content = content
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOllamaClassify(t *testing.T) {
	srv := fakeOllama(t, `{
		"relationship_type": "supports",
		"target_slot": "supporting_evidence",
		"confidence": 0.91,
		"is_ambiguous": false,
		"rationale": "restates the central claim",
		"integration_content": "the study replicated at n=2000",
		"integration_kind": "evidence"
	}`)
	defer srv.Close()

	o := NewOllamaOracle(srv.URL, "test-model", 0)
	j, err := o.Classify(context.Background(), ClassifyRequest{FragmentContent: "the study replicated"})
	require.NoError(t, err)
	assert.Equal(t, model.RelationSupports, j.RelationshipKind)
	assert.InDelta(t, 0.91, j.Confidence, 1e-9)
	assert.False(t, j.IsAmbiguous)
	require.NotNil(t, j.IntegrationKind)
	assert.Equal(t, "evidence", *j.IntegrationKind)
}

func TestOllamaClassify_MalformedIsClassificationError(t *testing.T) {
	cases := map[string]string{
		"not json":          `the fragment clearly supports the claim`,
		"invalid judgment":  `{"relationship_type": "supports", "confidence": 7}`,
		"unknown kind":      `{"relationship_type": "sideways", "confidence": 0.5}`,
		"missing slot":      `{"relationship_type": "refines", "confidence": 0.5}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			srv := fakeOllama(t, content)
			defer srv.Close()

			o := NewOllamaOracle(srv.URL, "test-model", 0)
			_, err := o.Classify(context.Background(), ClassifyRequest{FragmentContent: "x"})
			require.Error(t, err)
			var ce *ClassificationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "classify", ce.Op)
		})
	}
}

func TestOllamaClassify_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewOllamaOracle(srv.URL, "test-model", 0)
	_, err := o.Classify(context.Background(), ClassifyRequest{FragmentContent: "x"})
	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
}

func TestOllamaInterpret(t *testing.T) {
	srv := fakeOllama(t, `{
		"interpretations": [
			{
				"key": "a",
				"title": "literal reading",
				"strategy": "conservative",
				"rationale": "take the fragment at face value",
				"relationship_type": "new_evidence",
				"target_slot": "supporting_evidence",
				"is_recommended": true,
				"structural_changes": [
					{"change_type": "addition", "target_slot": "supporting_evidence",
					 "target_item_id": null, "before_content": null,
					 "after_content": "new supporting claim"}
				],
				"commitment_statement": "commits to the literal sense",
				"foreclosure_statements": ["forecloses the ironic reading"]
			},
			{
				"key": "b",
				"title": "ironic reading",
				"strategy": "skeptical",
				"rationale": "the author may be quoting an opponent",
				"relationship_type": "contradicts",
				"target_slot": "counter_evidence",
				"is_recommended": false,
				"structural_changes": [],
				"commitment_statement": "commits to attributed speech",
				"foreclosure_statements": []
			}
		]
	}`)
	defer srv.Close()

	o := NewOllamaOracle(srv.URL, "test-model", 0)
	ps, err := o.Interpret(context.Background(), InterpretRequest{FragmentContent: "x", AmbiguityRationale: "tone unclear"})
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.True(t, ps[0].Recommended)
	assert.False(t, ps[1].Recommended)
	require.Len(t, ps[0].Changes, 1)
	assert.Equal(t, model.ChangeAddition, ps[0].Changes[0].Kind)
}

func TestOllamaInterpret_EmptySetIsLegal(t *testing.T) {
	srv := fakeOllama(t, `{"interpretations": []}`)
	defer srv.Close()

	o := NewOllamaOracle(srv.URL, "test-model", 0)
	ps, err := o.Interpret(context.Background(), InterpretRequest{FragmentContent: "x"})
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestOllamaInterpret_TwoRecommendedRejected(t *testing.T) {
	srv := fakeOllama(t, `{
		"interpretations": [
			{"key": "a", "title": "t", "relationship_type": "supports", "target_slot": "s", "is_recommended": true},
			{"key": "b", "title": "t", "relationship_type": "refines", "target_slot": "s", "is_recommended": true}
		]
	}`)
	defer srv.Close()

	o := NewOllamaOracle(srv.URL, "test-model", 0)
	_, err := o.Interpret(context.Background(), InterpretRequest{FragmentContent: "x"})
	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "interpret", ce.Op)
}

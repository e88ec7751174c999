package extraction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/purplefabric/graphrag/internal/llm/llmtest"
	"github.com/purplefabric/graphrag/internal/store/kv"
	"github.com/purplefabric/graphrag/internal/store/triple"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSPARQL serves the ontology introspection queries the fabric issues
// concurrently.
type fakeSPARQL struct {
	mu sync.Mutex
}

func uriTerm(v string) triple.Term { return triple.Term{Kind: triple.TermURI, Value: v} }

func (f *fakeSPARQL) Query(_ context.Context, query string) (*triple.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.Contains(query, "owl:Class"):
		return &triple.Result{Rows: []triple.Row{
			{"class": uriTerm("http://example.com/ont#Customer")},
			{"class": uriTerm("http://example.com/ont#Contract")},
			{"class": uriTerm("http://example.com/ont#Invoice")},
		}}, nil
	case strings.Contains(query, "owl:DatatypeProperty"):
		return &triple.Result{Rows: []triple.Row{
			{
				"prop":   uriTerm("http://example.com/ont#riskScore"),
				"domain": uriTerm("http://example.com/ont#Customer"),
				"range":  uriTerm("http://www.w3.org/2001/XMLSchema#decimal"),
			},
		}}, nil
	case strings.Contains(query, "owl:ObjectProperty"):
		return &triple.Result{Rows: []triple.Row{
			{
				"prop":   uriTerm("http://example.com/ont#SIGNED"),
				"domain": uriTerm("http://example.com/ont#Customer"),
				"range":  uriTerm("http://example.com/ont#Contract"),
			},
		}}, nil
	}
	return &triple.Result{}, nil
}

func (f *fakeSPARQL) Update(context.Context, string) error { return nil }

const extractionResponse = `{
  "entities": [
    {"class": "Customer", "name": "ACME", "identity_keys": {"name": "ACME"}, "attributes": {"riskScore": 7.5}, "confidence": 0.9, "quote": "ACME Corp", "span_start": 0, "span_end": 9},
    {"class": "Contract", "name": "MSA-2026", "identity_keys": {"name": "MSA-2026"}, "confidence": 0.9, "quote": "the MSA", "span_start": 10, "span_end": 17},
    {"class": "Customer", "name": "Shady Co", "identity_keys": {"name": "Shady Co"}, "confidence": 0.5, "quote": "maybe Shady Co", "span_start": 20, "span_end": 34}
  ],
  "relationships": [
    {"type": "SIGNED", "from_name": "ACME", "from_class": "Customer", "to_name": "MSA-2026", "to_class": "Contract", "confidence": 0.9, "quote": "ACME signed the MSA", "span_start": 0, "span_end": 19}
  ],
  "candidate_concepts": [
    {"term": "master service agreement", "suggested_class": "AgreementType"}
  ]
}`

func newTestPipeline(t *testing.T, chat *llmtest.FakeChat) (*Pipeline, *RunStore, *fakeRunner) {
	t.Helper()
	mr := miniredis.RunT(t)
	kvStore := kv.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	runs := NewRunStore(kvStore)
	fab := fabric.NewService(&fakeSPARQL{}, nil, nil, nil)
	graph := &fakeRunner{}
	p := NewPipeline(runs, fab, chat, NewResolver(graph, nil), NewWriter(graph, nil), nil)
	return p, runs, graph
}

func TestPipelineHappyPath(t *testing.T) {
	chat := &llmtest.FakeChat{Responses: []string{
		`{"document_type": "contract", "industry": "saas", "topics": ["legal"], "confidence": 0.9}`,
		extractionResponse,
	}}
	p, runs, graph := newTestPipeline(t, chat)
	ctx := context.Background()

	run, err := p.Execute(ctx, Request{
		TenantID:    "acme",
		WorkspaceID: "ws1",
		Document: Document{
			DocumentID: "doc1",
			Name:       "msa.pdf",
			Text:       "ACME Corp signed the MSA. Shady Co might be involved.",
		},
		OntologyIDs:     []string{"contracts"},
		OntologyVersion: "v1",
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, run.State)

	// Two nodes survive the gate, the 0.5-confidence one is quarantined.
	assert.Equal(t, 2, run.Stats.Nodes)
	assert.Equal(t, 1, run.Stats.Edges)
	assert.Equal(t, 1, run.Stats.Assertions)
	assert.Equal(t, 1, run.Stats.Candidates)
	assert.GreaterOrEqual(t, run.Stats.Quarantined, 1)

	// Run record and tenant index are persisted.
	stored, err := runs.Get(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.State)
	ids, err := runs.List(ctx, "acme")
	require.NoError(t, err)
	assert.Contains(t, ids, run.RunID)

	// Quarantine review list and the 30-day event batch are persisted.
	quarantined, err := runs.Quarantined(ctx, "acme", 10)
	require.NoError(t, err)
	require.NotEmpty(t, quarantined)
	batch, err := runs.Events(ctx, run.BatchID)
	require.NoError(t, err)
	assert.Equal(t, run.Stats, batch.Stats)

	// Writes hit the graph: nodes before edges before evidence.
	require.NotEmpty(t, graph.executed)
	assert.Contains(t, graph.executed[len(graph.executed)-1], "EVIDENCED_BY")
}

func TestPipelineClassificationNarrowsPriming(t *testing.T) {
	chat := &llmtest.FakeChat{Responses: []string{
		`{"document_type": "Customer", "industry": "saas", "topics": [], "confidence": 0.9}`,
		extractionResponse,
	}}
	p, _, _ := newTestPipeline(t, chat)

	run, err := p.Execute(context.Background(), Request{
		TenantID:    "acme",
		WorkspaceID: "ws1",
		Document:    Document{DocumentID: "doc1", Text: "ACME Corp signed the MSA."},
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, run.State)

	// SIGNED pulls Contract into the slice; Invoice is unrelated and
	// drops out of the extraction prompt.
	prompt := chat.LastPrompt()
	assert.Contains(t, prompt, "Customer")
	assert.Contains(t, prompt, "Contract")
	assert.NotContains(t, prompt, "Invoice")
}

func TestPipelineFailsWhenEveryChunkFails(t *testing.T) {
	chat := &llmtest.FakeChat{Err: fmt.Errorf("llm unavailable")}
	p, runs, _ := newTestPipeline(t, chat)
	ctx := context.Background()

	run, err := p.Execute(ctx, Request{
		TenantID:    "acme",
		WorkspaceID: "ws1",
		Document:    Document{DocumentID: "doc1", Text: "some text"},
	})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, run.State)
	assert.NotEmpty(t, run.Errors)

	stored, err := runs.Get(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stored.State)
}

func TestPipelineFailsOnEmptyDocument(t *testing.T) {
	p, _, _ := newTestPipeline(t, &llmtest.FakeChat{})
	run, err := p.Execute(context.Background(), Request{
		TenantID:    "acme",
		WorkspaceID: "ws1",
		Document:    Document{DocumentID: "doc1", Text: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, run.State)
	assert.Contains(t, run.Errors[0], "no chunks")
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateExtracting.Terminal())
	assert.False(t, StatePending.Terminal())
}

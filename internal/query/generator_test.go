package query

import (
	"context"
	"strings"
	"testing"

	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/purplefabric/graphrag/internal/llm/llmtest"
	"github.com/purplefabric/graphrag/internal/store/lpg"
	"github.com/purplefabric/graphrag/internal/store/triple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSchema() *fabric.OntologySchema {
	return &fabric.OntologySchema{
		Classes: []fabric.ClassDef{
			{IRI: "http://x/ont#Customer", Name: "Customer"},
		},
		DataProperties: []fabric.DataProperty{
			{IRI: "http://x/ont#riskScore", Name: "riskScore", Domain: "Customer", Range: "decimal"},
		},
		ObjectProperties: []fabric.ObjectProperty{
			{IRI: "http://x/ont#SIGNED", Name: "SIGNED", Domain: "Customer", Range: "Contract"},
		},
	}
}

func TestSPARQLPrimingContent(t *testing.T) {
	samples := &triple.Result{
		Vars: []string{"s", "o"},
		Rows: []triple.Row{
			{"s": {Kind: triple.TermURI, Value: "http://x/data/acme"}, "o": {Kind: triple.TermLiteral, Value: "ACME"}},
		},
	}
	text := SPARQLPriming(sampleSchema(), samples)
	assert.Contains(t, text, "Customer <http://x/ont#Customer>")
	assert.Contains(t, text, "riskScore <http://x/ont#riskScore> (range decimal)")
	assert.Contains(t, text, "SIGNED <http://x/ont#SIGNED>: Customer -> Contract")
	assert.Contains(t, text, "http://x/data/acme | ACME")
}

func TestSPARQLPrimingCapsSamples(t *testing.T) {
	samples := &triple.Result{Vars: []string{"s"}}
	for i := 0; i < 60; i++ {
		samples.Rows = append(samples.Rows, triple.Row{"s": {Value: "row"}})
	}
	text := SPARQLPriming(sampleSchema(), samples)
	assert.Equal(t, maxSampleRows, strings.Count(text, "  row\n"))
}

func TestSPARQLGenerate(t *testing.T) {
	chat := &llmtest.FakeChat{Responses: []string{
		"```sparql\nSELECT ?c WHERE { ?c a <http://x/ont#Customer> . }\n```",
	}}
	g := NewSPARQLGenerator(chat, nil)

	got, err := g.Generate(context.Background(), "list customers", sampleSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT ?c WHERE { ?c a <http://x/ont#Customer> . }", got)
	assert.Contains(t, chat.LastPrompt(), "Question: list customers")
	assert.Contains(t, chat.LastPrompt(), "http://x/ont#Customer")
}

func TestSPARQLRepairIncludesFailureContext(t *testing.T) {
	chat := &llmtest.FakeChat{Responses: []string{
		"SELECT ?c WHERE { ?c a <http://x/ont#Customer> . } LIMIT 5",
	}}
	g := NewSPARQLGenerator(chat, nil)

	got, err := g.Repair(context.Background(), "top customers",
		"SELECT ?c WHERE { LIMIT 5 }", "MALFORMED QUERY near LIMIT", sampleSchema())
	require.NoError(t, err)
	assert.Contains(t, got, "LIMIT 5")
	assert.Contains(t, chat.LastPrompt(), "This query failed:")
	assert.Contains(t, chat.LastPrompt(), "MALFORMED QUERY near LIMIT")
}

func lpgSchema() *lpg.Schema {
	return &lpg.Schema{
		Labels: []string{"Customer", "Contract"},
		Relationships: []lpg.RelationshipPattern{
			{Type: "SIGNED", FromLabel: "Customer", ToLabel: "Contract", Pattern: "(:Customer)-[:SIGNED]->(:Contract)"},
		},
		PropertySamples: map[string]map[string][]string{
			"Customer": {"display_name": {"ACME", "Globex"}},
		},
	}
}

func TestCypherPrimingContent(t *testing.T) {
	text := CypherPriming(lpgSchema(), "ws1", []string{"doc1", "doc2"})
	assert.Contains(t, text, "(:Customer)-[:SIGNED]->(:Contract)")
	assert.Contains(t, text, "WHERE n.workspace_id = 'ws1'")
	assert.Contains(t, text, "n.source_document IN ['doc1', 'doc2']")
	assert.Contains(t, text, "display_name: ACME, Globex")
}

func TestCypherPrimingWithoutFolderScope(t *testing.T) {
	text := CypherPriming(lpgSchema(), "ws1", nil)
	assert.NotContains(t, text, "source_document")
}

func TestCypherGenerate(t *testing.T) {
	chat := &llmtest.FakeChat{Responses: []string{
		"MATCH (n:Customer) WHERE n.workspace_id = 'ws1' RETURN n.display_name",
	}}
	g := NewCypherGenerator(chat, 10, nil)

	got, err := g.Generate(context.Background(), "list customers", "ws1", lpgSchema(), nil)
	require.NoError(t, err)
	assert.Contains(t, got, "LIMIT 10", "default limit appended")
	assert.Contains(t, chat.LastPrompt(), "copy direction verbatim")
}

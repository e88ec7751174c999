package query

import (
	"strings"
	"testing"

	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanSPARQLStripsFencesAndPreamble(t *testing.T) {
	raw := "Here is your query:\n```sparql\nSELECT ?s WHERE { ?s ?p ?o . }\n```"
	got, err := CleanSPARQL(raw)
	require.NoError(t, err)
	assert.Equal(t, "SELECT ?s WHERE { ?s ?p ?o . }", got)
}

func TestCleanSPARQLRemovesServiceBlocks(t *testing.T) {
	raw := `SELECT ?s WHERE { ?s ?p ?o . SERVICE <http://remote/sparql> { ?s ?x ?y . } }`
	got, err := CleanSPARQL(raw)
	require.NoError(t, err)
	assert.NotContains(t, got, "SERVICE")
	assert.Contains(t, got, "?s ?p ?o .")
}

func TestCleanSPARQLFixesDottedPrefixes(t *testing.T) {
	raw := `SELECT ?c WHERE { ?c a Party.Complaint . }`
	got, err := CleanSPARQL(raw)
	require.NoError(t, err)
	assert.Contains(t, got, "Party:Complaint")
	assert.NotContains(t, got, "Party.Complaint")
}

func TestCleanSPARQLLeavesDecimalsAlone(t *testing.T) {
	raw := `SELECT ?s WHERE { ?s <http://x/score> ?v . FILTER(?v > 3.5) }`
	got, err := CleanSPARQL(raw)
	require.NoError(t, err)
	assert.Contains(t, got, "3.5")
}

func TestCleanSPARQLMovesLimitOutsideWhere(t *testing.T) {
	raw := "SELECT ?s WHERE { ?s ?p ?o . LIMIT 5 }"
	got, err := CleanSPARQL(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(got), "LIMIT 5"), got)
	inside := got[:strings.LastIndex(got, "}")]
	assert.NotContains(t, inside, "LIMIT")
}

func TestCleanSPARQLDeletesTwoVariableTriples(t *testing.T) {
	raw := "SELECT ?s WHERE {\n ?s ?o .\n ?s <http://x/p> ?o .\n}"
	got, err := CleanSPARQL(raw)
	require.NoError(t, err)
	assert.Contains(t, got, "<http://x/p>")
	assert.NotContains(t, got, "\n ?s ?o .")
}

func TestCleanSPARQLBalancesParens(t *testing.T) {
	raw := `SELECT ?s WHERE { FILTER(REGEX(?s, "acme", "i") }`
	got, err := CleanSPARQL(raw)
	require.NoError(t, err)
	assert.Equal(t, strings.Count(got, "("), strings.Count(got, ")"))
}

func TestCleanSPARQLRejectsWrites(t *testing.T) {
	for _, raw := range []string{
		"INSERT DATA { <a> <b> <c> }",
		"DROP GRAPH <http://x>",
		"no query here at all",
	} {
		_, err := CleanSPARQL(raw)
		require.Error(t, err, raw)
		assert.Equal(t, fault.QueryGenerationFailed, fault.KindOf(err))
	}
}

func TestCleanSPARQLAllowsReadForms(t *testing.T) {
	for _, raw := range []string{
		"SELECT ?s WHERE { ?s a <http://x/C> . }",
		"ASK { <a> <b> <c> }",
		"DESCRIBE <http://x/entity>",
		"CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o . }",
	} {
		_, err := CleanSPARQL(raw)
		assert.NoError(t, err, raw)
	}
}

func TestCleanCypherAppendsLimit(t *testing.T) {
	got, err := CleanCypher("MATCH (n:Customer) WHERE n.workspace_id = 'w' RETURN n", "w", 25)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, "LIMIT 25"), got)
}

func TestCleanCypherKeepsExistingLimit(t *testing.T) {
	raw := "MATCH (n) WHERE n.workspace_id = 'w' RETURN n LIMIT 5"
	got, err := CleanCypher(raw, "w", 25)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestCleanCypherAggregatesSkipLimit(t *testing.T) {
	raw := "MATCH (n:Customer) WHERE n.workspace_id = 'w' RETURN count(n)"
	got, err := CleanCypher(raw, "w", 25)
	require.NoError(t, err)
	assert.NotContains(t, got, "LIMIT")
}

func TestCleanCypherRejectsWrites(t *testing.T) {
	for _, raw := range []string{
		"MATCH (n) DETACH DELETE n",
		"CREATE (n:Hack) RETURN n",
		"MATCH (n) SET n.x = 1 RETURN n",
	} {
		_, err := CleanCypher(raw, "w", 25)
		require.Error(t, err, raw)
		assert.Equal(t, fault.QueryGenerationFailed, fault.KindOf(err))
	}
}

func TestCleanCypherRequiresWorkspaceFilter(t *testing.T) {
	for _, raw := range []string{
		"MATCH (n:Customer) RETURN n LIMIT 3",
		"MATCH (n) WHERE n.workspace_id = 'other' RETURN n LIMIT 3",
	} {
		_, err := CleanCypher(raw, "w1", 25)
		require.Error(t, err, raw)
		assert.Equal(t, fault.QueryGenerationFailed, fault.KindOf(err))
	}

	// No workspace id means the caller scopes another way.
	_, err := CleanCypher("MATCH (n) RETURN n LIMIT 3", "", 25)
	assert.NoError(t, err)
}

func TestCleanCypherStripsProse(t *testing.T) {
	raw := "Sure! Here is the query:\n```cypher\nMATCH (n:Customer) WHERE n.workspace_id = 'w' RETURN n LIMIT 3\n```"
	got, err := CleanCypher(raw, "w", 25)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "MATCH"), got)
}

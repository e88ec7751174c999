package fabric

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeDataGraphClauses(t *testing.T) {
	clauses, err := ComposeFromClauses(FromSpec{
		GraphType: GraphData,
		Tenant:    "t1",
		Workspace: "w1",
	})
	require.NoError(t, err)

	// Data queries always read deprecated and audit too.
	assert.Equal(t, []string{
		"FROM <http://purplefabric.ai/graphs/tenant/t1/workspace/w1/data>",
		"FROM <http://purplefabric.ai/graphs/tenant/t1/workspace/w1/deprecated>",
		"FROM <http://purplefabric.ai/graphs/tenant/t1/workspace/w1/audit>",
	}, clauses)
}

func TestComposeOntologyClauses(t *testing.T) {
	clauses, err := ComposeFromClauses(FromSpec{
		GraphType:        GraphOntology,
		Tenant:           "t1",
		Workspace:        "w1",
		IncludeGlobal:    true,
		IncludeWorkspace: true,
		OntologyIDs:      []string{"fin"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"FROM <http://purplefabric.ai/graphs/global/ontology/fin>",
		"FROM <http://purplefabric.ai/graphs/tenant/t1/workspace/w1/ontology/fin>",
	}, clauses)
}

func TestComposeDeduplicatesPreservingOrder(t *testing.T) {
	data := "http://purplefabric.ai/graphs/tenant/t1/workspace/w1/data"
	clauses, err := ComposeFromClauses(FromSpec{
		GraphType:      GraphData,
		Tenant:         "t1",
		Workspace:      "w1",
		SpecificGraphs: []string{data, data},
	})
	require.NoError(t, err)

	assert.Equal(t, "FROM <"+data+">", clauses[0])
	seen := map[string]int{}
	for _, c := range clauses {
		seen[c]++
	}
	for c, n := range seen {
		assert.Equal(t, 1, n, c)
	}
}

func TestComposeAdditionalWorkspacesAndVKG(t *testing.T) {
	clauses, err := ComposeFromClauses(FromSpec{
		GraphType:            GraphData,
		Tenant:               "t1",
		Workspace:            "w1",
		AdditionalWorkspaces: []string{"w2"},
		VKGGraphPattern:      "http://purplefabric.ai/graphs/vkg/sales",
	})
	require.NoError(t, err)

	joined := strings.Join(clauses, "\n")
	assert.Contains(t, joined, "workspace/w2/data")
	assert.Equal(t, "FROM <http://purplefabric.ai/graphs/vkg/sales>", clauses[len(clauses)-1])
}

func TestComposeRejectsInvalidScope(t *testing.T) {
	_, err := ComposeFromClauses(FromSpec{GraphType: GraphData, Tenant: "undefined", Workspace: "w1"})
	assert.Error(t, err)
}

func TestInjectFromClauses(t *testing.T) {
	query := "SELECT ?s WHERE { ?s ?p ?o }"
	got := InjectFromClauses(query, []string{"FROM <http://g/1>"})
	assert.Equal(t, "SELECT ?s\nFROM <http://g/1>\nWHERE { ?s ?p ?o }", got)

	// No clauses is a no-op.
	assert.Equal(t, query, InjectFromClauses(query, nil))
}

package extraction

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/purplefabric/graphrag/internal/graphevent"
	"github.com/purplefabric/graphrag/internal/store/lpg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner scripts Cypher answers by substring match and records every
// statement it executes.
type fakeRunner struct {
	answers  map[string][]lpg.Row
	err      error
	executed []string
}

func (f *fakeRunner) RunCypher(_ context.Context, cypher string, _ map[string]any) ([]lpg.Row, error) {
	f.executed = append(f.executed, cypher)
	if f.err != nil {
		return nil, f.err
	}
	for needle, rows := range f.answers {
		if strings.Contains(cypher, needle) {
			return rows, nil
		}
	}
	return nil, nil
}

func TestResolveMergesInBatchDuplicates(t *testing.T) {
	batch := graphevent.NewBatch(graphevent.Provenance{})
	low := testNode("Customer", "ACME", 0.6)
	low.SourceDocIDs = []string{"doc1"}
	high := testNode("Customer", "ACME", 0.9)
	high.SourceDocIDs = []string{"doc2"}
	batch.AddNode(low)
	batch.AddNode(high)

	out := NewResolver(&fakeRunner{}, nil).Resolve(context.Background(), batch)
	require.Len(t, out.Nodes, 1)
	assert.Equal(t, 0.9, out.Nodes[0].Confidence, "higher confidence wins")
	assert.Equal(t, []string{"doc1", "doc2"}, out.Nodes[0].SourceDocIDs)
	assert.Equal(t, 1, out.Stats.Nodes)
}

func TestResolveRewritesToExistingCanonicalID(t *testing.T) {
	node := testNode("Customer", "ACME", 0.9)
	existingID := "customer_feedfacedeadbeef"
	runner := &fakeRunner{answers: map[string][]lpg.Row{
		"n.canonical_id <> $id": {{Columns: []string{"n.canonical_id"}, Values: []any{existingID}}},
	}}

	batch := graphevent.NewBatch(graphevent.Provenance{})
	batch.AddNode(node)
	batch.AddEdge(graphevent.UpsertEdge{
		RelationshipType: "SIGNED",
		FromCanonicalID:  node.CanonicalID,
		ToCanonicalID:    "contract_1",
		Confidence:       0.9,
	})
	assertionID := graphevent.AssertionID(node.CanonicalID, "SIGNED", "contract_1", "doc1_chunk_0", 0, 10)
	batch.AddAssertion(graphevent.UpsertAssertion{
		AssertionID:        assertionID,
		SubjectCanonicalID: node.CanonicalID,
		Predicate:          "SIGNED",
		ObjectCanonicalID:  "contract_1",
		ChunkID:            "doc1_chunk_0",
		Span:               graphevent.Span{End: 10},
		Confidence:         0.9,
	})
	batch.AddEvidence(graphevent.EvidenceLink{
		TargetType:        graphevent.EvidenceTargetNode,
		TargetCanonicalID: node.CanonicalID,
	})
	batch.AddEvidence(graphevent.EvidenceLink{
		TargetType:  graphevent.EvidenceTargetAssertion,
		AssertionID: assertionID,
	})

	out := NewResolver(runner, nil).Resolve(context.Background(), batch)
	require.Len(t, out.Nodes, 1)
	assert.Equal(t, existingID, out.Nodes[0].CanonicalID)
	assert.Equal(t, existingID, out.Edges[0].FromCanonicalID)
	assert.Equal(t, existingID, out.Assertions[0].SubjectCanonicalID)

	wantAssertion := graphevent.AssertionID(existingID, "SIGNED", "contract_1", "doc1_chunk_0", 0, 10)
	assert.Equal(t, wantAssertion, out.Assertions[0].AssertionID, "assertion id recomputed")
	assert.Equal(t, existingID, out.Evidence[0].TargetCanonicalID)
	assert.Equal(t, wantAssertion, out.Evidence[1].AssertionID)
}

func TestResolveLookupFailureIsBestEffort(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("neo4j down")}
	batch := graphevent.NewBatch(graphevent.Provenance{})
	batch.AddNode(testNode("Customer", "ACME", 0.9))

	out := NewResolver(runner, nil).Resolve(context.Background(), batch)
	require.Len(t, out.Nodes, 1, "resolution failure never drops events")
}

func TestApplyGateBins(t *testing.T) {
	batch := graphevent.NewBatch(graphevent.Provenance{})
	fact := testNode("Customer", "Fact Corp", 0.9)
	claim := testNode("Customer", "Claim Corp", 0.7)
	low := testNode("Customer", "Low Corp", 0.5)
	batch.AddNode(fact)
	batch.AddNode(claim)
	batch.AddNode(low)
	batch.AddEvidence(graphevent.EvidenceLink{
		TargetType:        graphevent.EvidenceTargetNode,
		TargetCanonicalID: low.CanonicalID,
	})

	out := ApplyGate(batch)
	require.Len(t, out.Nodes, 2)
	assert.Equal(t, graphevent.StatusFact, out.Nodes[0].ClaimStatus)
	assert.Equal(t, graphevent.StatusClaim, out.Nodes[1].ClaimStatus)
	require.Len(t, out.Quarantine, 1)
	assert.True(t, out.Quarantine[0].Recoverable)
	assert.Empty(t, out.Evidence, "evidence of quarantined node dropped")
}

func TestApplyGateEdgesFollowQuarantinedEndpoints(t *testing.T) {
	batch := graphevent.NewBatch(graphevent.Provenance{})
	low := testNode("Customer", "Low Corp", 0.4)
	batch.AddNode(low)
	batch.AddEdge(graphevent.UpsertEdge{
		RelationshipType: "SIGNED",
		FromCanonicalID:  low.CanonicalID,
		ToCanonicalID:    "contract_1",
		Confidence:       0.95,
	})

	out := ApplyGate(batch)
	assert.Empty(t, out.Edges)
	assert.Len(t, out.Quarantine, 2)
}

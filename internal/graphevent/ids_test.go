package graphevent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalIDOrderIndependent(t *testing.T) {
	a := CanonicalID("Person", "Jane Doe", map[string]string{"email": "jane@x.com", "dob": "1990-01-01"})
	b := CanonicalID("Person", "Jane Doe", map[string]string{"dob": "1990-01-01", "email": "jane@x.com"})
	assert.Equal(t, a, b)
}

func TestCanonicalIDShape(t *testing.T) {
	id := CanonicalID("Person", "Jane Doe", nil)
	assert.True(t, strings.HasPrefix(id, "person_"))
	assert.Len(t, id, len("person_")+16)
}

func TestCanonicalIDDistinguishesInputs(t *testing.T) {
	base := CanonicalID("Person", "Jane Doe", map[string]string{"email": "jane@x.com"})
	assert.NotEqual(t, base, CanonicalID("Person", "Jane Doe", map[string]string{"email": "other@x.com"}))
	assert.NotEqual(t, base, CanonicalID("Company", "Jane Doe", map[string]string{"email": "jane@x.com"}))
	assert.NotEqual(t, base, CanonicalID("Person", "John Doe", map[string]string{"email": "jane@x.com"}))
}

func TestCanonicalIDStableAcrossCalls(t *testing.T) {
	attrs := map[string]string{"ticker": "ACME"}
	first := CanonicalID("Company", "Acme Corp", attrs)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, CanonicalID("Company", "Acme Corp", attrs))
	}
}

func TestAssertionID(t *testing.T) {
	id := AssertionID("person_aaaa", "WORKS_FOR", "company_bbbb", "d1_chunk_0", 10, 42)
	assert.True(t, strings.HasPrefix(id, "assertion_"))
	assert.Len(t, id, len("assertion_")+20)

	same := AssertionID("person_aaaa", "WORKS_FOR", "company_bbbb", "d1_chunk_0", 10, 42)
	assert.Equal(t, id, same)

	different := AssertionID("person_aaaa", "WORKS_FOR", "company_bbbb", "d1_chunk_0", 10, 43)
	assert.NotEqual(t, id, different)
}

func TestGateBins(t *testing.T) {
	tests := []struct {
		confidence float64
		want       GateDecision
	}{
		{0.99, GateFact},
		{0.85, GateFact},
		{0.849, GateClaim},
		{0.65, GateClaim},
		{0.649, GateQuarantine},
		{0.0, GateQuarantine},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Gate(tt.confidence), "confidence %v", tt.confidence)
	}
}

func TestBatchStats(t *testing.T) {
	b := NewBatch(Provenance{TenantID: "t1", WorkspaceID: "w1"})
	b.AddNode(UpsertNode{})
	b.AddNode(UpsertNode{})
	b.AddEdge(UpsertEdge{})
	b.AddAssertion(UpsertAssertion{})
	b.AddEvidence(EvidenceLink{})
	b.AddCandidate(CandidateConcept{})
	b.AddQuarantine(QuarantineRecord{})

	assert.Equal(t, BatchStats{Nodes: 2, Edges: 1, Assertions: 1, Evidence: 1, Candidates: 1, Quarantined: 1}, b.Stats)
	assert.NotEmpty(t, b.BatchID)
}

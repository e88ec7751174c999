package extraction

import (
	"testing"

	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/purplefabric/graphrag/internal/graphevent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *fabric.OntologySchema {
	return &fabric.OntologySchema{
		Classes: []fabric.ClassDef{
			{Name: "Customer"},
			{Name: "Contract"},
		},
		DataProperties: []fabric.DataProperty{
			{Name: "riskScore", Domain: "Customer", Range: "decimal"},
			{Name: "signedOn", Domain: "Contract", Range: "date"},
			{Name: "active", Domain: "Customer", Range: "boolean"},
		},
		ObjectProperties: []fabric.ObjectProperty{
			{Name: "SIGNED", Domain: "Customer", Range: "Contract"},
		},
	}
}

func testNode(class, name string, confidence float64) graphevent.UpsertNode {
	return graphevent.UpsertNode{
		Class:        class,
		CanonicalID:  graphevent.CanonicalID(class, name, map[string]string{"name": name}),
		IdentityKeys: map[string]string{"name": name},
		DisplayName:  name,
		Confidence:   confidence,
		ClaimStatus:  graphevent.StatusClaim,
		Status:       "active",
	}
}

func TestValidateUnknownClassQuarantined(t *testing.T) {
	batch := graphevent.NewBatch(graphevent.Provenance{TenantID: "t", WorkspaceID: "w"})
	batch.AddNode(testNode("Spaceship", "Rocinante", 0.9))

	out := NewValidator(nil).Validate(batch, testSchema())
	assert.Empty(t, out.Nodes)
	require.Len(t, out.Quarantine, 1)
	assert.Contains(t, out.Quarantine[0].FailureReason, "unknown_class")
	assert.False(t, out.Quarantine[0].Recoverable)
}

func TestValidateMissingIdentityKeysQuarantined(t *testing.T) {
	batch := graphevent.NewBatch(graphevent.Provenance{})
	node := testNode("Customer", "ACME", 0.9)
	node.IdentityKeys = nil
	batch.AddNode(node)

	out := NewValidator(nil).Validate(batch, testSchema())
	assert.Empty(t, out.Nodes)
	require.Len(t, out.Quarantine, 1)
	assert.Equal(t, "missing identity keys", out.Quarantine[0].FailureReason)
}

func TestValidateTypeMismatchDowngrades(t *testing.T) {
	batch := graphevent.NewBatch(graphevent.Provenance{})
	node := testNode("Customer", "ACME", 0.95)
	node.ClaimStatus = graphevent.StatusFact
	node.Attributes = map[string]any{"riskScore": "not a number"}
	batch.AddNode(node)

	out := NewValidator(nil).Validate(batch, testSchema())
	require.Len(t, out.Nodes, 1)
	assert.Empty(t, out.Quarantine)
	assert.Equal(t, graphevent.StatusClaim, out.Nodes[0].ClaimStatus)
	assert.Equal(t, maxDowngradedConfidence, out.Nodes[0].Confidence)
}

func TestValidateEdgeDomainRangeMismatch(t *testing.T) {
	batch := graphevent.NewBatch(graphevent.Provenance{})
	batch.AddEdge(graphevent.UpsertEdge{
		RelationshipType: "SIGNED",
		FromClass:        "Contract", // wrong way round
		ToClass:          "Customer",
		FromCanonicalID:  "contract_x",
		ToCanonicalID:    "customer_y",
		Confidence:       0.9,
	})

	out := NewValidator(nil).Validate(batch, testSchema())
	assert.Empty(t, out.Edges)
	require.Len(t, out.Quarantine, 1)
	assert.Contains(t, out.Quarantine[0].FailureReason, "domain mismatch")
}

func TestValidateUnknownRelationship(t *testing.T) {
	batch := graphevent.NewBatch(graphevent.Provenance{})
	batch.AddEdge(graphevent.UpsertEdge{RelationshipType: "ORBITS", Confidence: 0.9})

	out := NewValidator(nil).Validate(batch, testSchema())
	assert.Empty(t, out.Edges)
	require.Len(t, out.Quarantine, 1)
	assert.Contains(t, out.Quarantine[0].FailureReason, "unknown relationship")
}

func TestValidateDropsDependentsOfQuarantinedNode(t *testing.T) {
	batch := graphevent.NewBatch(graphevent.Provenance{})
	bad := testNode("Spaceship", "Rocinante", 0.9)
	good := testNode("Customer", "ACME", 0.9)
	batch.AddNode(bad)
	batch.AddNode(good)
	batch.AddEdge(graphevent.UpsertEdge{
		RelationshipType: "SIGNED",
		FromCanonicalID:  good.CanonicalID,
		ToCanonicalID:    bad.CanonicalID,
		FromClass:        "Customer",
		ToClass:          "Contract",
		Confidence:       0.9,
	})
	batch.AddEvidence(graphevent.EvidenceLink{
		TargetType:        graphevent.EvidenceTargetNode,
		TargetCanonicalID: bad.CanonicalID,
	})
	batch.AddEvidence(graphevent.EvidenceLink{
		TargetType:        graphevent.EvidenceTargetNode,
		TargetCanonicalID: good.CanonicalID,
	})

	out := NewValidator(nil).Validate(batch, testSchema())
	require.Len(t, out.Nodes, 1)
	assert.Equal(t, good.CanonicalID, out.Nodes[0].CanonicalID)
	assert.Empty(t, out.Edges, "edge touching quarantined node dropped")
	require.Len(t, out.Evidence, 1)
	assert.Equal(t, good.CanonicalID, out.Evidence[0].TargetCanonicalID)
	assert.Len(t, out.Quarantine, 2)
}

func TestXSDMatches(t *testing.T) {
	cases := []struct {
		rng   string
		value any
		want  bool
	}{
		{"integer", float64(3), true},
		{"integer", 3.5, false},
		{"integer", "42", true},
		{"integer", "forty two", false},
		{"decimal", 3.5, true},
		{"decimal", "3.5", true},
		{"decimal", "x", false},
		{"date", "2026-08-26", true},
		{"date", "26/08/2026", false},
		{"dateTime", "2026-08-26T10:30:00Z", true},
		{"dateTime", "2026-08-26", false},
		{"boolean", true, true},
		{"boolean", "true", true},
		{"boolean", "yes", false},
		{"anyURI", "https://example.com", true},
		{"anyURI", "ftp://example.com", false},
		{"string", 12345, true},
		{"xsd:integer", float64(7), true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, xsdMatches(tc.rng, tc.value), "%s / %v", tc.rng, tc.value)
	}
}

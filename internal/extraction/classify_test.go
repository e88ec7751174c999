package extraction

import (
	"testing"

	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sliceableSchema() *fabric.OntologySchema {
	return &fabric.OntologySchema{
		Classes: []fabric.ClassDef{
			{Name: "Customer", Label: "Customer"},
			{Name: "Contract", Label: "Contract"},
			{Name: "Invoice", Label: "Invoice"},
		},
		DataProperties: []fabric.DataProperty{
			{Name: "riskScore", Domain: "Customer", Range: "decimal"},
			{Name: "amount", Domain: "Invoice", Range: "decimal"},
		},
		ObjectProperties: []fabric.ObjectProperty{
			{Name: "SIGNED", Domain: "Customer", Range: "Contract"},
		},
	}
}

func TestSliceOntologyKeepsRelationshipNeighbors(t *testing.T) {
	schema := sliceableSchema()
	sliced := SliceOntology(schema, &Classification{Topics: []string{"customer"}})
	require.NotSame(t, schema, sliced)

	names := make([]string, len(sliced.Classes))
	for i, c := range sliced.Classes {
		names[i] = c.Name
	}
	assert.ElementsMatch(t, []string{"Customer", "Contract"}, names)
	require.Len(t, sliced.ObjectProperties, 1)
	assert.Equal(t, "SIGNED", sliced.ObjectProperties[0].Name)
	require.Len(t, sliced.DataProperties, 1)
	assert.Equal(t, "riskScore", sliced.DataProperties[0].Name)
}

func TestSliceOntologyUnknownLabelsLeaveSchemaWhole(t *testing.T) {
	schema := sliceableSchema()
	assert.Same(t, schema, SliceOntology(schema, &Classification{
		DocumentType: "memo", Industry: "aerospace", Topics: []string{"regulations"},
	}))
}

func TestSliceOntologyNilClassification(t *testing.T) {
	schema := sliceableSchema()
	assert.Same(t, schema, SliceOntology(schema, nil))
}

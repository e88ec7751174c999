package fabric

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/purplefabric/graphrag/internal/store/triple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSPARQL answers queries by substring matching against canned results.
type fakeSPARQL struct {
	mu      sync.Mutex
	queries []string
	answers map[string]*triple.Result
}

func (f *fakeSPARQL) Query(_ context.Context, query string) (*triple.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	for needle, result := range f.answers {
		if strings.Contains(query, needle) {
			return result, nil
		}
	}
	return &triple.Result{}, nil
}

func (f *fakeSPARQL) Update(context.Context, string) error { return nil }

func uri(v string) triple.Term     { return triple.Term{Kind: triple.TermURI, Value: v} }
func literal(v string) triple.Term { return triple.Term{Kind: triple.TermLiteral, Value: v} }

func TestIntrospectOntology(t *testing.T) {
	fake := &fakeSPARQL{answers: map[string]*triple.Result{
		"owl:Class": {Rows: []triple.Row{
			{"class": uri("http://pf.ai/onto#Customer"), "label": literal("Customer")},
			{"class": uri("http://pf.ai/onto#Account")},
		}},
		"owl:DatatypeProperty": {Rows: []triple.Row{
			{"prop": uri("http://pf.ai/onto#riskScore"), "domain": uri("http://pf.ai/onto#Customer"), "range": uri("http://www.w3.org/2001/XMLSchema#decimal"), "max": literal("1")},
		}},
		"owl:ObjectProperty": {Rows: []triple.Row{
			{"prop": uri("http://pf.ai/onto#owns"), "domain": uri("http://pf.ai/onto#Customer"), "range": uri("http://pf.ai/onto#Account")},
		}},
	}}

	svc := NewService(fake, nil, nil, nil)
	schema, err := svc.IntrospectOntology(context.Background(), "t1", "w1", []string{"fin"})
	require.NoError(t, err)

	require.Len(t, schema.Classes, 2)
	assert.Equal(t, "Customer", schema.Classes[0].Name)

	props := schema.DataPropertiesOf("Customer")
	require.Len(t, props, 1)
	assert.Equal(t, "riskScore", props[0].Name)
	assert.Equal(t, "decimal", props[0].Range)
	assert.Equal(t, 1, props[0].MaxCardinality)

	// The restriction pattern rides along in the data-property query.
	for _, q := range fake.queries {
		if strings.Contains(q, "owl:DatatypeProperty") {
			assert.Contains(t, q, "owl:maxCardinality")
		}
	}

	rel, ok := schema.ObjectPropertyByName("owns")
	require.True(t, ok)
	assert.Equal(t, "Account", rel.Range)
}

func TestIntrospectCaches(t *testing.T) {
	fake := &fakeSPARQL{answers: map[string]*triple.Result{}}
	svc := NewService(fake, nil, nil, nil)

	_, err := svc.IntrospectOntology(context.Background(), "t1", "w1", []string{"fin"})
	require.NoError(t, err)
	first := len(fake.queries)
	assert.Equal(t, 3, first)

	_, err = svc.IntrospectOntology(context.Background(), "t1", "w1", []string{"fin"})
	require.NoError(t, err)
	assert.Equal(t, first, len(fake.queries))
}

func TestQueryDataScopesFromClauses(t *testing.T) {
	fake := &fakeSPARQL{answers: map[string]*triple.Result{}}
	svc := NewService(fake, nil, nil, nil)

	_, err := svc.QueryData(context.Background(), "t1", "w1", "SELECT ?s WHERE { ?s ?p ?o }", nil)
	require.NoError(t, err)

	query := fake.queries[len(fake.queries)-1]
	assert.Contains(t, query, "FROM <http://purplefabric.ai/graphs/tenant/t1/workspace/w1/data>")
	assert.Contains(t, query, "FROM <http://purplefabric.ai/graphs/tenant/t1/workspace/w1/audit>")
}

func TestQueryDataDeniesCrossWorkspaceByDefault(t *testing.T) {
	fake := &fakeSPARQL{answers: map[string]*triple.Result{}}
	svc := NewService(fake, nil, nil, nil)

	_, err := svc.QueryData(context.Background(), "t1", "w1", "SELECT ?s WHERE { ?s ?p ?o }", []string{"w2"})
	require.NoError(t, err)

	query := fake.queries[len(fake.queries)-1]
	assert.NotContains(t, query, "workspace/w2")
}

type allowAll struct{}

func (allowAll) CanAccessWorkspace(context.Context, string, string, string) (bool, error) {
	return true, nil
}

func TestQueryDataHonorsAccessChecker(t *testing.T) {
	fake := &fakeSPARQL{answers: map[string]*triple.Result{}}
	svc := NewService(fake, allowAll{}, nil, nil)

	_, err := svc.QueryData(context.Background(), "t1", "w1", "SELECT ?s WHERE { ?s ?p ?o }", []string{"w2"})
	require.NoError(t, err)
	assert.Contains(t, fake.queries[len(fake.queries)-1], "workspace/w2/data")
}

func TestDiscoverDataGraphEntitiesSkipsConfiguredPredicates(t *testing.T) {
	fake := &fakeSPARQL{answers: map[string]*triple.Result{
		"SELECT DISTINCT ?s": {Rows: []triple.Row{
			{"s": uri("http://purplefabric.ai/entity/customer_1")},
			{"s": uri("http://purplefabric.ai/ontology/sourceDocument")},
		}},
	}}
	svc := NewService(fake, nil, []string{"http://purplefabric.ai/ontology/"}, nil)

	entities, err := svc.DiscoverDataGraphEntities(context.Background(), "t1", "w1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://purplefabric.ai/entity/customer_1"}, entities)
}

func TestListOntologies(t *testing.T) {
	fake := &fakeSPARQL{answers: map[string]*triple.Result{
		"owl:Ontology": {Rows: []triple.Row{
			{"g": uri("http://purplefabric.ai/graphs/global/ontology/fin"), "version": literal("1.2.0")},
		}},
	}}
	svc := NewService(fake, nil, nil, nil)

	infos, err := svc.ListOntologies(context.Background(), ScopeGlobal, "", "")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "fin", infos[0].OntologyID)
	assert.Equal(t, "1.2.0", infos[0].Version)
}

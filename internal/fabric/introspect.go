package fabric

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/purplefabric/graphrag/internal/store/triple"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// schemaCacheTTL bounds introspection staleness; refresh is last-writer-wins.
const schemaCacheTTL = 2 * time.Minute

// sparqlPrefixes is prepended to every introspection query.
const sparqlPrefixes = `PREFIX owl: <http://www.w3.org/2002/07/owl#>
PREFIX rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#>
PREFIX rdfs: <http://www.w3.org/2000/01/rdf-schema#>
PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>
`

// SPARQLClient is the slice of the triplestore adapter the fabric uses.
type SPARQLClient interface {
	Query(ctx context.Context, query string) (*triple.Result, error)
	Update(ctx context.Context, update string) error
}

// ClassDef is one ontology class.
type ClassDef struct {
	IRI     string `json:"iri"`
	Name    string `json:"name"`
	Label   string `json:"label,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// DataProperty is one datatype property with its domain class and xsd range.
type DataProperty struct {
	IRI    string `json:"iri"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Range  string `json:"range"`

	// MaxCardinality is zero when unrestricted.
	MaxCardinality int `json:"maxCardinality,omitempty"`
}

// ObjectProperty is one relationship with its domain and range classes.
type ObjectProperty struct {
	IRI    string `json:"iri"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Range  string `json:"range"`
}

// OntologySchema is the introspected shape used for validation and priming.
type OntologySchema struct {
	Classes          []ClassDef       `json:"classes"`
	DataProperties   []DataProperty   `json:"dataProperties"`
	ObjectProperties []ObjectProperty `json:"objectProperties"`
}

// ClassByName returns the class with the given short name, if present.
func (s *OntologySchema) ClassByName(name string) (ClassDef, bool) {
	for _, c := range s.Classes {
		if c.Name == name {
			return c, true
		}
	}
	return ClassDef{}, false
}

// DataPropertiesOf returns the datatype properties whose domain is the class.
func (s *OntologySchema) DataPropertiesOf(class string) []DataProperty {
	var out []DataProperty
	for _, p := range s.DataProperties {
		if p.Domain == class {
			out = append(out, p)
		}
	}
	return out
}

// ObjectPropertyByName returns the relationship with the given short name.
func (s *OntologySchema) ObjectPropertyByName(name string) (ObjectProperty, bool) {
	for _, p := range s.ObjectProperties {
		if p.Name == name {
			return p, true
		}
	}
	return ObjectProperty{}, false
}

// OntologyInfo describes one ontology found in a scope.
type OntologyInfo struct {
	GraphIRI   string `json:"graphIri"`
	OntologyID string `json:"ontologyId"`
	Version    string `json:"version,omitempty"`
	Deprecated bool   `json:"deprecated"`
}

// Service resolves scopes, introspects ontologies, and runs scoped queries.
type Service struct {
	client SPARQLClient
	logger *zap.Logger
	access AccessChecker

	// skipPredicates are excluded from data-graph entity discovery.
	skipPredicates map[string]bool

	mu    sync.RWMutex
	cache map[string]cachedSchema
}

type cachedSchema struct {
	schema    *OntologySchema
	fetchedAt time.Time
}

// NewService builds the fabric service. access may be nil, which denies all
// cross-workspace reads.
func NewService(client SPARQLClient, access AccessChecker, skipPredicates []string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if access == nil {
		access = DenyAllAccess{}
	}
	skip := make(map[string]bool, len(skipPredicates))
	for _, p := range skipPredicates {
		skip[p] = true
	}
	return &Service{
		client:         client,
		logger:         logger.Named("fabric"),
		access:         access,
		skipPredicates: skip,
		cache:          make(map[string]cachedSchema),
	}
}

// IntrospectOntology returns the classes, datatype properties, and object
// properties visible to the workspace. The three queries run concurrently;
// results are cached per (tenant, workspace) for two minutes.
func (s *Service) IntrospectOntology(ctx context.Context, tenant, workspace string, ontologyIDs []string) (*OntologySchema, error) {
	key := tenant + "|" + workspace + "|" + strings.Join(ontologyIDs, ",")

	s.mu.RLock()
	if entry, ok := s.cache[key]; ok && time.Since(entry.fetchedAt) < schemaCacheTTL {
		s.mu.RUnlock()
		return entry.schema, nil
	}
	s.mu.RUnlock()

	clauses, err := ComposeFromClauses(FromSpec{
		GraphType:        GraphOntology,
		Tenant:           tenant,
		Workspace:        workspace,
		IncludeGlobal:    true,
		IncludeTenant:    true,
		IncludeWorkspace: true,
		OntologyIDs:      ontologyIDs,
	})
	if err != nil {
		return nil, err
	}
	from := strings.Join(clauses, "\n")

	schema := &OntologySchema{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		classes, err := s.queryClasses(gctx, from)
		if err != nil {
			return fmt.Errorf("introspecting classes: %w", err)
		}
		schema.Classes = classes
		return nil
	})
	g.Go(func() error {
		props, err := s.queryDataProperties(gctx, from)
		if err != nil {
			return fmt.Errorf("introspecting data properties: %w", err)
		}
		schema.DataProperties = props
		return nil
	})
	g.Go(func() error {
		props, err := s.queryObjectProperties(gctx, from)
		if err != nil {
			return fmt.Errorf("introspecting object properties: %w", err)
		}
		schema.ObjectProperties = props
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = cachedSchema{schema: schema, fetchedAt: time.Now()}
	s.mu.Unlock()
	return schema, nil
}

func (s *Service) queryClasses(ctx context.Context, from string) ([]ClassDef, error) {
	query := sparqlPrefixes + `SELECT DISTINCT ?class ?label ?comment
` + from + `
WHERE {
  ?class rdf:type owl:Class .
  OPTIONAL { ?class rdfs:label ?label }
  OPTIONAL { ?class rdfs:comment ?comment }
  FILTER(isIRI(?class))
}`
	result, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	classes := make([]ClassDef, 0, len(result.Rows))
	for _, row := range result.Rows {
		iri := row["class"].Value
		classes = append(classes, ClassDef{
			IRI:     iri,
			Name:    localName(iri),
			Label:   row["label"].Value,
			Comment: row["comment"].Value,
		})
	}
	return classes, nil
}

func (s *Service) queryDataProperties(ctx context.Context, from string) ([]DataProperty, error) {
	query := sparqlPrefixes + `SELECT DISTINCT ?prop ?domain ?range ?max
` + from + `
WHERE {
  ?prop rdf:type owl:DatatypeProperty .
  OPTIONAL { ?prop rdfs:domain ?domain }
  OPTIONAL { ?prop rdfs:range ?range }
  OPTIONAL {
    ?restriction rdf:type owl:Restriction ;
                 owl:onProperty ?prop ;
                 owl:maxCardinality ?max .
  }
}`
	result, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	props := make([]DataProperty, 0, len(result.Rows))
	for _, row := range result.Rows {
		iri := row["prop"].Value
		maxCard, _ := strconv.Atoi(row["max"].Value)
		props = append(props, DataProperty{
			IRI:            iri,
			Name:           localName(iri),
			Domain:         localName(row["domain"].Value),
			Range:          localName(row["range"].Value),
			MaxCardinality: maxCard,
		})
	}
	return props, nil
}

func (s *Service) queryObjectProperties(ctx context.Context, from string) ([]ObjectProperty, error) {
	query := sparqlPrefixes + `SELECT DISTINCT ?prop ?domain ?range
` + from + `
WHERE {
  ?prop rdf:type owl:ObjectProperty .
  OPTIONAL { ?prop rdfs:domain ?domain }
  OPTIONAL { ?prop rdfs:range ?range }
}`
	result, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	props := make([]ObjectProperty, 0, len(result.Rows))
	for _, row := range result.Rows {
		iri := row["prop"].Value
		props = append(props, ObjectProperty{
			IRI:    iri,
			Name:   localName(iri),
			Domain: localName(row["domain"].Value),
			Range:  localName(row["range"].Value),
		})
	}
	return props, nil
}

// ListOntologies lists the ontologies present at a scope.
func (s *Service) ListOntologies(ctx context.Context, scope Scope, tenant, workspace string) ([]OntologyInfo, error) {
	var prefix string
	switch scope {
	case ScopeGlobal:
		prefix = BaseIRI + "/global/ontology/"
	case ScopeTenant:
		if err := validateComponent("tenant", tenant); err != nil {
			return nil, err
		}
		prefix = fmt.Sprintf("%s/tenant/%s/ontology/", BaseIRI, tenant)
	case ScopeWorkspace:
		if err := validateScope(tenant, workspace); err != nil {
			return nil, err
		}
		prefix = fmt.Sprintf("%s/tenant/%s/workspace/%s/ontology/", BaseIRI, tenant, workspace)
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}

	query := sparqlPrefixes + fmt.Sprintf(`SELECT DISTINCT ?g ?version ?deprecated
WHERE {
  GRAPH ?g {
    ?ont rdf:type owl:Ontology .
    OPTIONAL { ?ont owl:versionInfo ?version }
    OPTIONAL { ?ont owl:deprecated ?deprecated }
  }
  FILTER(STRSTARTS(STR(?g), "%s"))
}`, prefix)

	result, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	infos := make([]OntologyInfo, 0, len(result.Rows))
	for _, row := range result.Rows {
		graph := row["g"].Value
		infos = append(infos, OntologyInfo{
			GraphIRI:   graph,
			OntologyID: ExtractOntologyID(graph),
			Version:    row["version"].Value,
			Deprecated: row["deprecated"].Value == "true",
		})
	}
	return infos, nil
}

// QueryData composes the scoped FROM clauses and runs the query against the
// workspace's data graphs. Additional workspaces pass through the access
// checker; denied ones are dropped with a log line rather than failing the
// whole query.
func (s *Service) QueryData(ctx context.Context, tenant, workspace, query string, additionalWorkspaces []string) (*triple.Result, error) {
	allowed := make([]string, 0, len(additionalWorkspaces))
	for _, ws := range additionalWorkspaces {
		ok, err := s.access.CanAccessWorkspace(ctx, tenant, workspace, ws)
		if err != nil {
			return nil, fmt.Errorf("checking workspace access: %w", err)
		}
		if !ok {
			s.logger.Warn("cross-workspace read denied",
				zap.String("workspace", workspace), zap.String("target", ws))
			continue
		}
		allowed = append(allowed, ws)
	}

	clauses, err := ComposeFromClauses(FromSpec{
		GraphType:            GraphData,
		Tenant:               tenant,
		Workspace:            workspace,
		AdditionalWorkspaces: allowed,
	})
	if err != nil {
		return nil, err
	}
	return s.client.Query(ctx, InjectFromClauses(query, clauses))
}

// SampleData returns up to limit rows of actual data-graph values for
// prompt priming.
func (s *Service) SampleData(ctx context.Context, tenant, workspace string, limit int) (*triple.Result, error) {
	if limit <= 0 || limit > 30 {
		limit = 30
	}
	query := fmt.Sprintf(`SELECT ?s ?p ?o WHERE { ?s ?p ?o . FILTER(!isBlank(?s)) } LIMIT %d`, limit)
	return s.QueryData(ctx, tenant, workspace, query, nil)
}

// DiscoverDataGraphEntities lists entity URIs in the data graph, excluding
// the configured pf: bookkeeping predicates.
func (s *Service) DiscoverDataGraphEntities(ctx context.Context, tenant, workspace string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT DISTINCT ?s WHERE { ?s ?p ?o . FILTER(isIRI(?s)) } LIMIT %d`, limit)
	result, err := s.QueryData(ctx, tenant, workspace, query, nil)
	if err != nil {
		return nil, err
	}

	entities := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		uri := row["s"].Value
		if s.isSkipped(uri) {
			continue
		}
		entities = append(entities, uri)
	}
	return entities, nil
}

func (s *Service) isSkipped(uri string) bool {
	for predicate := range s.skipPredicates {
		if strings.HasPrefix(uri, predicate) {
			return true
		}
	}
	return false
}

// localName strips the namespace from an IRI.
func localName(iri string) string {
	if iri == "" {
		return ""
	}
	if idx := strings.LastIndex(iri, "#"); idx >= 0 {
		return iri[idx+1:]
	}
	if idx := strings.LastIndex(iri, "/"); idx >= 0 {
		return iri[idx+1:]
	}
	return iri
}

package fabric

import (
	"fmt"
	"strings"
)

// FromSpec describes which graphs a query should read.
type FromSpec struct {
	GraphType        GraphType
	Tenant           string
	Workspace        string
	IncludeGlobal    bool
	IncludeTenant    bool
	IncludeWorkspace bool

	// SpecificGraphs are explicit graph IRIs, emitted first.
	SpecificGraphs []string

	// OntologyIDs selects which ontologies the include flags expand to.
	OntologyIDs []string

	// AdditionalWorkspaces extends a data query across sibling workspaces
	// the caller has been granted access to.
	AdditionalWorkspaces []string

	// VKGGraphPattern is an optional virtual-knowledge-graph IRI appended
	// last, already fully formed.
	VKGGraphPattern string
}

// ComposeFromClauses produces the ordered, deduplicated FROM clauses to
// inject before a query body. Data-graph queries always include the
// workspace's deprecated and audit graphs so soft-deleted and provenance
// triples stay visible to scoped reads.
func ComposeFromClauses(spec FromSpec) ([]string, error) {
	var iris []string

	iris = append(iris, spec.SpecificGraphs...)

	switch spec.GraphType {
	case GraphOntology:
		for _, id := range spec.OntologyIDs {
			if spec.IncludeGlobal {
				iri, err := GlobalOntologyIRI(id)
				if err != nil {
					return nil, err
				}
				iris = append(iris, iri)
			}
			if spec.IncludeTenant {
				iri, err := TenantOntologyIRI(spec.Tenant, id)
				if err != nil {
					return nil, err
				}
				iris = append(iris, iri)
			}
			if spec.IncludeWorkspace {
				iri, err := WorkspaceOntologyIRI(spec.Tenant, spec.Workspace, id)
				if err != nil {
					return nil, err
				}
				iris = append(iris, iri)
			}
		}

	case GraphData:
		data, err := DataGraphIRI(spec.Tenant, spec.Workspace)
		if err != nil {
			return nil, err
		}
		iris = append(iris, data)
		for _, ws := range spec.AdditionalWorkspaces {
			extra, err := DataGraphIRI(spec.Tenant, ws)
			if err != nil {
				return nil, err
			}
			iris = append(iris, extra)
		}
		deprecated, err := DeprecatedGraphIRI(spec.Tenant, spec.Workspace)
		if err != nil {
			return nil, err
		}
		audit, err := AuditGraphIRI(spec.Tenant, spec.Workspace)
		if err != nil {
			return nil, err
		}
		iris = append(iris, deprecated, audit)

	case GraphAudit:
		audit, err := AuditGraphIRI(spec.Tenant, spec.Workspace)
		if err != nil {
			return nil, err
		}
		iris = append(iris, audit)

	default:
		return nil, fmt.Errorf("unknown graph type %q", spec.GraphType)
	}

	if spec.VKGGraphPattern != "" {
		iris = append(iris, spec.VKGGraphPattern)
	}

	seen := make(map[string]bool, len(iris))
	clauses := make([]string, 0, len(iris))
	for _, iri := range iris {
		if iri == "" || seen[iri] {
			continue
		}
		seen[iri] = true
		clauses = append(clauses, fmt.Sprintf("FROM <%s>", iri))
	}
	return clauses, nil
}

// InjectFromClauses places the FROM clauses between the SELECT head and the
// WHERE body of a query that has none.
func InjectFromClauses(query string, clauses []string) string {
	if len(clauses) == 0 {
		return query
	}
	idx := indexOfWhere(query)
	if idx < 0 {
		return query
	}
	return strings.TrimRight(query[:idx], " \n\t") + "\n" + strings.Join(clauses, "\n") + "\n" + query[idx:]
}

func indexOfWhere(query string) int {
	upper := strings.ToUpper(query)
	idx := strings.Index(upper, "WHERE")
	if idx < 0 {
		// Queries may omit WHERE; fall back to the first brace.
		return strings.Index(query, "{")
	}
	return idx
}

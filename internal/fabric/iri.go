// Package fabric owns the named-graph naming rules, scope resolution, and
// FROM-clause composition across ontology, data, and audit graphs.
package fabric

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/purplefabric/graphrag/internal/fault"
)

// BaseIRI is the root of every named graph the engine manages.
const BaseIRI = "http://purplefabric.ai/graphs"

// Scope selects which ontology level an IRI addresses.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeTenant    Scope = "tenant"
	ScopeWorkspace Scope = "workspace"
)

// GraphType selects which graph family a query addresses.
type GraphType string

const (
	GraphData     GraphType = "data"
	GraphOntology GraphType = "ontology"
	GraphAudit    GraphType = "audit"
)

// validateComponent rejects empty components and the literal string
// "undefined", which leaks from upstream clients that serialize missing
// values instead of omitting them.
func validateComponent(name, value string) error {
	if value == "" || value == "undefined" {
		return fault.New(fault.ConfigurationError, "invalid %s: %q", name, value)
	}
	return nil
}

// GlobalOntologyIRI returns the graph IRI of a globally scoped ontology.
func GlobalOntologyIRI(ontologyID string) (string, error) {
	if err := validateComponent("ontology id", ontologyID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/global/ontology/%s", BaseIRI, ontologyID), nil
}

// TenantOntologyIRI returns the graph IRI of a tenant-scoped ontology.
func TenantOntologyIRI(tenant, ontologyID string) (string, error) {
	if err := validateComponent("tenant", tenant); err != nil {
		return "", err
	}
	if err := validateComponent("ontology id", ontologyID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/tenant/%s/ontology/%s", BaseIRI, tenant, ontologyID), nil
}

// WorkspaceOntologyIRI returns the graph IRI of a workspace-scoped ontology.
func WorkspaceOntologyIRI(tenant, workspace, ontologyID string) (string, error) {
	if err := validateScope(tenant, workspace); err != nil {
		return "", err
	}
	if err := validateComponent("ontology id", ontologyID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/tenant/%s/workspace/%s/ontology/%s", BaseIRI, tenant, workspace, ontologyID), nil
}

// DataGraphIRI returns the per-workspace data graph IRI.
func DataGraphIRI(tenant, workspace string) (string, error) {
	return workspaceGraph(tenant, workspace, "data")
}

// AuditGraphIRI returns the per-workspace audit graph IRI.
func AuditGraphIRI(tenant, workspace string) (string, error) {
	return workspaceGraph(tenant, workspace, "audit")
}

// DeprecatedGraphIRI returns the per-workspace deprecated graph IRI.
func DeprecatedGraphIRI(tenant, workspace string) (string, error) {
	return workspaceGraph(tenant, workspace, "deprecated")
}

func workspaceGraph(tenant, workspace, suffix string) (string, error) {
	if err := validateScope(tenant, workspace); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/tenant/%s/workspace/%s/%s", BaseIRI, tenant, workspace, suffix), nil
}

func validateScope(tenant, workspace string) error {
	if err := validateComponent("tenant", tenant); err != nil {
		return err
	}
	return validateComponent("workspace", workspace)
}

var ontologyPathPattern = regexp.MustCompile(`/ontology/([^/#]+)/?$`)

// ExtractOntologyID derives an ontology identifier from any IRI. It is
// total: when no structural rule matches, the IRI is hashed so callers
// always get a stable, non-empty identifier.
func ExtractOntologyID(iri string) string {
	if iri == "" {
		return hashID(iri)
	}
	if idx := strings.LastIndex(iri, "#"); idx >= 0 && idx < len(iri)-1 {
		return iri[idx+1:]
	}
	if m := ontologyPathPattern.FindStringSubmatch(iri); m != nil {
		return m[1]
	}
	trimmed := strings.TrimRight(iri, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 && idx < len(trimmed)-1 {
		segment := trimmed[idx+1:]
		if segment != "" && !strings.Contains(segment, ":") {
			return segment
		}
	}
	return hashID(iri)
}

func hashID(iri string) string {
	sum := sha256.Sum256([]byte(iri))
	return "ont_" + hex.EncodeToString(sum[:])[:12]
}

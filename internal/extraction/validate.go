package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/purplefabric/graphrag/internal/graphevent"
	"go.uber.org/zap"
)

// Validator checks a batch against the introspected ontology. Structural
// violations quarantine the event; attribute typing violations downgrade
// it to a clamped CLAIM.
type Validator struct {
	logger *zap.Logger
}

// NewValidator builds the batch validator.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger.Named("validate")}
}

// maxDowngradedConfidence caps confidence after a typing downgrade.
const maxDowngradedConfidence = 0.5

// Validate returns a new batch containing the surviving events plus the
// quarantine records for the rejected ones. Evidence links whose target
// was quarantined are dropped with it.
func (v *Validator) Validate(batch *graphevent.Batch, schema *fabric.OntologySchema) *graphevent.Batch {
	out := &graphevent.Batch{BatchID: batch.BatchID, Run: batch.Run}
	deadNodes := make(map[string]bool)
	deadAssertions := make(map[string]bool)

	for _, node := range batch.Nodes {
		if _, ok := schema.ClassByName(node.Class); !ok {
			deadNodes[node.CanonicalID] = true
			out.AddQuarantine(quarantine(node.Provenance, node,
				fmt.Sprintf("unknown_class: %q", node.Class), false, node.Confidence,
				"add the class to the ontology or re-extract"))
			continue
		}
		if len(node.IdentityKeys) == 0 {
			deadNodes[node.CanonicalID] = true
			out.AddQuarantine(quarantine(node.Provenance, node,
				"missing identity keys", false, node.Confidence, ""))
			continue
		}
		if errs := v.checkAttributes(schema, node.Class, node.Attributes); len(errs) > 0 {
			node.ClaimStatus = graphevent.StatusClaim
			if node.Confidence > maxDowngradedConfidence {
				node.Confidence = maxDowngradedConfidence
			}
			v.logger.Debug("node downgraded on typing",
				zap.String("canonical_id", node.CanonicalID), zap.Strings("errors", errs))
		}
		out.AddNode(node)
	}

	for _, edge := range batch.Edges {
		if reason, ok := v.checkEdge(schema, edge); !ok {
			out.AddQuarantine(quarantine(edge.Provenance, edge, reason, false, edge.Confidence, ""))
			deadEdgeAssertions(batch, edge, deadAssertions)
			continue
		}
		if deadNodes[edge.FromCanonicalID] || deadNodes[edge.ToCanonicalID] {
			out.AddQuarantine(quarantine(edge.Provenance, edge,
				"endpoint entity was quarantined", false, edge.Confidence, ""))
			deadEdgeAssertions(batch, edge, deadAssertions)
			continue
		}
		out.AddEdge(edge)
	}

	for _, assertion := range batch.Assertions {
		if deadAssertions[assertion.AssertionID] ||
			deadNodes[assertion.SubjectCanonicalID] || deadNodes[assertion.ObjectCanonicalID] {
			continue
		}
		out.AddAssertion(assertion)
	}

	for _, ev := range batch.Evidence {
		switch ev.TargetType {
		case graphevent.EvidenceTargetNode:
			if deadNodes[ev.TargetCanonicalID] {
				continue
			}
		case graphevent.EvidenceTargetAssertion:
			if deadAssertions[ev.AssertionID] {
				continue
			}
		}
		out.AddEvidence(ev)
	}

	for _, cand := range batch.Candidates {
		out.AddCandidate(cand)
	}
	for _, q := range batch.Quarantine {
		out.AddQuarantine(q)
	}
	return out
}

func (v *Validator) checkEdge(schema *fabric.OntologySchema, edge graphevent.UpsertEdge) (string, bool) {
	prop, ok := schema.ObjectPropertyByName(edge.RelationshipType)
	if !ok {
		return fmt.Sprintf("unknown relationship %q", edge.RelationshipType), false
	}
	if prop.Domain != "" && edge.FromClass != "" && edge.FromClass != prop.Domain {
		return fmt.Sprintf("domain mismatch: %s expects %s, got %s",
			edge.RelationshipType, prop.Domain, edge.FromClass), false
	}
	if prop.Range != "" && edge.ToClass != "" && edge.ToClass != prop.Range {
		return fmt.Sprintf("range mismatch: %s expects %s, got %s",
			edge.RelationshipType, prop.Range, edge.ToClass), false
	}
	return "", true
}

func (v *Validator) checkAttributes(schema *fabric.OntologySchema, class string, attrs map[string]any) []string {
	var errs []string
	props := schema.DataPropertiesOf(class)
	byName := make(map[string]fabric.DataProperty, len(props))
	for _, p := range props {
		byName[p.Name] = p
	}
	for name, value := range attrs {
		prop, ok := byName[name]
		if !ok {
			continue
		}
		if !xsdMatches(prop.Range, value) {
			errs = append(errs, fmt.Sprintf("%s: %v is not a valid %s", name, value, prop.Range))
		}
	}
	return errs
}

// deadEdgeAssertions marks the assertions keyed to a quarantined edge's
// endpoints and type so they and their evidence are dropped too.
func deadEdgeAssertions(batch *graphevent.Batch, edge graphevent.UpsertEdge, dead map[string]bool) {
	for _, a := range batch.Assertions {
		if a.SubjectCanonicalID == edge.FromCanonicalID &&
			a.ObjectCanonicalID == edge.ToCanonicalID &&
			a.Predicate == edge.RelationshipType {
			dead[a.AssertionID] = true
		}
	}
}

func quarantine(prov graphevent.Provenance, original any, reason string, recoverable bool, confidence float64, fix string) graphevent.QuarantineRecord {
	return graphevent.QuarantineRecord{
		Provenance:    prov,
		OriginalEvent: original,
		FailureReason: reason,
		Recoverable:   recoverable,
		SuggestedFix:  fix,
		Confidence:    confidence,
	}
}

var (
	dateRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateTimeRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}`)
)

// xsdMatches applies the xsd typing rules to a JSON-decoded value.
func xsdMatches(xsdRange string, value any) bool {
	switch strings.TrimPrefix(xsdRange, "xsd:") {
	case "integer", "int", "long", "nonNegativeInteger":
		switch v := value.(type) {
		case float64:
			return v == float64(int64(v))
		case string:
			_, err := strconv.ParseInt(v, 10, 64)
			return err == nil
		}
		return false
	case "decimal", "float", "double":
		switch v := value.(type) {
		case float64:
			return true
		case string:
			_, err := strconv.ParseFloat(v, 64)
			return err == nil
		}
		return false
	case "date":
		s, ok := value.(string)
		return ok && dateRe.MatchString(s)
	case "dateTime":
		s, ok := value.(string)
		return ok && dateTimeRe.MatchString(s)
	case "boolean":
		switch v := value.(type) {
		case bool:
			return true
		case string:
			return v == "true" || v == "false"
		}
		return false
	case "anyURI":
		s, ok := value.(string)
		return ok && (strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://"))
	default:
		return true
	}
}

package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/purplefabric/graphrag/internal/graphevent"
	"github.com/purplefabric/graphrag/internal/store/lpg"
	"go.uber.org/zap"
)

// Writer applies a gated batch to the LPG as idempotent upserts. Nodes go
// first, then edges and assertions, then evidence links, so references
// always land on existing targets. Every event is written independently;
// one failure does not abort the rest.
type Writer struct {
	lpg    lpg.Runner
	logger *zap.Logger
}

// NewWriter builds the graph writer.
func NewWriter(runner lpg.Runner, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{lpg: runner, logger: logger.Named("write")}
}

// Cypher snippets shared by the upserts. Confidence only ever increases,
// FACT status sticks, and source documents are union-appended.
const (
	monotoneConfidence = "CASE WHEN %[1]s.confidence IS NULL OR %[1]s.confidence < $confidence THEN $confidence ELSE %[1]s.confidence END"
	stickyFact         = "CASE WHEN %[1]s.claim_status = 'FACT' THEN 'FACT' ELSE $claim END"
	unionDocs          = "reduce(acc = [], d IN coalesce(%[1]s.source_doc_ids, []) + $docs | CASE WHEN d IN acc THEN acc ELSE acc + d END)"
)

// Write applies the batch and returns the joined write errors, if any.
func (w *Writer) Write(ctx context.Context, batch *graphevent.Batch) error {
	var errs []error

	for _, node := range batch.Nodes {
		if err := w.writeNode(ctx, node); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", node.CanonicalID, err))
		}
	}
	for _, edge := range batch.Edges {
		if err := w.writeEdge(ctx, edge); err != nil {
			errs = append(errs, fmt.Errorf("edge %s-[%s]->%s: %w",
				edge.FromCanonicalID, edge.RelationshipType, edge.ToCanonicalID, err))
		}
	}
	for _, a := range batch.Assertions {
		if err := w.writeAssertion(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("assertion %s: %w", a.AssertionID, err))
		}
	}
	for _, ev := range batch.Evidence {
		if err := w.writeEvidence(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("evidence for chunk %s: %w", ev.ChunkID, err))
		}
	}

	if len(errs) > 0 {
		w.logger.Error("batch write finished with failures",
			zap.String("batch_id", batch.BatchID), zap.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}

func (w *Writer) writeNode(ctx context.Context, node graphevent.UpsertNode) error {
	cypher := fmt.Sprintf(`MERGE (n:`+"`%s`"+` {canonical_id: $id})
ON CREATE SET n.created_at = timestamp()
SET n.confidence = %s,
    n.claim_status = %s,
    n.source_doc_ids = %s,
    n.display_name = $name,
    n.tenant_id = $tenant,
    n.workspace_id = $workspace,
    n.status = $status,
    n.ontology_version = $version,
    n.updated_at = timestamp()
SET n += $attrs`,
		node.Class,
		fmt.Sprintf(monotoneConfidence, "n"),
		fmt.Sprintf(stickyFact, "n"),
		fmt.Sprintf(unionDocs, "n"))

	attrs := map[string]any{}
	for k, v := range node.Attributes {
		attrs[k] = v
	}
	for k, v := range node.IdentityKeys {
		attrs[k] = v
	}
	_, err := w.lpg.RunCypher(ctx, cypher, map[string]any{
		"id":         node.CanonicalID,
		"confidence": node.Confidence,
		"claim":      string(node.ClaimStatus),
		"docs":       node.SourceDocIDs,
		"name":       node.DisplayName,
		"tenant":     node.TenantID,
		"workspace":  node.WorkspaceID,
		"status":     node.Status,
		"version":    node.OntologyVersion,
		"attrs":      attrs,
	})
	return err
}

func (w *Writer) writeEdge(ctx context.Context, edge graphevent.UpsertEdge) error {
	cypher := fmt.Sprintf(`MATCH (a {canonical_id: $from}), (b {canonical_id: $to})
MERGE (a)-[r:`+"`%s`"+`]->(b)
SET r.confidence = %s,
    r.claim_status = %s,
    r.extracted_at = $extractedAt,
    r.workspace_id = $workspace
SET r += $attrs`,
		edge.RelationshipType,
		fmt.Sprintf(monotoneConfidence, "r"),
		fmt.Sprintf(stickyFact, "r"))

	_, err := w.lpg.RunCypher(ctx, cypher, map[string]any{
		"from":        edge.FromCanonicalID,
		"to":          edge.ToCanonicalID,
		"confidence":  edge.Confidence,
		"claim":       string(edge.ClaimStatus),
		"extractedAt": edge.ExtractedAt.UTC().Format("2006-01-02T15:04:05Z"),
		"workspace":   edge.WorkspaceID,
		"attrs":       edge.Attributes,
	})
	return err
}

func (w *Writer) writeAssertion(ctx context.Context, a graphevent.UpsertAssertion) error {
	cypher := fmt.Sprintf(`MERGE (s:Assertion {assertion_id: $id})
SET s.subject_id = $subject,
    s.predicate = $predicate,
    s.object_id = $object,
    s.chunk_id = $chunk,
    s.span_start = $spanStart,
    s.span_end = $spanEnd,
    s.quote = $quote,
    s.confidence = %s,
    s.claim_status = %s,
    s.method = $method,
    s.tenant_id = $tenant,
    s.workspace_id = $workspace`,
		fmt.Sprintf(monotoneConfidence, "s"),
		fmt.Sprintf(stickyFact, "s"))

	if _, err := w.lpg.RunCypher(ctx, cypher, map[string]any{
		"id":         a.AssertionID,
		"subject":    a.SubjectCanonicalID,
		"predicate":  a.Predicate,
		"object":     a.ObjectCanonicalID,
		"chunk":      a.ChunkID,
		"spanStart":  a.Span.Start,
		"spanEnd":    a.Span.End,
		"quote":      a.Quote,
		"confidence": a.Confidence,
		"claim":      string(a.ClaimStatus),
		"method":     a.Method,
		"tenant":     a.TenantID,
		"workspace":  a.WorkspaceID,
	}); err != nil {
		return err
	}

	// Reification links. Each endpoint is linked independently; a missing
	// endpoint makes its MATCH a no-op, as in writeEdge, and the assertion
	// node stays in place.
	linkParams := map[string]any{
		"id":      a.AssertionID,
		"subject": a.SubjectCanonicalID,
		"object":  a.ObjectCanonicalID,
	}
	if _, err := w.lpg.RunCypher(ctx, `MATCH (subj {canonical_id: $subject}), (a:Assertion {assertion_id: $id})
MERGE (subj)-[:ASSERTS]->(a)`, linkParams); err != nil {
		return err
	}
	_, err := w.lpg.RunCypher(ctx, `MATCH (a:Assertion {assertion_id: $id}), (obj {canonical_id: $object})
MERGE (a)-[:TARGET]->(obj)`, linkParams)
	return err
}

// writeEvidence merges the EvidenceChunk node keyed by (chunk_id,
// text_hash) and links the target to it.
func (w *Writer) writeEvidence(ctx context.Context, ev graphevent.EvidenceLink) error {
	var match string
	params := map[string]any{
		"chunk":      ev.ChunkID,
		"hash":       ev.TextHash,
		"document":   ev.DocumentID,
		"page":       ev.Page,
		"section":    ev.SectionPath,
		"quote":      ev.Quote,
		"spanStart":  ev.Span.Start,
		"spanEnd":    ev.Span.End,
		"confidence": ev.Confidence,
		"method":     ev.Method,
		"tenant":     ev.TenantID,
		"workspace":  ev.WorkspaceID,
	}
	switch ev.TargetType {
	case graphevent.EvidenceTargetNode:
		match = "MATCH (t {canonical_id: $target})"
		params["target"] = ev.TargetCanonicalID
	case graphevent.EvidenceTargetAssertion:
		match = "MATCH (t:Assertion {assertion_id: $target})"
		params["target"] = ev.AssertionID
	default:
		return fmt.Errorf("unknown evidence target type %q", ev.TargetType)
	}

	cypher := match + `
MERGE (c:EvidenceChunk {chunk_id: $chunk, text_hash: $hash})
SET c.document_id = $document,
    c.page = $page,
    c.section_path = $section,
    c.tenant_id = $tenant,
    c.workspace_id = $workspace
MERGE (t)-[e:EVIDENCED_BY]->(c)
SET e.quote = $quote,
    e.span_start = $spanStart,
    e.span_end = $spanEnd,
    e.confidence = $confidence,
    e.method = $method`

	_, err := w.lpg.RunCypher(ctx, cypher, params)
	return err
}

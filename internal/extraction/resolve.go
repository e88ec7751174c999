package extraction

import (
	"context"
	"fmt"
	"sort"

	"github.com/purplefabric/graphrag/internal/graphevent"
	"github.com/purplefabric/graphrag/internal/store/lpg"
	"go.uber.org/zap"
)

// Resolver deduplicates a batch and reconciles its entities with nodes
// already in the LPG. Cross-document resolution is best-effort: lookup
// failures are logged, never fatal.
type Resolver struct {
	lpg    lpg.Runner
	logger *zap.Logger
}

// NewResolver builds the deterministic resolver. runner may be nil, which
// skips cross-document resolution.
func NewResolver(runner lpg.Runner, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{lpg: runner, logger: logger.Named("resolve")}
}

// Resolve merges in-batch duplicates, rewrites canonical ids that match
// existing graph nodes by display name, then deduplicates again.
func (r *Resolver) Resolve(ctx context.Context, batch *graphevent.Batch) *graphevent.Batch {
	batch = mergeNodes(batch)

	rewrites := make(map[string]string)
	for _, node := range batch.Nodes {
		existing, err := r.lookupExisting(ctx, node)
		if err != nil {
			r.logger.Warn("cross-document lookup failed",
				zap.String("display_name", node.DisplayName), zap.Error(err))
			continue
		}
		if existing != "" && existing != node.CanonicalID {
			rewrites[node.CanonicalID] = existing
		}
	}
	if len(rewrites) > 0 {
		applyRewrites(batch, rewrites)
		batch = mergeNodes(batch)
	}
	return batch
}

// lookupExisting finds a graph node with the same display name, scope and
// class but a different canonical id.
func (r *Resolver) lookupExisting(ctx context.Context, node graphevent.UpsertNode) (string, error) {
	if r.lpg == nil {
		return "", nil
	}
	cypher := fmt.Sprintf(
		"MATCH (n:`%s` {display_name: $name, tenant_id: $tenant, workspace_id: $workspace}) "+
			"WHERE n.canonical_id <> $id RETURN n.canonical_id LIMIT 1", node.Class)
	rows, err := r.lpg.RunCypher(ctx, cypher, map[string]any{
		"name":      node.DisplayName,
		"tenant":    node.TenantID,
		"workspace": node.WorkspaceID,
		"id":        node.CanonicalID,
	})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || len(rows[0].Values) == 0 {
		return "", nil
	}
	id, _ := rows[0].Values[0].(string)
	return id, nil
}

// mergeNodes collapses nodes sharing a canonical id, keeping the higher
// confidence and unioning source documents. Output order is stable.
func mergeNodes(batch *graphevent.Batch) *graphevent.Batch {
	merged := make(map[string]graphevent.UpsertNode)
	var order []string
	for _, node := range batch.Nodes {
		prev, seen := merged[node.CanonicalID]
		if !seen {
			merged[node.CanonicalID] = node
			order = append(order, node.CanonicalID)
			continue
		}
		if node.Confidence > prev.Confidence {
			node.SourceDocIDs = unionStrings(prev.SourceDocIDs, node.SourceDocIDs)
			merged[node.CanonicalID] = node
		} else {
			prev.SourceDocIDs = unionStrings(prev.SourceDocIDs, node.SourceDocIDs)
			merged[node.CanonicalID] = prev
		}
	}

	out := &graphevent.Batch{BatchID: batch.BatchID, Run: batch.Run}
	for _, id := range order {
		out.AddNode(merged[id])
	}

	seenEdges := make(map[string]bool)
	for _, edge := range batch.Edges {
		key := edge.FromCanonicalID + "|" + edge.RelationshipType + "|" + edge.ToCanonicalID
		if seenEdges[key] {
			continue
		}
		seenEdges[key] = true
		out.AddEdge(edge)
	}

	seenAssertions := make(map[string]bool)
	for _, a := range batch.Assertions {
		if seenAssertions[a.AssertionID] {
			continue
		}
		seenAssertions[a.AssertionID] = true
		out.AddAssertion(a)
	}

	for _, ev := range batch.Evidence {
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

// applyRewrites replaces canonical ids throughout the batch: nodes, edge
// endpoints, assertion subjects and objects, and evidence targets.
// Assertion ids are recomputed since their inputs changed.
func applyRewrites(batch *graphevent.Batch, rewrites map[string]string) {
	rewrite := func(id string) string {
		if to, ok := rewrites[id]; ok {
			return to
		}
		return id
	}

	for i := range batch.Nodes {
		batch.Nodes[i].CanonicalID = rewrite(batch.Nodes[i].CanonicalID)
	}
	for i := range batch.Edges {
		batch.Edges[i].FromCanonicalID = rewrite(batch.Edges[i].FromCanonicalID)
		batch.Edges[i].ToCanonicalID = rewrite(batch.Edges[i].ToCanonicalID)
	}

	assertionRewrites := make(map[string]string)
	for i := range batch.Assertions {
		a := &batch.Assertions[i]
		subject, object := rewrite(a.SubjectCanonicalID), rewrite(a.ObjectCanonicalID)
		if subject == a.SubjectCanonicalID && object == a.ObjectCanonicalID {
			continue
		}
		a.SubjectCanonicalID, a.ObjectCanonicalID = subject, object
		newID := graphevent.AssertionID(subject, a.Predicate, object, a.ChunkID, a.Span.Start, a.Span.End)
		assertionRewrites[a.AssertionID] = newID
		a.AssertionID = newID
	}

	for i := range batch.Evidence {
		ev := &batch.Evidence[i]
		ev.TargetCanonicalID = rewrite(ev.TargetCanonicalID)
		if newID, ok := assertionRewrites[ev.AssertionID]; ok {
			ev.AssertionID = newID
		}
	}
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

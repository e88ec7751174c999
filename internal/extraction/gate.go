package extraction

import (
	"github.com/purplefabric/graphrag/internal/graphevent"
)

// ApplyGate bins every node, edge and assertion by confidence: promote to
// FACT, keep as CLAIM, or replace with a quarantine record. Evidence
// whose target was quarantined is dropped.
func ApplyGate(batch *graphevent.Batch) *graphevent.Batch {
	out := &graphevent.Batch{BatchID: batch.BatchID, Run: batch.Run}
	deadNodes := make(map[string]bool)
	deadAssertions := make(map[string]bool)

	for _, node := range batch.Nodes {
		switch graphevent.Gate(node.Confidence) {
		case graphevent.GateFact:
			node.ClaimStatus = graphevent.StatusFact
			out.AddNode(node)
		case graphevent.GateClaim:
			node.ClaimStatus = graphevent.StatusClaim
			out.AddNode(node)
		default:
			deadNodes[node.CanonicalID] = true
			out.AddQuarantine(quarantine(node.Provenance, node,
				"confidence below threshold", true, node.Confidence, "gather more evidence"))
		}
	}

	for _, edge := range batch.Edges {
		if deadNodes[edge.FromCanonicalID] || deadNodes[edge.ToCanonicalID] {
			out.AddQuarantine(quarantine(edge.Provenance, edge,
				"endpoint entity was quarantined", true, edge.Confidence, ""))
			continue
		}
		switch graphevent.Gate(edge.Confidence) {
		case graphevent.GateFact:
			edge.ClaimStatus = graphevent.StatusFact
			out.AddEdge(edge)
		case graphevent.GateClaim:
			edge.ClaimStatus = graphevent.StatusClaim
			out.AddEdge(edge)
		default:
			out.AddQuarantine(quarantine(edge.Provenance, edge,
				"confidence below threshold", true, edge.Confidence, ""))
		}
	}

	for _, a := range batch.Assertions {
		if deadNodes[a.SubjectCanonicalID] || deadNodes[a.ObjectCanonicalID] {
			deadAssertions[a.AssertionID] = true
			continue
		}
		switch graphevent.Gate(a.Confidence) {
		case graphevent.GateFact:
			a.ClaimStatus = graphevent.StatusFact
			out.AddAssertion(a)
		case graphevent.GateClaim:
			a.ClaimStatus = graphevent.StatusClaim
			out.AddAssertion(a)
		default:
			deadAssertions[a.AssertionID] = true
			out.AddQuarantine(quarantine(a.Provenance, a,
				"confidence below threshold", true, a.Confidence, ""))
		}
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

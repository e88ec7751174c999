package orchestrator

import (
	"fmt"
	"sort"
)

// ContextGraphNode is one node of the answer's context graph.
type ContextGraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Class string `json:"class,omitempty"`
}

// ContextGraphEdge connects two context graph nodes.
type ContextGraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// ContextGraphStats summarizes the graph's shape. Cardinality is the
// number of distinct entity classes present.
type ContextGraphStats struct {
	NodeCount   int `json:"nodeCount"`
	EdgeCount   int `json:"edgeCount"`
	Cardinality int `json:"cardinality"`
}

// Provenance records how the context graph was assembled.
type Provenance struct {
	QueryMode   string `json:"queryMode"`
	ChunkCount  int    `json:"chunkCount"`
	SourceCount int    `json:"sourceCount"`
}

// ContextGraph is the entity/relation view of the evidence behind an
// answer, attached to the response for client-side rendering.
type ContextGraph struct {
	Nodes      []ContextGraphNode `json:"nodes"`
	Edges      []ContextGraphEdge `json:"edges"`
	Statistics ContextGraphStats  `json:"statistics"`
	Provenance Provenance         `json:"provenance"`
}

// enrichContextGraph derives the context graph and reasoning trace from
// whatever sources the mode produced. Enrichment never fails a query.
func (o *Orchestrator) enrichContextGraph(resp *Response) {
	if resp == nil || resp.Metadata.QueryFailed {
		return
	}

	nodes := make(map[string]ContextGraphNode)
	addNode := func(id, class string) {
		if id == "" {
			return
		}
		if _, ok := nodes[id]; !ok {
			nodes[id] = ContextGraphNode{ID: id, Label: id, Class: class}
		}
	}

	for _, e := range resp.Sources.GraphEntities {
		addNode(e.Name, e.Class)
	}
	var edges []ContextGraphEdge
	seenEdge := make(map[ContextGraphEdge]bool)
	for _, r := range resp.Sources.Relations {
		addNode(r.Subject, "")
		addNode(r.Object, "")
		edge := ContextGraphEdge{From: r.Subject, To: r.Object, Type: r.Predicate}
		if !seenEdge[edge] {
			seenEdge[edge] = true
			edges = append(edges, edge)
		}
	}

	if len(nodes) == 0 {
		resp.ReasoningTrace = buildTrace(resp, 0, 0)
		return
	}

	classes := make(map[string]bool)
	for _, n := range nodes {
		if n.Class != "" {
			classes[n.Class] = true
		}
	}

	graph := &ContextGraph{
		Edges: edges,
		Statistics: ContextGraphStats{
			NodeCount:   len(nodes),
			EdgeCount:   len(edges),
			Cardinality: len(classes),
		},
		Provenance: Provenance{
			QueryMode:   resp.Metadata.SearchMode,
			ChunkCount:  len(resp.Sources.Chunks),
			SourceCount: len(resp.Sources.Documents),
		},
	}
	for _, n := range nodes {
		graph.Nodes = append(graph.Nodes, n)
	}
	sort.Slice(graph.Nodes, func(i, j int) bool { return graph.Nodes[i].ID < graph.Nodes[j].ID })
	resp.ContextGraph = graph
	resp.ReasoningTrace = buildTrace(resp, len(nodes), len(edges))
}

func buildTrace(resp *Response, nodeCount, edgeCount int) []string {
	trace := []string{
		fmt.Sprintf("searched in %s mode", resp.Metadata.SearchMode),
	}
	if n := len(resp.Sources.Chunks); n > 0 {
		trace = append(trace, fmt.Sprintf("retrieved %d document chunks from %d documents", n, len(resp.Sources.Documents)))
	}
	if resp.Metadata.Cypher != "" {
		trace = append(trace, "executed a synthesized cypher query against the property graph")
	}
	if resp.Metadata.SPARQL != "" {
		trace = append(trace, "executed a synthesized sparql query against the triplestore")
	}
	if nodeCount > 0 {
		trace = append(trace, fmt.Sprintf("assembled a context graph of %d entities and %d relations", nodeCount, edgeCount))
	}
	return trace
}

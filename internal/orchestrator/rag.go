package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/store/vector"
	"go.uber.org/zap"
)

// runRAG answers from vector search alone, with a triplestore entity
// lookup as fallback when retrieval comes back thin.
func (o *Orchestrator) runRAG(ctx context.Context, req Request, docIDs []string, memCtx string) (*Response, error) {
	chunks, err := o.vector.SemanticSearch(ctx, req.Message, o.topK(req), vector.Filters{
		TenantID:    req.TenantID,
		WorkspaceID: req.WorkspaceID,
		DocumentIDs: docIDs,
	})
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "vector search")
	}

	resp := &Response{
		Sources: Sources{
			Chunks:    chunks,
			Documents: uniqueDocuments(chunks),
		},
		Metadata: Metadata{SearchMode: ModeRAG, ResultCount: len(chunks)},
	}

	contextText := renderChunkContext(chunks)

	// Thin retrieval: probe the triplestore for entities named in the
	// question. Best effort, a graph failure does not sink the answer.
	if len(chunks) < lowResultThreshold && o.fabric != nil {
		relations := o.entityFallback(ctx, req)
		if len(relations) > 0 {
			resp.Sources.Relations = relations
			contextText += "\n\nKNOWLEDGE GRAPH CONTEXT:\n" + renderRelations(relations)
		}
	}

	if contextText == "" {
		contextText = "(no relevant documents were found)"
	}
	content, err := o.answer(ctx, req, contextText, memCtx)
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "answer generation")
	}
	resp.Content = content
	return resp, nil
}

// entityFallback looks up question terms in the triplestore and returns
// whatever triples mention them.
func (o *Orchestrator) entityFallback(ctx context.Context, req Request) []Relation {
	var relations []Relation
	for _, term := range deterministicKeyTerms(req.Message) {
		q := fmt.Sprintf(`SELECT ?s ?p ?o WHERE { ?s ?p ?o . FILTER(REGEX(STR(?o), %q, "i")) } LIMIT 10`, term)
		res, err := o.fabric.QueryData(ctx, req.TenantID, req.WorkspaceID, q, nil)
		if err != nil {
			o.logger.Debug("entity fallback query failed", zap.String("term", term), zap.Error(err))
			continue
		}
		relations = append(relations, relationsFromBindings(res)...)
		if len(relations) >= maxRelationsInText {
			break
		}
	}
	return dedupeRelations(relations)
}

func renderChunkContext(chunks []vector.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("RELEVANT DOCUMENT EXCERPTS:\n")
	for _, c := range chunks {
		name := c.DocumentName
		if name == "" {
			name = c.DocumentID
		}
		fmt.Fprintf(&b, "[%s, chunk %d]\n%s\n\n", name, c.ChunkIndex, c.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRelations(relations []Relation) string {
	var b strings.Builder
	for i, r := range relations {
		if i >= maxRelationsInText {
			break
		}
		fmt.Fprintf(&b, "%s --[%s]--> %s\n", r.Subject, r.Predicate, r.Object)
	}
	return strings.TrimRight(b.String(), "\n")
}

func dedupeRelations(relations []Relation) []Relation {
	seen := make(map[Relation]bool, len(relations))
	var out []Relation
	for _, r := range relations {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

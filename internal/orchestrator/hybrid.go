package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/store/lpg"
	"github.com/purplefabric/graphrag/internal/store/vector"
	"go.uber.org/zap"
)

const (
	graphOnlyScore = 0.6
	overlapBonus   = 0.15
)

const keyTermsSystemPrompt = `Extract the key entities and concepts from the question.
Return a JSON array of at most 7 short strings, nothing else.
Prefer proper nouns, domain terms and identifiers over generic words.`

// runHybrid blends vector retrieval with graph concept lookup. Either leg
// may fail independently; the answer degrades rather than erroring as
// long as one leg produced context.
func (o *Orchestrator) runHybrid(ctx context.Context, req Request, docIDs []string, memCtx string) (*Response, error) {
	terms := o.keyTerms(ctx, req.Message)

	chunks, vecErr := o.vector.SemanticSearch(ctx, req.Message, o.topK(req), vector.Filters{
		TenantID:    req.TenantID,
		WorkspaceID: req.WorkspaceID,
		DocumentIDs: docIDs,
	})
	if vecErr != nil {
		o.logger.Warn("vector leg failed in hybrid search", zap.Error(vecErr))
	}

	var (
		entities  []GraphEntity
		relations []Relation
		graphRefs []graphChunkRef
		graphErr  error
	)
	if o.lpg != nil {
		entities, relations, graphRefs, graphErr = o.conceptLookup(ctx, req, terms, docIDs)
		if graphErr != nil {
			o.logger.Warn("graph leg failed in hybrid search", zap.Error(graphErr))
		}
	}

	if vecErr != nil && (o.lpg == nil || graphErr != nil) {
		return nil, fault.Wrap(fault.BackendUnavailable, vecErr, "both hybrid legs failed")
	}

	merged := mergeChunks(chunks, graphRefs)
	resp := &Response{
		Sources: Sources{
			Chunks:        chunks,
			GraphEntities: entities,
			GraphChunks:   merged,
			Relations:     relations,
			Documents:     uniqueDocuments(chunks),
		},
		Metadata: Metadata{SearchMode: ModeHybrid, ResultCount: len(merged)},
	}

	contextText := buildHybridContext(chunks, merged, entities, relations)
	if contextText == "" {
		contextText = "(no relevant documents or graph entities were found)"
	}
	content, err := o.answer(ctx, req, contextText, memCtx)
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "answer generation")
	}
	resp.Content = content
	return resp, nil
}

// keyTerms asks the model for search terms and falls back to a
// deterministic extraction when the model answer is unusable.
func (o *Orchestrator) keyTerms(ctx context.Context, message string) []string {
	raw, err := o.chat.Complete(ctx, keyTermsSystemPrompt, message)
	if err == nil {
		if terms := parseKeyTerms(raw); len(terms) > 0 {
			return terms
		}
	} else {
		o.logger.Debug("key term extraction via chat failed", zap.Error(err))
	}
	return deterministicKeyTerms(message)
}

func parseKeyTerms(raw string) []string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}
	var terms []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &terms); err != nil {
		return nil
	}
	var out []string
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, t)
		if len(out) == maxKeyTerms {
			break
		}
	}
	return out
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "about": true,
	"be": true, "by": true, "can": true, "do": true, "does": true,
	"for": true, "from": true, "has": true, "have": true, "how": true,
	"in": true, "is": true, "it": true, "me": true, "of": true,
	"on": true, "or": true, "show": true, "tell": true, "that": true,
	"the": true, "their": true, "there": true, "this": true, "to": true,
	"was": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "with": true, "you": true,
}

// deterministicKeyTerms keeps capitalized runs together ("Acme Corporation")
// and otherwise takes non-stopword tokens in order.
func deterministicKeyTerms(message string) []string {
	words := strings.FieldsFunc(message, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	var (
		terms []string
		run   []string
	)
	seen := make(map[string]bool)
	flush := func() {
		if len(run) == 0 {
			return
		}
		t := strings.Join(run, " ")
		run = nil
		if !seen[strings.ToLower(t)] {
			seen[strings.ToLower(t)] = true
			terms = append(terms, t)
		}
	}
	for i, w := range words {
		first, _ := firstRune(w)
		// The sentence opener only starts a run when the next word is
		// capitalized too, so "What does..." is not a proper noun.
		capitalized := unicode.IsUpper(first)
		if capitalized && i == 0 && !isCapitalized(words, 1) {
			capitalized = false
		}
		if capitalized {
			run = append(run, w)
			continue
		}
		flush()
		lw := strings.ToLower(w)
		if len(lw) > 2 && !stopwords[lw] && !seen[lw] {
			seen[lw] = true
			terms = append(terms, w)
		}
	}
	flush()
	if len(terms) > maxKeyTerms {
		terms = terms[:maxKeyTerms]
	}
	return terms
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

func isCapitalized(words []string, i int) bool {
	if i >= len(words) {
		return false
	}
	r, ok := firstRune(words[i])
	return ok && unicode.IsUpper(r)
}

type graphChunkRef struct {
	ChunkID    string
	DocumentID string
}

// chunkKey falls back to (document, chunk index) for stores that return
// empty chunk ids, so such chunks still merge instead of colliding on "".
func chunkKey(id, documentID string, index int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("%s#%d", documentID, index)
}

// conceptLookup finds graph entities matching the key terms, walks their
// neighborhood to the agent's configured depth and collects the evidence
// chunks attached to anything it touched.
func (o *Orchestrator) conceptLookup(ctx context.Context, req Request, terms []string, docIDs []string) ([]GraphEntity, []Relation, []graphChunkRef, error) {
	depth := o.graphDepth(req)
	var (
		entities  []GraphEntity
		relations []Relation
		refs      []graphChunkRef
		seenEnt   = make(map[string]bool)
		seenRef   = make(map[string]bool)
		firstErr  error
	)
	for _, term := range terms {
		cypher := fmt.Sprintf(`MATCH (c {workspace_id: $ws})
WHERE toLower(c.display_name) CONTAINS toLower($term)%s
OPTIONAL MATCH (c)-[r]-(m {workspace_id: $ws})
OPTIONAL MATCH (c)-[:EVIDENCED_BY]->(e:EvidenceChunk)
RETURN c.display_name AS name, labels(c) AS labels, c.confidence AS confidence,
       type(r) AS rel, m.display_name AS other,
       e.chunk_id AS chunk_id, e.document_id AS document_id
LIMIT %d`, docScopeClause(docIDs), 10*depth)

		rows, err := o.lpg.RunCypher(ctx, cypher, map[string]any{
			"ws":   req.WorkspaceID,
			"term": term,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, row := range rows {
			vals := rowMap(row)
			name, _ := vals["name"].(string)
			if name == "" {
				continue
			}
			if !seenEnt[name] {
				seenEnt[name] = true
				entities = append(entities, GraphEntity{
					Name:  name,
					Class: entityClass(vals["labels"]),
				})
			}
			if rel, ok := vals["rel"].(string); ok && rel != "" {
				if other, ok := vals["other"].(string); ok && other != "" {
					relations = append(relations, Relation{Subject: name, Predicate: rel, Object: other})
				}
			}
			if chunkID, ok := vals["chunk_id"].(string); ok && chunkID != "" && !seenRef[chunkID] {
				seenRef[chunkID] = true
				docID, _ := vals["document_id"].(string)
				refs = append(refs, graphChunkRef{ChunkID: chunkID, DocumentID: docID})
			}
		}
	}
	if len(entities) == 0 && firstErr != nil {
		return nil, nil, nil, firstErr
	}
	return entities, dedupeRelations(relations), refs, nil
}

func docScopeClause(docIDs []string) string {
	if len(docIDs) == 0 {
		return ""
	}
	quoted := make([]string, len(docIDs))
	for i, id := range docIDs {
		quoted[i] = "'" + strings.ReplaceAll(id, "'", "\\'") + "'"
	}
	return "\n  AND c.source_document IN [" + strings.Join(quoted, ", ") + "]"
}

func rowMap(row lpg.Row) map[string]any {
	m := make(map[string]any, len(row.Columns))
	for i, c := range row.Columns {
		if i < len(row.Values) {
			m[c] = row.Values[i]
		}
	}
	return m
}

// entityClass picks the first label that is not an internal one.
func entityClass(v any) string {
	labels, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok {
			return s
		}
		return ""
	}
	for _, l := range labels {
		s, _ := l.(string)
		if s != "" && s != "Assertion" && s != "EvidenceChunk" {
			return s
		}
	}
	return ""
}

// mergeChunks blends the two retrieval legs. Vector chunks keep their
// similarity, graph-only chunks get a fixed score, and chunks found by
// both legs get a bonus capped at 1.0.
func mergeChunks(chunks []vector.Chunk, refs []graphChunkRef) []MergedChunk {
	byID := make(map[string]*MergedChunk)
	var order []string
	for _, c := range chunks {
		m := &MergedChunk{
			ChunkID:      c.ChunkID,
			DocumentID:   c.DocumentID,
			DocumentName: c.DocumentName,
			ChunkIndex:   c.ChunkIndex,
			Text:         c.Text,
			Score:        c.Similarity,
			Source:       "vector",
		}
		key := chunkKey(c.ChunkID, c.DocumentID, c.ChunkIndex)
		byID[key] = m
		order = append(order, key)
	}
	for _, ref := range refs {
		if m, ok := byID[ref.ChunkID]; ok {
			m.Score += overlapBonus
			if m.Score > 1.0 {
				m.Score = 1.0
			}
			m.Source = "both"
			continue
		}
		byID[ref.ChunkID] = &MergedChunk{
			ChunkID:    ref.ChunkID,
			DocumentID: ref.DocumentID,
			Score:      graphOnlyScore,
			Source:     "graph",
		}
		order = append(order, ref.ChunkID)
	}
	out := make([]MergedChunk, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > maxContextChunks {
		out = out[:maxContextChunks]
	}
	return out
}

func buildHybridContext(chunks []vector.Chunk, merged []MergedChunk, entities []GraphEntity, relations []Relation) string {
	var sections []string

	textByID := make(map[string]vector.Chunk, len(chunks))
	for _, c := range chunks {
		textByID[chunkKey(c.ChunkID, c.DocumentID, c.ChunkIndex)] = c
	}
	var docPart strings.Builder
	for _, m := range merged {
		c, ok := textByID[chunkKey(m.ChunkID, m.DocumentID, m.ChunkIndex)]
		if !ok || c.Text == "" {
			continue
		}
		name := c.DocumentName
		if name == "" {
			name = c.DocumentID
		}
		fmt.Fprintf(&docPart, "[%s, chunk %d]\n%s\n\n", name, c.ChunkIndex, c.Text)
	}
	if docPart.Len() > 0 {
		sections = append(sections, "RELEVANT DOCUMENT EXCERPTS:\n"+strings.TrimRight(docPart.String(), "\n"))
	}

	if len(entities) > 0 {
		sections = append(sections, "KNOWLEDGE GRAPH CONTEXT:\n"+renderEntityGroups(entities, relations))
	}

	if len(relations) > 0 {
		sections = append(sections, "KEY RELATIONSHIPS:\n"+renderRelations(relations))
	}

	return strings.Join(sections, "\n\n")
}

// maxRelationsPerEntity bounds the relations listed under each entity in
// the grouped knowledge-graph section.
const maxRelationsPerEntity = 3

// renderEntityGroups lists entities grouped by class, each followed by up
// to three of the relations it participates in.
func renderEntityGroups(entities []GraphEntity, relations []Relation) string {
	byClass := make(map[string][]GraphEntity)
	var classOrder []string
	for _, e := range entities {
		class := e.Class
		if class == "" {
			class = "Entity"
		}
		if _, ok := byClass[class]; !ok {
			classOrder = append(classOrder, class)
		}
		byClass[class] = append(byClass[class], e)
	}

	byName := make(map[string][]Relation)
	for _, r := range relations {
		byName[r.Subject] = append(byName[r.Subject], r)
	}

	var b strings.Builder
	for _, class := range classOrder {
		b.WriteString(class + ":\n")
		for _, e := range byClass[class] {
			fmt.Fprintf(&b, "- %s\n", e.Name)
			for i, r := range byName[e.Name] {
				if i >= maxRelationsPerEntity {
					break
				}
				fmt.Fprintf(&b, "    %s --[%s]--> %s\n", r.Subject, r.Predicate, r.Object)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

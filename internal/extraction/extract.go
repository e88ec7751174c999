package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/purplefabric/graphrag/internal/graphevent"
	"github.com/purplefabric/graphrag/internal/llm"
	"go.uber.org/zap"
)

// extractionMethod tags events produced by the LLM extractor.
const extractionMethod = "llm"

// Extractor turns chunks into typed graph events via one primed LLM call
// per chunk.
type Extractor struct {
	chat   llm.Chat
	logger *zap.Logger
}

// NewExtractor builds the chunk extractor.
func NewExtractor(chat llm.Chat, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{chat: chat, logger: logger.Named("extract")}
}

// rawExtraction mirrors the JSON contract of the extraction prompt.
type rawExtraction struct {
	Entities          []rawEntity    `json:"entities"`
	Relationships     []rawRel       `json:"relationships"`
	CandidateConcepts []rawCandidate `json:"candidate_concepts"`
}

type rawEntity struct {
	Class        string            `json:"class"`
	Name         string            `json:"name"`
	IdentityKeys map[string]string `json:"identity_keys"`
	Attributes   map[string]any    `json:"attributes"`
	Confidence   float64           `json:"confidence"`
	Quote        string            `json:"quote"`
	SpanStart    int               `json:"span_start"`
	SpanEnd      int               `json:"span_end"`
}

type rawRel struct {
	Type       string         `json:"type"`
	FromName   string         `json:"from_name"`
	FromClass  string         `json:"from_class"`
	ToName     string         `json:"to_name"`
	ToClass    string         `json:"to_class"`
	Attributes map[string]any `json:"attributes"`
	Confidence float64        `json:"confidence"`
	Quote      string         `json:"quote"`
	SpanStart  int            `json:"span_start"`
	SpanEnd    int            `json:"span_end"`
}

type rawCandidate struct {
	Term                string `json:"term"`
	SuggestedClass      string `json:"suggested_class"`
	SuggestedDefinition string `json:"suggested_definition"`
}

const extractSystemPrompt = `You extract entities and relationships from a text chunk, strictly following the supplied ontology.
Return ONLY a JSON object:
{
  "entities": [{"class": "...", "name": "...", "identity_keys": {"...": "..."}, "attributes": {"...": "..."}, "confidence": 0.0-1.0, "quote": "...", "span_start": 0, "span_end": 0}],
  "relationships": [{"type": "...", "from_name": "...", "from_class": "...", "to_name": "...", "to_class": "...", "confidence": 0.0-1.0, "quote": "...", "span_start": 0, "span_end": 0}],
  "candidate_concepts": [{"term": "...", "suggested_class": "...", "suggested_definition": "..."}]
}
Use only the listed classes and relationships. Anything notable outside the ontology goes into candidate_concepts.`

// PrimingText renders the ontology for the extraction prompt: classes with
// their typed data properties and cardinalities, then relationships with
// domain and range.
func PrimingText(schema *fabric.OntologySchema) string {
	var b strings.Builder
	b.WriteString("Allowed classes:\n")
	for _, c := range schema.Classes {
		b.WriteString("- " + c.Name)
		if c.Comment != "" {
			b.WriteString(": " + c.Comment)
		}
		b.WriteString("\n")
		for _, p := range schema.DataPropertiesOf(c.Name) {
			fmt.Fprintf(&b, "    %s (%s", p.Name, p.Range)
			if p.MaxCardinality > 0 {
				fmt.Fprintf(&b, ", max %d", p.MaxCardinality)
			}
			b.WriteString(")\n")
		}
	}
	b.WriteString("\nAllowed relationships:\n")
	for _, p := range schema.ObjectProperties {
		fmt.Fprintf(&b, "- %s: %s -> %s\n", p.Name, p.Domain, p.Range)
	}
	return b.String()
}

// ExtractChunk runs the primed extraction call for one chunk and appends
// the resulting events to the batch. Each entity yields a node plus a
// node evidence link; each relationship yields an edge, an assertion and
// an assertion evidence link.
func (e *Extractor) ExtractChunk(ctx context.Context, batch *graphevent.Batch, schema *fabric.OntologySchema, chunk Chunk) error {
	prompt := PrimingText(schema) + "\nText chunk:\n" + chunk.Text
	raw, err := e.chat.Complete(ctx, extractSystemPrompt, prompt)
	if err != nil {
		return err
	}
	var parsed rawExtraction
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return fmt.Errorf("parsing extraction for %s: %w", chunk.ChunkID, err)
	}

	prov := batch.Run
	textHash := graphevent.TextHash(chunk.Text)

	// Entity identity keys feed relationship endpoint ids so both sides
	// of an edge agree on the canonical id.
	identityByName := make(map[string]rawEntity, len(parsed.Entities))

	for _, ent := range parsed.Entities {
		if ent.Class == "" || ent.Name == "" {
			e.logger.Warn("dropping unnamed entity", zap.String("chunk", chunk.ChunkID))
			continue
		}
		identityByName[ent.Class+"|"+ent.Name] = ent
		canonical := graphevent.CanonicalID(ent.Class, ent.Name, ent.IdentityKeys)
		batch.AddNode(graphevent.UpsertNode{
			Provenance:   prov,
			Class:        ent.Class,
			CanonicalID:  canonical,
			IdentityKeys: ent.IdentityKeys,
			Attributes:   ent.Attributes,
			DisplayName:  ent.Name,
			Confidence:   ent.Confidence,
			ClaimStatus:  graphevent.StatusClaim,
			Status:       "active",
			SourceDocIDs: []string{chunk.DocumentID},
		})
		batch.AddEvidence(graphevent.EvidenceLink{
			Provenance:        prov,
			TargetType:        graphevent.EvidenceTargetNode,
			TargetCanonicalID: canonical,
			ChunkID:           chunk.ChunkID,
			DocumentID:        chunk.DocumentID,
			Span:              graphevent.Span{Start: ent.SpanStart, End: ent.SpanEnd},
			Page:              chunk.PageStart,
			SectionPath:       chunk.SectionPath,
			Quote:             ent.Quote,
			TextHash:          textHash,
			Confidence:        ent.Confidence,
			Method:            extractionMethod,
		})
	}

	for _, rel := range parsed.Relationships {
		if rel.Type == "" || rel.FromName == "" || rel.ToName == "" {
			continue
		}
		fromID := e.endpointID(identityByName, rel.FromClass, rel.FromName)
		toID := e.endpointID(identityByName, rel.ToClass, rel.ToName)
		batch.AddEdge(graphevent.UpsertEdge{
			Provenance:       prov,
			RelationshipType: rel.Type,
			FromCanonicalID:  fromID,
			ToCanonicalID:    toID,
			FromClass:        rel.FromClass,
			ToClass:          rel.ToClass,
			Confidence:       rel.Confidence,
			ClaimStatus:      graphevent.StatusClaim,
			ExtractedAt:      time.Now().UTC(),
			Attributes:       rel.Attributes,
		})
		assertionID := graphevent.AssertionID(fromID, rel.Type, toID, chunk.ChunkID, rel.SpanStart, rel.SpanEnd)
		batch.AddAssertion(graphevent.UpsertAssertion{
			Provenance:         prov,
			AssertionID:        assertionID,
			SubjectCanonicalID: fromID,
			Predicate:          rel.Type,
			ObjectCanonicalID:  toID,
			ChunkID:            chunk.ChunkID,
			Span:               graphevent.Span{Start: rel.SpanStart, End: rel.SpanEnd},
			Quote:              rel.Quote,
			Confidence:         rel.Confidence,
			ClaimStatus:        graphevent.StatusClaim,
			Method:             extractionMethod,
		})
		batch.AddEvidence(graphevent.EvidenceLink{
			Provenance:  prov,
			TargetType:  graphevent.EvidenceTargetAssertion,
			AssertionID: assertionID,
			ChunkID:     chunk.ChunkID,
			DocumentID:  chunk.DocumentID,
			Span:        graphevent.Span{Start: rel.SpanStart, End: rel.SpanEnd},
			Page:        chunk.PageStart,
			SectionPath: chunk.SectionPath,
			Quote:       rel.Quote,
			TextHash:    textHash,
			Confidence:  rel.Confidence,
			Method:      extractionMethod,
		})
	}

	for _, cand := range parsed.CandidateConcepts {
		if cand.Term == "" {
			continue
		}
		batch.AddCandidate(graphevent.CandidateConcept{
			Provenance:          prov,
			Term:                cand.Term,
			SuggestedClass:      cand.SuggestedClass,
			SuggestedDefinition: cand.SuggestedDefinition,
			EvidenceChunks:      []string{chunk.ChunkID},
			Frequency:           1,
		})
	}
	return nil
}

// endpointID reuses the entity's declared identity keys when the endpoint
// was also extracted in this chunk, falling back to a name-only id.
func (e *Extractor) endpointID(entities map[string]rawEntity, class, name string) string {
	if ent, ok := entities[class+"|"+name]; ok {
		return graphevent.CanonicalID(ent.Class, ent.Name, ent.IdentityKeys)
	}
	return graphevent.CanonicalID(class, name, nil)
}

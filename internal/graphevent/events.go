// Package graphevent defines the typed events the extraction pipeline emits
// and the writer consumes, plus the deterministic identifiers that key them.
package graphevent

import (
	"time"

	"github.com/google/uuid"
)

// ClaimStatus is the lifecycle marker of an extracted statement.
// The lattice is CLAIM < FACT; the confidence gate promotes or demotes.
type ClaimStatus string

const (
	StatusClaim ClaimStatus = "CLAIM"
	StatusFact  ClaimStatus = "FACT"
)

// Confidence gate thresholds.
const (
	// FactThreshold promotes to FACT at or above.
	FactThreshold = 0.85

	// QuarantineThreshold quarantines strictly below.
	QuarantineThreshold = 0.65
)

// GateDecision is the outcome of the confidence gate.
type GateDecision string

const (
	GateFact       GateDecision = "fact"
	GateClaim      GateDecision = "claim"
	GateQuarantine GateDecision = "quarantine"
)

// Gate bins a confidence value. The decision depends only on the bin.
func Gate(confidence float64) GateDecision {
	switch {
	case confidence >= FactThreshold:
		return GateFact
	case confidence >= QuarantineThreshold:
		return GateClaim
	default:
		return GateQuarantine
	}
}

// Provenance carries the run context every event shares.
type Provenance struct {
	TenantID        string `json:"tenantId"`
	WorkspaceID     string `json:"workspaceId"`
	OntologyVersion string `json:"ontologyVersion"`
	ExtractionRun   string `json:"extractionRun"`
	SourceType      string `json:"sourceType"`
	SourceID        string `json:"sourceId"`
}

// Span is a character range within a chunk.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// UpsertNode creates or updates one LPG entity.
type UpsertNode struct {
	Provenance
	Class        string            `json:"class"`
	CanonicalID  string            `json:"canonicalId"`
	IdentityKeys map[string]string `json:"identityKeys"`
	Attributes   map[string]any    `json:"attributes"`
	DisplayName  string            `json:"displayName"`
	Confidence   float64           `json:"confidence"`
	ClaimStatus  ClaimStatus       `json:"claimStatus"`
	Status       string            `json:"status"`
	SourceDocIDs []string          `json:"sourceDocIds"`
}

// UpsertEdge creates or updates one relationship between canonical entities.
type UpsertEdge struct {
	Provenance
	RelationshipType string         `json:"relationshipType"`
	FromCanonicalID  string         `json:"fromCanonicalId"`
	ToCanonicalID    string         `json:"toCanonicalId"`
	FromClass        string         `json:"fromClass"`
	ToClass          string         `json:"toClass"`
	Confidence       float64        `json:"confidence"`
	ClaimStatus      ClaimStatus    `json:"claimStatus"`
	ExtractedAt      time.Time      `json:"extractedAt"`
	Attributes       map[string]any `json:"attributes"`
}

// UpsertAssertion reifies a relationship with its evidence anchor.
type UpsertAssertion struct {
	Provenance
	AssertionID        string      `json:"assertionId"`
	SubjectCanonicalID string      `json:"subjectCanonicalId"`
	Predicate          string      `json:"predicate"`
	ObjectCanonicalID  string      `json:"objectCanonicalId"`
	ChunkID            string      `json:"chunkId"`
	Span               Span        `json:"span"`
	Quote              string      `json:"quote"`
	Confidence         float64     `json:"confidence"`
	ClaimStatus        ClaimStatus `json:"claimStatus"`
	Method             string      `json:"method"`
}

// EvidenceTargetType selects what an evidence link attaches to.
type EvidenceTargetType string

const (
	EvidenceTargetNode      EvidenceTargetType = "node"
	EvidenceTargetAssertion EvidenceTargetType = "assertion"
)

// EvidenceLink ties a node or assertion to the chunk that supports it.
type EvidenceLink struct {
	Provenance
	TargetType        EvidenceTargetType `json:"targetType"`
	TargetCanonicalID string             `json:"targetCanonicalId,omitempty"`
	AssertionID       string             `json:"assertionId,omitempty"`
	ChunkID           string             `json:"chunkId"`
	DocumentID        string             `json:"documentId"`
	Span              Span               `json:"span"`
	Page              int                `json:"page"`
	SectionPath       string             `json:"sectionPath,omitempty"`
	Quote             string             `json:"quote"`
	TextHash          string             `json:"textHash"`
	Confidence        float64            `json:"confidence"`
	Method            string             `json:"method"`
}

// CandidateConcept records a term the ontology does not cover yet.
type CandidateConcept struct {
	Provenance
	Term                string   `json:"term"`
	SuggestedClass      string   `json:"suggestedClass"`
	SuggestedDefinition string   `json:"suggestedDefinition"`
	EvidenceChunks      []string `json:"evidenceChunks"`
	Frequency           int      `json:"frequency"`
}

// QuarantineRecord replaces an event that failed validation or the gate.
// The original event is retained for human review, never written to the
// serving graph.
type QuarantineRecord struct {
	Provenance
	OriginalEvent    any      `json:"originalEvent"`
	FailureReason    string   `json:"failureReason"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
	Recoverable      bool     `json:"recoverable"`
	SuggestedFix     string   `json:"suggestedFix,omitempty"`
	Confidence       float64  `json:"confidence"`
}

// BatchStats counts events by type as they are added.
type BatchStats struct {
	Nodes       int `json:"nodes"`
	Edges       int `json:"edges"`
	Assertions  int `json:"assertions"`
	Evidence    int `json:"evidence"`
	Candidates  int `json:"candidates"`
	Quarantined int `json:"quarantined"`
}

// Batch groups the events of one extraction run.
type Batch struct {
	BatchID    string             `json:"batchId"`
	Run        Provenance         `json:"run"`
	Nodes      []UpsertNode       `json:"nodes"`
	Edges      []UpsertEdge       `json:"edges"`
	Assertions []UpsertAssertion  `json:"assertions"`
	Evidence   []EvidenceLink     `json:"evidence"`
	Candidates []CandidateConcept `json:"candidates"`
	Quarantine []QuarantineRecord `json:"quarantine"`
	Stats      BatchStats         `json:"stats"`
}

// NewBatch creates an empty batch for the run.
func NewBatch(run Provenance) *Batch {
	return &Batch{BatchID: uuid.NewString(), Run: run}
}

// AddNode appends a node event and updates stats.
func (b *Batch) AddNode(e UpsertNode) {
	b.Nodes = append(b.Nodes, e)
	b.Stats.Nodes++
}

// AddEdge appends an edge event and updates stats.
func (b *Batch) AddEdge(e UpsertEdge) {
	b.Edges = append(b.Edges, e)
	b.Stats.Edges++
}

// AddAssertion appends an assertion event and updates stats.
func (b *Batch) AddAssertion(e UpsertAssertion) {
	b.Assertions = append(b.Assertions, e)
	b.Stats.Assertions++
}

// AddEvidence appends an evidence link and updates stats.
func (b *Batch) AddEvidence(e EvidenceLink) {
	b.Evidence = append(b.Evidence, e)
	b.Stats.Evidence++
}

// AddCandidate appends a candidate concept and updates stats.
func (b *Batch) AddCandidate(e CandidateConcept) {
	b.Candidates = append(b.Candidates, e)
	b.Stats.Candidates++
}

// AddQuarantine appends a quarantine record and updates stats.
func (b *Batch) AddQuarantine(e QuarantineRecord) {
	b.Quarantine = append(b.Quarantine, e)
	b.Stats.Quarantined++
}

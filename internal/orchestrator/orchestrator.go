// Package orchestrator routes chat requests across the vector store, the
// LPG, the triplestore and the SQL federation layer, assembles grounded
// context and produces the final answer with structured sources.
package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/purplefabric/graphrag/internal/agent"
	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/llm"
	"github.com/purplefabric/graphrag/internal/memory"
	"github.com/purplefabric/graphrag/internal/query"
	"github.com/purplefabric/graphrag/internal/store/lpg"
	"github.com/purplefabric/graphrag/internal/store/sqlfed"
	"github.com/purplefabric/graphrag/internal/store/triple"
	"github.com/purplefabric/graphrag/internal/store/vector"
	"go.uber.org/zap"
)

// Search modes.
const (
	ModeRAG     = "rag"
	ModeGraph   = "graph"
	ModeGraphDB = "graphdb"
	ModeNeo4j   = "neo4j"
	ModeCompare = "compare"
	ModeHybrid  = "hybrid"
	ModeUnified = "unified"
)

const (
	defaultTopK        = 5
	defaultGraphDepth  = 2
	maxContextChunks   = 12
	maxKeyTerms        = 7
	maxRelationsInText = 15
	lowResultThreshold = 2
	sparqlSampleLimit  = 30
)

// MemoryProvider is the slice of the memory store the orchestrator uses.
// Memory failures never block a chat.
type MemoryProvider interface {
	AssembleMemoryContext(ctx context.Context, agent, user, query string) (string, error)
	ExtractMemories(ctx context.Context, agent, user, userMsg, asstMsg, session string) ([]*memory.Memory, error)
	AppendToSession(ctx context.Context, agent, user, session string, msgs ...memory.Message) error
}

// VKGResolver maps an agent's VKG database reference to a federated
// catalog and schema.
type VKGResolver interface {
	Resolve(ctx context.Context, ref string) (catalog, schema string, err error)
}

// GraphQuerier is the fabric surface the orchestrator depends on.
type GraphQuerier interface {
	QueryData(ctx context.Context, tenant, workspace, query string, additionalWorkspaces []string) (*triple.Result, error)
	SampleData(ctx context.Context, tenant, workspace string, limit int) (*triple.Result, error)
	IntrospectOntology(ctx context.Context, tenant, workspace string, ontologyIDs []string) (*fabric.OntologySchema, error)
}

// FolderResolver maps an agent's folder set to a document-id allow-list.
type FolderResolver interface {
	ResolveFolders(ctx context.Context, tenant, workspace string, folders []string) ([]string, error)
}

// Orchestrator wires the stores, generators and the memory layer.
type Orchestrator struct {
	vector    vector.Searcher
	lpg       lpg.Runner
	lpgSchema lpg.SchemaProvider
	fabric    GraphQuerier
	sql       sqlfed.Federator
	vkg       VKGResolver
	memory    MemoryProvider
	folders   FolderResolver

	sparqlGen *query.SPARQLGenerator
	cypherGen *query.CypherGenerator
	chat      llm.Chat
	logger    *zap.Logger

	bg sync.WaitGroup
}

// Deps carries the orchestrator's collaborators; optional ones may be nil.
type Deps struct {
	Vector    vector.Searcher
	LPG       lpg.Runner
	LPGSchema lpg.SchemaProvider
	Fabric    GraphQuerier
	SQL       sqlfed.Federator
	VKG       VKGResolver
	Memory    MemoryProvider
	Folders   FolderResolver
	Chat      llm.Chat
	Logger    *zap.Logger
}

// New builds the orchestrator.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("orchestrator")
	return &Orchestrator{
		vector:    deps.Vector,
		lpg:       deps.LPG,
		lpgSchema: deps.LPGSchema,
		fabric:    deps.Fabric,
		sql:       deps.SQL,
		vkg:       deps.VKG,
		memory:    deps.Memory,
		folders:   deps.Folders,
		sparqlGen: query.NewSPARQLGenerator(deps.Chat, logger),
		cypherGen: query.NewCypherGenerator(deps.Chat, 25, logger),
		chat:      deps.Chat,
		logger:    logger,
	}
}

// Close waits for in-flight background work (post-chat memory extraction,
// session appends) so nothing outlives a graceful shutdown.
func (o *Orchestrator) Close() {
	o.bg.Wait()
}

// Request is one chat invocation.
type Request struct {
	TenantID    string
	WorkspaceID string
	UserID      string

	Agent     *agent.Agent
	Message   string
	History   []memory.Message
	SessionID string

	// Mode overrides the agent default when non-empty.
	Mode string

	// UserToken routes LLM calls through the caller's own credential for
	// the duration of this request only.
	UserToken string
}

// GraphEntity is one entity surfaced from a graph store.
type GraphEntity struct {
	Name       string         `json:"name"`
	Class      string         `json:"class"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relation is one S --[P]--> O triple surfaced to the user.
type Relation struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// MergedChunk is a chunk after hybrid merging, with its blended score.
type MergedChunk struct {
	ChunkID      string  `json:"chunkId"`
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName,omitempty"`
	ChunkIndex   int     `json:"chunkIndex"`
	Text         string  `json:"text,omitempty"`
	Score        float64 `json:"score"`

	// Source is "vector", "graph" or "both".
	Source string `json:"source"`
}

// Sources is the structured evidence behind an answer.
type Sources struct {
	Chunks        []vector.Chunk `json:"chunks,omitempty"`
	GraphEntities []GraphEntity  `json:"graphEntities,omitempty"`
	GraphChunks   []MergedChunk  `json:"graphChunks,omitempty"`
	Relations     []Relation     `json:"relations,omitempty"`
	Documents     []string       `json:"documents,omitempty"`
}

// Metadata describes how the answer was produced.
type Metadata struct {
	SearchMode  string `json:"searchMode"`
	Cypher      string `json:"cypher,omitempty"`
	SPARQL      string `json:"sparql,omitempty"`
	ResultCount int    `json:"resultCount,omitempty"`

	// QueryFailed is set when synthesis or execution failed after repair;
	// the attempted query is still reported above.
	QueryFailed bool `json:"queryFailed,omitempty"`
}

// Response is the full chat result.
type Response struct {
	Content        string        `json:"content"`
	Sources        Sources       `json:"sources"`
	Metadata       Metadata      `json:"metadata"`
	ContextGraph   *ContextGraph `json:"context_graph,omitempty"`
	ReasoningTrace []string      `json:"reasoning_trace,omitempty"`
}

// Chat executes one request end to end.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Response, error) {
	if req.TenantID == "" || req.WorkspaceID == "" {
		return nil, fault.New(fault.ConfigurationError, "chat requires tenant and workspace")
	}
	if req.Agent == nil {
		return nil, fault.New(fault.ConfigurationError, "chat requires an agent profile")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fault.New(fault.ConfigurationError, "empty message")
	}

	// The per-query token slot lives on the context and dies with it.
	if req.UserToken != "" {
		ctx = llm.WithUserToken(ctx, req.UserToken)
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	memCtx := o.memoryContext(ctx, req)
	docIDs, err := o.resolveFolderScope(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp *Response
	switch mode {
	case ModeRAG:
		resp, err = o.runRAG(ctx, req, docIDs, memCtx)
	case ModeGraph, ModeNeo4j:
		resp, err = o.runGraph(ctx, req, docIDs, memCtx, mode)
	case ModeGraphDB:
		resp, err = o.runGraphDB(ctx, req, memCtx)
	case ModeCompare:
		resp, err = o.runCompare(ctx, req, docIDs, memCtx)
	case ModeHybrid:
		resp, err = o.runHybrid(ctx, req, docIDs, memCtx)
	case ModeUnified:
		resp, err = o.runUnified(ctx, req, docIDs, memCtx)
	default:
		return nil, fault.New(fault.ConfigurationError, "unknown search mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	o.enrichContextGraph(resp)
	o.afterChat(req, resp)
	return resp, nil
}

// memoryContext is best-effort: a memory failure downgrades to an empty
// context, never to a failed chat.
func (o *Orchestrator) memoryContext(ctx context.Context, req Request) string {
	if o.memory == nil || !req.Agent.Settings.MemoryEnabled || req.UserID == "" {
		return ""
	}
	memCtx, err := o.memory.AssembleMemoryContext(ctx, req.Agent.AgentID, req.UserID, req.Message)
	if err != nil {
		o.logger.Warn("memory context unavailable, continuing without",
			zap.String("agent_id", req.Agent.AgentID), zap.Error(err))
		return ""
	}
	return memCtx
}

func (o *Orchestrator) resolveFolderScope(ctx context.Context, req Request) ([]string, error) {
	if len(req.Agent.Folders) == 0 || o.folders == nil {
		return nil, nil
	}
	docIDs, err := o.folders.ResolveFolders(ctx, req.TenantID, req.WorkspaceID, req.Agent.Folders)
	if err != nil {
		// A scoped agent must not silently widen to everything.
		return nil, fault.Wrap(fault.BackendUnavailable, err, "resolving folder scope")
	}
	return docIDs, nil
}

// afterChat runs the fire-and-forget work: session append and memory
// extraction. Bounded by the orchestrator's wait group.
func (o *Orchestrator) afterChat(req Request, resp *Response) {
	if o.memory == nil || req.UserID == "" {
		return
	}
	agentID, userID := req.Agent.AgentID, req.UserID
	memoryEnabled := req.Agent.Settings.MemoryEnabled
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx := context.Background()
		if req.SessionID != "" {
			err := o.memory.AppendToSession(ctx, agentID, userID, req.SessionID,
				memory.Message{Role: "user", Content: req.Message},
				memory.Message{Role: "assistant", Content: resp.Content})
			if err != nil {
				o.logger.Warn("session append failed", zap.Error(err))
			}
		}
		if memoryEnabled {
			if _, err := o.memory.ExtractMemories(ctx, agentID, userID, req.Message, resp.Content, req.SessionID); err != nil {
				o.logger.Warn("post-chat memory extraction failed", zap.Error(err))
			}
		}
	}()
}

const groundingSystemPrompt = `You answer strictly from the supplied context.
If the context does not contain the information, say so explicitly instead of guessing.
Cite document names when they are present in the context.`

// answer generates the grounded reply. The agent perspective and memory
// context ride along in the system prompt.
func (o *Orchestrator) answer(ctx context.Context, req Request, contextText, memCtx string) (string, error) {
	system := groundingSystemPrompt
	if req.Agent.Perspective != "" {
		system = req.Agent.Perspective + "\n\n" + system
	}
	if memCtx != "" {
		system += "\n\nWhat you remember about this user:\n" + memCtx
	}

	var b strings.Builder
	if len(req.History) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range req.History {
			b.WriteString(msg.Role + ": " + msg.Content + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Context:\n" + contextText + "\n\nQuestion: " + req.Message)
	return o.chat.Complete(ctx, system, b.String())
}

func (o *Orchestrator) topK(req Request) int {
	if req.Agent.Settings.TopK > 0 {
		return req.Agent.Settings.TopK
	}
	return defaultTopK
}

func (o *Orchestrator) graphDepth(req Request) int {
	if req.Agent.Settings.GraphDepth > 0 {
		return req.Agent.Settings.GraphDepth
	}
	return defaultGraphDepth
}

func uniqueDocuments(chunks []vector.Chunk) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range chunks {
		name := c.DocumentName
		if name == "" {
			name = c.DocumentID
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Package vector provides the qdrant-backed chunk store adapter.
package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/purplefabric/graphrag/internal/config"
	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/llm"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Large chunk batches can exceed gRPC's 4MB default.
const maxGRPCMessageSize = 32 * 1024 * 1024

var tracer = otel.Tracer("graphrag.store.vector")

var (
	// ErrEmptyQuery indicates an empty search query.
	ErrEmptyQuery = errors.New("empty query")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Chunk is one ranked result of a semantic search.
type Chunk struct {
	ChunkID      string  `json:"chunkId"`
	Text         string  `json:"text"`
	Similarity   float64 `json:"similarity"`
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	ChunkIndex   int     `json:"chunkIndex"`
	PageStart    int     `json:"pageStart,omitempty"`
	PageEnd      int     `json:"pageEnd,omitempty"`
}

// Filters narrow a semantic search. Zero values mean "no constraint" except
// TenantID and WorkspaceID, which every caller must provide.
type Filters struct {
	TenantID    string
	WorkspaceID string
	DocType     string
	ContextType string
	DateFrom    time.Time
	DateTo      time.Time

	// DocumentIDs is an allow-list resolved from the agent's folder set.
	// Empty means all documents in scope.
	DocumentIDs []string
}

// Searcher is the narrow contract the orchestrator depends on.
type Searcher interface {
	SemanticSearch(ctx context.Context, query string, topK int, filters Filters) ([]Chunk, error)
}

// Store implements Searcher against qdrant over gRPC.
type Store struct {
	client     *qdrant.Client
	collection string
	embedder   llm.Embedder
}

// New connects to qdrant and wraps it with the engine's search contract.
func New(cfg config.VectorConfig, embedder llm.Embedder) (*Store, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: collection required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required", ErrInvalidConfig)
	}

	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxGRPCMessageSize),
				grpc.MaxCallSendMsgSize(maxGRPCMessageSize),
			),
		},
	}
	if !cfg.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	return &Store{
		client:     client,
		collection: cfg.Collection,
		embedder:   embedder,
	}, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error { return s.client.Close() }

// CheckConnection verifies the qdrant server is reachable.
func (s *Store) CheckConnection(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "qdrant health check")
	}
	return nil
}

// SemanticSearch embeds the query and returns the topK most similar chunks
// within the tenant/workspace scope, ranked by cosine similarity.
func (s *Store) SemanticSearch(ctx context.Context, query string, topK int, filters Filters) ([]Chunk, error) {
	ctx, span := tracer.Start(ctx, "vector.SemanticSearch")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", s.collection),
		attribute.Int("top_k", topK),
	)

	if query == "" {
		return nil, ErrEmptyQuery
	}
	if filters.TenantID == "" || filters.WorkspaceID == "" {
		return nil, fault.New(fault.ConfigurationError, "semantic search requires tenant and workspace")
	}
	if topK <= 0 {
		topK = 10
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(filters),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fault.Wrap(fault.BackendUnavailable, err, "qdrant query")
	}

	chunks := make([]Chunk, 0, len(res))
	for _, point := range res {
		chunks = append(chunks, pointToChunk(point))
	}
	return chunks, nil
}

// buildFilter compiles the engine filters into qdrant must-clauses.
func buildFilter(f Filters) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch("tenant_id", f.TenantID),
		qdrant.NewMatch("workspace_id", f.WorkspaceID),
	}
	if f.DocType != "" {
		must = append(must, qdrant.NewMatch("doc_type", f.DocType))
	}
	if f.ContextType != "" {
		must = append(must, qdrant.NewMatch("context_type", f.ContextType))
	}
	if len(f.DocumentIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords("doc_id", f.DocumentIDs...))
	}
	if !f.DateFrom.IsZero() || !f.DateTo.IsZero() {
		rng := &qdrant.Range{}
		if !f.DateFrom.IsZero() {
			rng.Gte = qdrant.PtrOf(float64(f.DateFrom.Unix()))
		}
		if !f.DateTo.IsZero() {
			rng.Lte = qdrant.PtrOf(float64(f.DateTo.Unix()))
		}
		must = append(must, qdrant.NewRange("created_at", rng))
	}
	return &qdrant.Filter{Must: must}
}

func pointToChunk(point *qdrant.ScoredPoint) Chunk {
	c := Chunk{Similarity: float64(point.GetScore())}
	payload := point.GetPayload()

	c.ChunkID = payloadString(payload, "chunk_id")
	if c.ChunkID == "" {
		c.ChunkID = point.GetId().GetUuid()
	}
	c.Text = payloadString(payload, "text")
	c.DocumentID = payloadString(payload, "doc_id")
	c.DocumentName = payloadString(payload, "document_name")
	c.ChunkIndex = int(payloadInt(payload, "chunk_index"))
	c.PageStart = int(payloadInt(payload, "page_start"))
	c.PageEnd = int(payloadInt(payload, "page_end"))
	return c
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func payloadInt(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

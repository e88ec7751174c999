package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
)

// IngestChunk is one document chunk to index.
type IngestChunk struct {
	ChunkID      string
	Text         string
	DocumentID   string
	DocumentName string
	DocType      string
	ChunkIndex   int
	PageStart    int
	PageEnd      int
	TenantID     string
	WorkspaceID  string
	CreatedAt    int64
}

// UpsertChunks embeds and writes chunks into the collection. Point IDs are
// derived from chunk IDs so re-ingesting a document is idempotent.
func (s *Store) UpsertChunks(ctx context.Context, chunks []IngestChunk) error {
	ctx, span := tracer.Start(ctx, "vector.UpsertChunks")
	defer span.End()
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fault.New(fault.SchemaMismatch, "embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.ChunkID)).String()),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"chunk_id":      c.ChunkID,
				"text":          c.Text,
				"doc_id":        c.DocumentID,
				"document_name": c.DocumentName,
				"doc_type":      c.DocType,
				"chunk_index":   c.ChunkIndex,
				"page_start":    c.PageStart,
				"page_end":      c.PageEnd,
				"tenant_id":     c.TenantID,
				"workspace_id":  c.WorkspaceID,
				"created_at":    c.CreatedAt,
			}),
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "qdrant upsert")
	}
	return nil
}

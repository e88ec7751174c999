package kv

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// FieldType enumerates the index field kinds the engine uses.
type FieldType string

const (
	FieldTag     FieldType = "tag"
	FieldText    FieldType = "text"
	FieldNumeric FieldType = "numeric"
	FieldVector  FieldType = "vector"
)

// Field describes one indexed attribute of a JSON document.
type Field struct {
	Name string
	Type FieldType
}

// IndexSpec describes a RediSearch index over JSON documents.
type IndexSpec struct {
	Name   string
	Prefix string
	Fields []Field

	// VectorDim is the dimensionality of the single vector field, if any.
	VectorDim int
}

// KNNHit is one result of a vector search.
type KNNHit struct {
	Key string
	// Similarity is cosine similarity in [0,1], derived from the index's
	// cosine distance.
	Similarity float64
}

// JSONSet stores value as a JSON document at key (root path).
func (s *Store) JSONSet(ctx context.Context, key string, value any) error {
	if err := s.rdb.JSONSet(ctx, key, "$", value).Err(); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "json set %s", key)
	}
	return nil
}

// JSONGet loads the JSON document at key into dest.
func (s *Store) JSONGet(ctx context.Context, key string, dest any) error {
	raw, err := s.rdb.JSONGet(ctx, key, "$").Result()
	if err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "json get %s", key)
	}
	if raw == "" {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	// Root-path results come wrapped in a one-element array.
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	if len(elems) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return json.Unmarshal(elems[0], dest)
}

// EnsureVectorIndex creates the index if absent, and recreates it when the
// live attribute set diverges from the spec. Indexing is asynchronous on the
// server side; freshly written documents become searchable shortly after.
func (s *Store) EnsureVectorIndex(ctx context.Context, spec IndexSpec) error {
	ctx, span := tracer.Start(ctx, "kv.EnsureVectorIndex")
	defer span.End()
	span.SetAttributes(attribute.String("index", spec.Name))

	info, err := s.rdb.FTInfo(ctx, spec.Name).Result()
	if err == nil {
		if attributesMatch(info, spec) {
			return nil
		}
		if err := s.rdb.FTDropIndex(ctx, spec.Name).Err(); err != nil {
			return fault.Wrap(fault.BackendUnavailable, err, "dropping index %s", spec.Name)
		}
	}
	return s.createIndex(ctx, spec)
}

func attributesMatch(info redis.FTInfoResult, spec IndexSpec) bool {
	live := make(map[string]bool, len(info.Attributes))
	for _, attr := range info.Attributes {
		live[attr.Attribute] = true
	}
	if len(live) != len(spec.Fields) {
		return false
	}
	for _, f := range spec.Fields {
		if !live[f.Name] {
			return false
		}
	}
	return true
}

func (s *Store) createIndex(ctx context.Context, spec IndexSpec) error {
	schema := make([]*redis.FieldSchema, 0, len(spec.Fields))
	for _, f := range spec.Fields {
		fs := &redis.FieldSchema{
			FieldName: "$." + f.Name,
			As:        f.Name,
		}
		switch f.Type {
		case FieldTag:
			fs.FieldType = redis.SearchFieldTypeTag
		case FieldText:
			fs.FieldType = redis.SearchFieldTypeText
		case FieldNumeric:
			fs.FieldType = redis.SearchFieldTypeNumeric
			fs.Sortable = true
		case FieldVector:
			fs.FieldType = redis.SearchFieldTypeVector
			fs.VectorArgs = &redis.FTVectorArgs{
				HNSWOptions: &redis.FTHNSWOptions{
					Type:           "FLOAT32",
					Dim:            spec.VectorDim,
					DistanceMetric: "COSINE",
				},
			}
		default:
			return fmt.Errorf("unknown field type %q", f.Type)
		}
		schema = append(schema, fs)
	}

	opts := &redis.FTCreateOptions{
		OnJSON: true,
		Prefix: []any{spec.Prefix},
	}
	if err := s.rdb.FTCreate(ctx, spec.Name, opts, schema...).Err(); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "creating index %s", spec.Name)
	}
	return nil
}

// KNNSearch runs a cosine KNN query against the index's vector field named
// "embedding", constrained by exact-match tag filters.
func (s *Store) KNNSearch(ctx context.Context, index string, vector []float32, k int, tags map[string]string) ([]KNNHit, error) {
	ctx, span := tracer.Start(ctx, "kv.KNNSearch")
	defer span.End()
	span.SetAttributes(attribute.String("index", index), attribute.Int("k", k))

	filter := "*"
	if len(tags) > 0 {
		names := make([]string, 0, len(tags))
		for name := range tags {
			names = append(names, name)
		}
		sort.Strings(names)
		clauses := make([]string, 0, len(names))
		for _, name := range names {
			clauses = append(clauses, fmt.Sprintf("@%s:{%s}", name, escapeTag(tags[name])))
		}
		filter = "(" + strings.Join(clauses, " ") + ")"
	}

	query := fmt.Sprintf("%s=>[KNN %d @embedding $vec AS dist]", filter, k)
	res, err := s.rdb.FTSearchWithArgs(ctx, index, query, &redis.FTSearchOptions{
		Params:         map[string]any{"vec": encodeVector(vector)},
		DialectVersion: 2,
		SortBy:         []redis.FTSearchSortBy{{FieldName: "dist", Asc: true}},
		Return:         []redis.FTSearchReturn{{FieldName: "dist"}},
		LimitOffset:    0,
		Limit:          k,
	}).Result()
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "knn search %s", index)
	}

	hits := make([]KNNHit, 0, len(res.Docs))
	for _, doc := range res.Docs {
		dist, err := strconv.ParseFloat(doc.Fields["dist"], 64)
		if err != nil {
			continue
		}
		hits = append(hits, KNNHit{Key: doc.ID, Similarity: clampSimilarity(1 - dist)})
	}
	return hits, nil
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func clampSimilarity(sim float64) float64 {
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// escapeTag escapes characters RediSearch treats as syntax inside tag values.
func escapeTag(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case ',', '.', '<', '>', '{', '}', '[', ']', '"', '\'', ':', ';', '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '-', '+', '=', '~', ' ', '|', '/':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

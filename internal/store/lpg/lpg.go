// Package lpg provides the neo4j-backed labeled-property-graph adapter.
package lpg

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/purplefabric/graphrag/internal/config"
	"github.com/purplefabric/graphrag/internal/fault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("graphrag.store.lpg")

// ErrEmptyQuery indicates an empty Cypher query.
var ErrEmptyQuery = errors.New("empty cypher query")

// Row is one ordered result row keyed by returned column name.
type Row struct {
	Columns []string
	Values  []any
}

// Runner is the narrow contract the generator and writer depend on.
type Runner interface {
	RunCypher(ctx context.Context, cypher string, params map[string]any) ([]Row, error)
}

// Store implements Runner against neo4j.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	cache    schemaCache
}

// New connects to neo4j. The driver verifies connectivity lazily; call
// CheckConnection to probe it.
func New(cfg config.LPGConfig) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("lpg uri required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password.Value(), ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	return &Store{driver: driver, database: cfg.Database}, nil
}

// Close releases the driver and its connection pool.
func (s *Store) Close(ctx context.Context) error { return s.driver.Close(ctx) }

// CheckConnection verifies the server is reachable.
func (s *Store) CheckConnection(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "neo4j connectivity")
	}
	return nil
}

// RunCypher executes a query in its own session. The session is closed on
// every exit path, including panics inside result consumption.
func (s *Store) RunCypher(ctx context.Context, cypher string, params map[string]any) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "lpg.RunCypher")
	defer span.End()

	if cypher == "" {
		return nil, ErrEmptyQuery
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer func() { _ = session.Close(ctx) }()

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fault.Wrap(fault.QueryExecutionFailed, err, "running cypher")
	}

	var rows []Row
	for result.Next(ctx) {
		record := result.Record()
		values := make([]any, len(record.Values))
		for i, v := range record.Values {
			values[i] = normalize(v)
		}
		rows = append(rows, Row{Columns: record.Keys, Values: values})
	}
	if err := result.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fault.Wrap(fault.QueryExecutionFailed, err, "consuming cypher result")
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}

// normalize maps driver types onto primitives: nodes and relationships
// flatten to property maps, temporal and numeric types keep their Go
// representation.
func normalize(value any) any {
	switch v := value.(type) {
	case dbtype.Node:
		props := make(map[string]any, len(v.Props)+1)
		for k, p := range v.Props {
			props[k] = normalize(p)
		}
		props["_labels"] = v.Labels
		return props
	case dbtype.Relationship:
		props := make(map[string]any, len(v.Props)+1)
		for k, p := range v.Props {
			props[k] = normalize(p)
		}
		props["_type"] = v.Type
		return props
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}

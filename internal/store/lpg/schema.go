package lpg

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// schemaCacheTTL bounds how stale the introspected schema may get.
const schemaCacheTTL = 2 * time.Minute

// RelationshipPattern is a direction-exact sample of one relationship type.
type RelationshipPattern struct {
	Type      string `json:"type"`
	FromLabel string `json:"fromLabel"`
	ToLabel   string `json:"toLabel"`
	// Pattern is the Cypher rendering, e.g. (:Person)-[:WORKS_FOR]->(:Company).
	Pattern string `json:"pattern"`
}

// Schema describes the graph's shape for query priming.
type Schema struct {
	Labels        []string              `json:"labels"`
	Relationships []RelationshipPattern `json:"relationships"`

	// PropertySamples maps label -> property name -> up to three sample values.
	PropertySamples map[string]map[string][]string `json:"propertySamples"`
}

// SchemaProvider is implemented by anything that can describe the graph.
type SchemaProvider interface {
	GetSchema(ctx context.Context) (*Schema, error)
}

type schemaCache struct {
	mu        sync.RWMutex
	schema    *Schema
	fetchedAt time.Time
}

// GetSchema introspects labels, relationship types with directions, and
// sample property values. Results are cached process-locally for two
// minutes with last-writer-wins refresh.
func (s *Store) GetSchema(ctx context.Context) (*Schema, error) {
	s.cache.mu.RLock()
	if s.cache.schema != nil && time.Since(s.cache.fetchedAt) < schemaCacheTTL {
		cached := s.cache.schema
		s.cache.mu.RUnlock()
		return cached, nil
	}
	s.cache.mu.RUnlock()

	schema, err := s.introspect(ctx)
	if err != nil {
		return nil, err
	}

	s.cache.mu.Lock()
	s.cache.schema = schema
	s.cache.fetchedAt = time.Now()
	s.cache.mu.Unlock()
	return schema, nil
}

func (s *Store) introspect(ctx context.Context) (*Schema, error) {
	schema := &Schema{PropertySamples: make(map[string]map[string][]string)}

	rows, err := s.RunCypher(ctx, "CALL db.labels() YIELD label RETURN label ORDER BY label", nil)
	if err != nil {
		return nil, fmt.Errorf("introspecting labels: %w", err)
	}
	for _, row := range rows {
		if label, ok := row.Values[0].(string); ok {
			schema.Labels = append(schema.Labels, label)
		}
	}

	rows, err = s.RunCypher(ctx,
		"CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType ORDER BY relationshipType", nil)
	if err != nil {
		return nil, fmt.Errorf("introspecting relationship types: %w", err)
	}
	for _, row := range rows {
		relType, ok := row.Values[0].(string)
		if !ok {
			continue
		}
		pattern, err := s.sampleRelationship(ctx, relType)
		if err != nil {
			// A type with no live instances still appears without a pattern.
			pattern = RelationshipPattern{Type: relType}
		}
		schema.Relationships = append(schema.Relationships, pattern)
	}

	for _, label := range schema.Labels {
		samples, err := s.sampleProperties(ctx, label)
		if err != nil {
			continue
		}
		if len(samples) > 0 {
			schema.PropertySamples[label] = samples
		}
	}
	return schema, nil
}

func (s *Store) sampleRelationship(ctx context.Context, relType string) (RelationshipPattern, error) {
	cypher := fmt.Sprintf(
		"MATCH (a)-[r:`%s`]->(b) RETURN labels(a)[0] AS fromLabel, labels(b)[0] AS toLabel LIMIT 1", relType)
	rows, err := s.RunCypher(ctx, cypher, nil)
	if err != nil || len(rows) == 0 {
		return RelationshipPattern{}, fmt.Errorf("no sample for %s", relType)
	}
	from, _ := rows[0].Values[0].(string)
	to, _ := rows[0].Values[1].(string)
	return RelationshipPattern{
		Type:      relType,
		FromLabel: from,
		ToLabel:   to,
		Pattern:   fmt.Sprintf("(:%s)-[:%s]->(:%s)", from, relType, to),
	}, nil
}

func (s *Store) sampleProperties(ctx context.Context, label string) (map[string][]string, error) {
	cypher := fmt.Sprintf("MATCH (n:`%s`) RETURN n LIMIT 3", label)
	rows, err := s.RunCypher(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	samples := make(map[string][]string)
	for _, row := range rows {
		props, ok := row.Values[0].(map[string]any)
		if !ok {
			continue
		}
		for name, value := range props {
			if name == "_labels" {
				continue
			}
			str := fmt.Sprintf("%v", value)
			if len(str) > 80 {
				str = str[:80]
			}
			if len(samples[name]) < 3 && !contains(samples[name], str) {
				samples[name] = append(samples[name], str)
			}
		}
	}
	return samples, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package vkg stores virtual-knowledge-graph mappings: named bindings from
// a mapping id to a federated SQL catalog and schema. Agents reference
// mappings by id in their VKG allow-list.
package vkg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/store/kv"
)

// ErrMappingNotFound indicates an unknown mapping id.
var ErrMappingNotFound = errors.New("vkg mapping not found")

// Mapping binds a mapping id to a catalog and schema on the federator.
type Mapping struct {
	ID          string `json:"id"`
	Catalog     string `json:"catalog"`
	Schema      string `json:"schema,omitempty"`
	Description string `json:"description,omitempty"`
}

// Store persists mappings in KV.
type Store struct {
	kv *kv.Store
}

// NewStore builds the mapping store.
func NewStore(store *kv.Store) *Store {
	return &Store{kv: store}
}

func mappingKey(id string) string { return "vkg:mappings:" + id }

// Save writes a mapping.
func (s *Store) Save(ctx context.Context, m Mapping) error {
	if m.ID == "" || m.Catalog == "" {
		return fault.New(fault.ConfigurationError, "vkg mapping requires id and catalog")
	}
	return s.kv.SetJSON(ctx, mappingKey(m.ID), m, 0)
}

// Get resolves a mapping by id.
func (s *Store) Get(ctx context.Context, id string) (*Mapping, error) {
	var m Mapping
	err := s.kv.GetJSON(ctx, mappingKey(id), &m)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMappingNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns every stored mapping, ordered by id.
func (s *Store) List(ctx context.Context) ([]Mapping, error) {
	keys, err := s.kv.Scan(ctx, mappingKey("*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	out := make([]Mapping, 0, len(keys))
	for _, key := range keys {
		var m Mapping
		if err := s.kv.GetJSON(ctx, key, &m); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Delete removes a mapping.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.kv.Del(ctx, mappingKey(id))
}

// Resolve maps a VKG database reference to (catalog, schema). References
// without a stored mapping fall back to being used as the catalog name
// directly, so plain catalog names keep working.
func (s *Store) Resolve(ctx context.Context, ref string) (catalog, schema string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fault.New(fault.ConfigurationError, "empty vkg reference")
	}
	m, err := s.Get(ctx, ref)
	if errors.Is(err, ErrMappingNotFound) {
		return ref, "", nil
	}
	if err != nil {
		return "", "", err
	}
	return m.Catalog, m.Schema, nil
}

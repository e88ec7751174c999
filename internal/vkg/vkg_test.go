package vkg

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/store/kv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewStore(kv.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
}

func TestMappingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, Mapping{ID: "crm", Catalog: "crm_prod", Schema: "public"}))
	require.NoError(t, s.Save(ctx, Mapping{ID: "billing", Catalog: "billing_prod"}))

	m, err := s.Get(ctx, "crm")
	require.NoError(t, err)
	assert.Equal(t, "crm_prod", m.Catalog)
	assert.Equal(t, "public", m.Schema)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "billing", all[0].ID)
	assert.Equal(t, "crm", all[1].ID)

	require.NoError(t, s.Delete(ctx, "billing"))
	_, err = s.Get(ctx, "billing")
	assert.ErrorIs(t, err, ErrMappingNotFound)
}

func TestSaveValidation(t *testing.T) {
	s := newTestStore(t)
	err := s.Save(context.Background(), Mapping{ID: "", Catalog: "x"})
	assert.Equal(t, fault.ConfigurationError, fault.KindOf(err))
	err = s.Save(context.Background(), Mapping{ID: "x"})
	assert.Equal(t, fault.ConfigurationError, fault.KindOf(err))
}

func TestResolve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Mapping{ID: "crm", Catalog: "crm_prod", Schema: "public"}))

	catalog, schema, err := s.Resolve(ctx, "crm")
	require.NoError(t, err)
	assert.Equal(t, "crm_prod", catalog)
	assert.Equal(t, "public", schema)

	// Unmapped references pass through as the catalog name.
	catalog, schema, err = s.Resolve(ctx, "warehouse")
	require.NoError(t, err)
	assert.Equal(t, "warehouse", catalog)
	assert.Empty(t, schema)

	_, _, err = s.Resolve(ctx, "  ")
	assert.Equal(t, fault.ConfigurationError, fault.KindOf(err))
}

package agent

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

type recordingCleaner struct {
	calls [][3]string
}

func (r *recordingCleaner) ClearAllAgentData(_ context.Context, tenant, workspace, agentID string) error {
	r.calls = append(r.calls, [3]string{tenant, workspace, agentID})
	return nil
}

func newTestService(t *testing.T) (*Service, *recordingCleaner) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	cleaner := &recordingCleaner{}
	return NewService(store, cleaner, nil), cleaner
}

func TestCreateAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := &Agent{
		TenantID:    "acme",
		WorkspaceID: "ws1",
		AgentID:     "support-bot",
		Name:        "Support Bot",
		Folders:     []string{"contracts"},
	}
	require.NoError(t, svc.Create(ctx, a))

	got, err := svc.Get(ctx, "acme", "ws1", "support-bot")
	require.NoError(t, err)
	assert.Equal(t, "Support Bot", got.Name)
	assert.Equal(t, []string{"contracts"}, got.Folders)
	assert.Equal(t, DefaultSettings(), got.Settings, "empty settings take defaults")
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetMissing(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "acme", "ws1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Create(ctx, &Agent{TenantID: "acme", WorkspaceID: "ws1", AgentID: "a", Name: ""})
	assert.Equal(t, fault.ConfigurationError, fault.KindOf(err))

	err = svc.Create(ctx, &Agent{TenantID: "", WorkspaceID: "ws1", AgentID: "a", Name: "x"})
	assert.Equal(t, fault.ConfigurationError, fault.KindOf(err))
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := &Agent{TenantID: "acme", WorkspaceID: "ws1", AgentID: "a1", Name: "v1"}
	require.NoError(t, svc.Create(ctx, a))
	created := a.CreatedAt

	a.Name = "v2"
	a.Settings.TopK = 9
	require.NoError(t, svc.Update(ctx, a))

	got, err := svc.Get(ctx, "acme", "ws1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)
	assert.Equal(t, 9, got.Settings.TopK)
	assert.Equal(t, created.Unix(), got.CreatedAt.Unix())
}

func TestListScopedToWorkspace(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, svc.Create(ctx, &Agent{TenantID: "acme", WorkspaceID: "ws1", AgentID: id, Name: id}))
	}
	require.NoError(t, svc.Create(ctx, &Agent{TenantID: "acme", WorkspaceID: "ws2", AgentID: "other", Name: "other"}))

	agents, err := svc.List(ctx, "acme", "ws1")
	require.NoError(t, err)
	assert.Len(t, agents, 2)
	for _, a := range agents {
		assert.Equal(t, "ws1", a.WorkspaceID)
	}
}

func TestDeleteCascades(t *testing.T) {
	svc, cleaner := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, &Agent{TenantID: "acme", WorkspaceID: "ws1", AgentID: "a1", Name: "x"}))
	require.NoError(t, svc.Delete(ctx, "acme", "ws1", "a1"))

	_, err := svc.Get(ctx, "acme", "ws1", "a1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.Len(t, cleaner.calls, 1)
	assert.Equal(t, [3]string{"acme", "ws1", "a1"}, cleaner.calls[0])
}

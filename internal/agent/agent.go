// Package agent manages agent profiles and their lifecycle.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/store/kv"
	"go.uber.org/zap"
)

// ErrNotFound is returned when an agent does not exist.
var ErrNotFound = errors.New("agent not found")

// Settings tunes per-agent retrieval behavior.
type Settings struct {
	TopK          int  `json:"topK"`
	GraphDepth    int  `json:"graphDepth"`
	MemoryEnabled bool `json:"memoryEnabled"`
}

// Agent is one configured agent within a (tenant, workspace).
type Agent struct {
	TenantID    string `json:"tenantId"`
	WorkspaceID string `json:"workspaceId"`
	AgentID     string `json:"agentId"`

	Name string `json:"name"`

	// Perspective is the agent's system-prompt text.
	Perspective string `json:"perspective,omitempty"`

	// Folders resolve to a document-id filter at query time.
	Folders []string `json:"folders,omitempty"`

	// KnowledgeGraphs are the attached ontology ids.
	KnowledgeGraphs []string `json:"knowledgeGraphs,omitempty"`

	// VKGDatabases is the allow-list of federated catalogs.
	VKGDatabases []string `json:"vkgDatabases,omitempty"`

	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultSettings returns the retrieval defaults applied to new agents.
func DefaultSettings() Settings {
	return Settings{TopK: 5, GraphDepth: 2, MemoryEnabled: true}
}

// MemoryCleaner removes agent-scoped memory state on agent deletion.
// Implemented by the memory store; user-scoped memories survive.
type MemoryCleaner interface {
	ClearAllAgentData(ctx context.Context, tenant, workspace, agentID string) error
}

// Service provides agent CRUD on the KV store.
type Service struct {
	store   *kv.Store
	cleaner MemoryCleaner
	logger  *zap.Logger
}

// NewService creates the agent service. cleaner may be nil in contexts
// without a memory store.
func NewService(store *kv.Store, cleaner MemoryCleaner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, cleaner: cleaner, logger: logger.Named("agent")}
}

func agentKey(tenant, workspace, agentID string) string {
	return fmt.Sprintf("agent:%s:%s:%s", tenant, workspace, agentID)
}

func validateScope(tenant, workspace, agentID string) error {
	if tenant == "" || workspace == "" || agentID == "" {
		return fault.New(fault.ConfigurationError, "agent scope requires tenant, workspace and agent id")
	}
	return nil
}

// Create stores a new agent profile.
func (s *Service) Create(ctx context.Context, a *Agent) error {
	if err := validateScope(a.TenantID, a.WorkspaceID, a.AgentID); err != nil {
		return err
	}
	if a.Name == "" {
		return fault.New(fault.ConfigurationError, "agent name is required")
	}
	if a.Settings == (Settings{}) {
		a.Settings = DefaultSettings()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	return s.store.SetJSON(ctx, agentKey(a.TenantID, a.WorkspaceID, a.AgentID), a, 0)
}

// Get loads an agent profile.
func (s *Service) Get(ctx context.Context, tenant, workspace, agentID string) (*Agent, error) {
	if err := validateScope(tenant, workspace, agentID); err != nil {
		return nil, err
	}
	var a Agent
	err := s.store.GetJSON(ctx, agentKey(tenant, workspace, agentID), &a)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Update overwrites mutable fields, preserving creation time.
func (s *Service) Update(ctx context.Context, a *Agent) error {
	existing, err := s.Get(ctx, a.TenantID, a.WorkspaceID, a.AgentID)
	if err != nil {
		return err
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	return s.store.SetJSON(ctx, agentKey(a.TenantID, a.WorkspaceID, a.AgentID), a, 0)
}

// List returns all agents in a workspace.
func (s *Service) List(ctx context.Context, tenant, workspace string) ([]*Agent, error) {
	if tenant == "" || workspace == "" {
		return nil, fault.New(fault.ConfigurationError, "listing agents requires tenant and workspace")
	}
	keys, err := s.store.Scan(ctx, fmt.Sprintf("agent:%s:%s:*", tenant, workspace))
	if err != nil {
		return nil, err
	}
	agents := make([]*Agent, 0, len(keys))
	for _, key := range keys {
		var a Agent
		if err := s.store.GetJSON(ctx, key, &a); err != nil {
			s.logger.Warn("skipping unreadable agent record", zap.String("key", key), zap.Error(err))
			continue
		}
		agents = append(agents, &a)
	}
	return agents, nil
}

// Delete removes the agent and cascades to agent-scoped memories, sessions,
// and core blocks. Memory cleanup failure is logged, not fatal: the profile
// is already gone and user-scoped memories survive by design of the scoping.
func (s *Service) Delete(ctx context.Context, tenant, workspace, agentID string) error {
	if err := validateScope(tenant, workspace, agentID); err != nil {
		return err
	}
	if err := s.store.Del(ctx, agentKey(tenant, workspace, agentID)); err != nil {
		return err
	}
	if s.cleaner != nil {
		if err := s.cleaner.ClearAllAgentData(ctx, tenant, workspace, agentID); err != nil {
			s.logger.Error("agent memory cleanup failed",
				zap.String("agent_id", agentID), zap.Error(err))
		}
	}
	return nil
}

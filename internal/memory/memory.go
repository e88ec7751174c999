// Package memory implements the dual-pool long-term memory store.
//
// Memories live in two RediSearch vector indexes: an agent pool scoped by
// (agent_id, user_id) and a user pool scoped by user_id alone. Preference
// and decision memories always land in the user pool so they follow the
// user across agents.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/purplefabric/graphrag/internal/config"
	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/llm"
	"github.com/purplefabric/graphrag/internal/store/kv"
	"go.uber.org/zap"
)

// ErrMemoryNotFound is returned when an id exists in neither pool.
var ErrMemoryNotFound = errors.New("memory not found")

// Pool identifies which memory pool a record belongs to.
type Pool string

const (
	PoolAgent Pool = "agent"
	PoolUser  Pool = "user"
)

// Type classifies a memory record.
type Type string

const (
	TypeSemantic   Type = "semantic"
	TypeEvent      Type = "event"
	TypePreference Type = "preference"
	TypeDecision   Type = "decision"
)

const (
	StatusActive  = "active"
	StatusInvalid = "invalid"

	agentIndexName = "idx:agent_memories"
	userIndexName  = "idx:user_memories"

	agentKeyPrefix = "memory:agent:"
	userKeyPrefix  = "memory:user:"

	defaultRecallTopK    = 5
	defaultMinSimilarity = 0.3
)

// PoolFor returns the pool a memory type is routed to. The mapping is
// fixed: a record never exists in both pools.
func PoolFor(t Type) Pool {
	switch t {
	case TypePreference, TypeDecision:
		return PoolUser
	default:
		return PoolAgent
	}
}

// Memory is one stored memory record.
type Memory struct {
	MemoryID string `json:"memory_id"`
	AgentID  string `json:"agent_id"`
	UserID   string `json:"user_id"`
	Type     Type   `json:"type"`
	Pool     Pool   `json:"pool"`

	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
	Status     string  `json:"status"`

	CreatedAt    int64 `json:"created_at"`
	LastAccessed int64 `json:"last_accessed"`
	AccessCount  int   `json:"access_count"`

	// Embedding is absent when embedding failed at write time; such
	// records are stored but invisible to KNN recall.
	Embedding []float32 `json:"embedding,omitempty"`

	Tags            []string `json:"tags,omitempty"`
	SourceSessionID string   `json:"source_session_id,omitempty"`
}

func (m *Memory) key() string {
	if m.Pool == PoolUser {
		return userMemoryKey(m.UserID, m.MemoryID)
	}
	return agentMemoryKey(m.AgentID, m.UserID, m.MemoryID)
}

func agentMemoryKey(agent, user, id string) string {
	return fmt.Sprintf("%s%s:%s:%s", agentKeyPrefix, agent, user, id)
}

func userMemoryKey(user, id string) string {
	return fmt.Sprintf("%s%s:%s", userKeyPrefix, user, id)
}

// Recalled is a memory returned from KNN search with its similarity.
type Recalled struct {
	Memory
	Similarity float64
}

// vectorIndex is the RediSearch surface the store needs. Satisfied by
// *kv.Store; faked in tests since miniredis has no FT or JSON modules.
type vectorIndex interface {
	EnsureVectorIndex(ctx context.Context, spec kv.IndexSpec) error
	JSONSet(ctx context.Context, key string, value any) error
	JSONGet(ctx context.Context, key string, dest any) error
	KNNSearch(ctx context.Context, index string, vector []float32, k int, tags map[string]string) ([]kv.KNNHit, error)
}

// Store is the dual-pool memory store.
type Store struct {
	kv       *kv.Store
	idx      vectorIndex
	embedder llm.Embedder
	chat     llm.Chat
	cfg      config.MemoryConfig
	dim      int
	logger   *zap.Logger

	mu      sync.Mutex
	indexed bool

	bg sync.WaitGroup
}

// NewStore builds a memory store on the KV adapter. dim is the embedding
// dimensionality used for the vector indexes.
func NewStore(store *kv.Store, embedder llm.Embedder, chat llm.Chat, cfg config.MemoryConfig, dim int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecallTopK <= 0 {
		cfg.RecallTopK = defaultRecallTopK
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = defaultMinSimilarity
	}
	return &Store{
		kv:       store,
		idx:      store,
		embedder: embedder,
		chat:     chat,
		cfg:      cfg,
		dim:      dim,
		logger:   logger.Named("memory"),
	}
}

// Close waits for in-flight background work (access bumps, post-chat
// extraction) to finish.
func (s *Store) Close() {
	s.bg.Wait()
}

func indexSpec(name, prefix string, dim int) kv.IndexSpec {
	return kv.IndexSpec{
		Name:   name,
		Prefix: prefix,
		Fields: []kv.Field{
			{Name: "agent_id", Type: kv.FieldTag},
			{Name: "user_id", Type: kv.FieldTag},
			{Name: "type", Type: kv.FieldTag},
			{Name: "status", Type: kv.FieldTag},
			{Name: "importance", Type: kv.FieldNumeric},
			{Name: "created_at", Type: kv.FieldNumeric},
			{Name: "last_accessed", Type: kv.FieldNumeric},
			{Name: "embedding", Type: kv.FieldVector},
		},
		VectorDim: dim,
	}
}

// ensureIndexes creates both pool indexes on first use. The KV adapter
// drops and recreates an index whose field set diverged.
func (s *Store) ensureIndexes(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexed {
		return nil
	}
	for _, spec := range []kv.IndexSpec{
		indexSpec(agentIndexName, agentKeyPrefix, s.dim),
		indexSpec(userIndexName, userKeyPrefix, s.dim),
	} {
		if err := s.idx.EnsureVectorIndex(ctx, spec); err != nil {
			return err
		}
	}
	s.indexed = true
	return nil
}

// AddInput is the caller-supplied part of a new memory.
type AddInput struct {
	Type            Type
	Content         string
	Importance      float64
	Tags            []string
	SourceSessionID string
}

// AddMemory embeds and stores a memory in the pool its type routes to.
// Embedding failure is non-fatal: the record is stored without a vector.
func (s *Store) AddMemory(ctx context.Context, agent, user string, in AddInput) (*Memory, error) {
	if agent == "" || user == "" {
		return nil, fault.New(fault.ConfigurationError, "memory requires agent and user ids")
	}
	if in.Content == "" {
		return nil, fault.New(fault.ValidationFailed, "memory content is empty")
	}
	switch in.Type {
	case TypeSemantic, TypeEvent, TypePreference, TypeDecision:
	default:
		return nil, fault.New(fault.ValidationFailed, "unknown memory type %q", in.Type)
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	m := &Memory{
		MemoryID:        uuid.NewString(),
		AgentID:         agent,
		UserID:          user,
		Type:            in.Type,
		Pool:            PoolFor(in.Type),
		Content:         in.Content,
		Importance:      clamp01(in.Importance),
		Status:          StatusActive,
		CreatedAt:       now,
		LastAccessed:    now,
		Tags:            in.Tags,
		SourceSessionID: in.SourceSessionID,
	}

	if vec, err := s.embedder.EmbedQuery(ctx, in.Content); err != nil {
		s.logger.Warn("memory stored without embedding",
			zap.String("memory_id", m.MemoryID), zap.Error(err))
	} else {
		m.Embedding = vec
	}

	if err := s.idx.JSONSet(ctx, m.key(), m); err != nil {
		return nil, err
	}
	// Stale graph cache is cheaper to drop than to patch.
	_ = s.kv.Del(ctx, memoryGraphKey(agent, user))
	return m, nil
}

// GetMemory looks an id up in the agent pool first, then the user pool.
func (s *Store) GetMemory(ctx context.Context, agent, user, id string) (*Memory, error) {
	var m Memory
	err := s.idx.JSONGet(ctx, agentMemoryKey(agent, user, id), &m)
	if errors.Is(err, kv.ErrNotFound) {
		err = s.idx.JSONGet(ctx, userMemoryKey(user, id), &m)
	}
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMemoryNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMemory removes a record from whichever pool holds it.
func (s *Store) DeleteMemory(ctx context.Context, agent, user, id string) error {
	m, err := s.GetMemory(ctx, agent, user, id)
	if err != nil {
		return err
	}
	if err := s.kv.Del(ctx, m.key()); err != nil {
		return err
	}
	_ = s.kv.Del(ctx, memoryGraphKey(agent, user))
	return nil
}

// SearchMemories runs KNN over both pools, unions the hits, drops
// similarity below the floor and returns the topK best. Access counts on
// returned memories are bumped in the background.
func (s *Store) SearchMemories(ctx context.Context, agent, user, query string, topK int) ([]Recalled, error) {
	return s.search(ctx, agent, user, query, topK, true)
}

// search is SearchMemories with the access bump optional. Consolidation
// lookups pass bump=false so they never count as recalls and never race
// with an invalidation write.
func (s *Store) search(ctx context.Context, agent, user, query string, topK int, bump bool) ([]Recalled, error) {
	if topK <= 0 {
		topK = s.cfg.RecallTopK
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "embedding recall query")
	}

	agentHits, err := s.idx.KNNSearch(ctx, agentIndexName, vec, topK, map[string]string{
		"agent_id": agent, "user_id": user, "status": StatusActive,
	})
	if err != nil {
		return nil, err
	}
	userHits, err := s.idx.KNNSearch(ctx, userIndexName, vec, topK, map[string]string{
		"user_id": user, "status": StatusActive,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Recalled
	for _, hit := range append(agentHits, userHits...) {
		if seen[hit.Key] || hit.Similarity < s.cfg.MinSimilarity {
			continue
		}
		seen[hit.Key] = true
		var m Memory
		if err := s.idx.JSONGet(ctx, hit.Key, &m); err != nil {
			s.logger.Warn("recalled memory unreadable", zap.String("key", hit.Key), zap.Error(err))
			continue
		}
		out = append(out, Recalled{Memory: m, Similarity: hit.Similarity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > topK {
		out = out[:topK]
	}

	if bump {
		s.bumpAccess(out)
	}
	return out, nil
}

func (s *Store) bumpAccess(recalled []Recalled) {
	keys := make([]string, 0, len(recalled))
	for _, r := range recalled {
		keys = append(keys, r.key())
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		now := time.Now().Unix()
		for _, key := range keys {
			var m Memory
			if err := s.idx.JSONGet(ctx, key, &m); err != nil {
				continue
			}
			m.AccessCount++
			m.LastAccessed = now
			if err := s.idx.JSONSet(ctx, key, &m); err != nil {
				s.logger.Warn("access bump failed", zap.String("key", key), zap.Error(err))
			}
		}
	}()
}

// AssembleMemoryContext renders the core block plus recalled memories as
// a prompt-ready text block. Empty string means no memory context.
func (s *Store) AssembleMemoryContext(ctx context.Context, agent, user, query string) (string, error) {
	var b strings.Builder

	core, err := s.GetCoreBlock(ctx, agent, user)
	if err == nil && core.Content != "" {
		b.WriteString("Core memory:\n")
		b.WriteString(core.Content)
		b.WriteString("\n\n")
	}

	recalled, err := s.SearchMemories(ctx, agent, user, query, s.cfg.RecallTopK)
	if err != nil {
		return "", err
	}
	if len(recalled) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, r := range recalled {
			date := time.Unix(r.CreatedAt, 0).UTC().Format("2006-01-02")
			fmt.Fprintf(&b, "[%s/%s] %s (%s)\n", r.Type, r.Pool, r.Content, date)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// DecayMemories sweeps every active memory in both pools. Stale
// low-importance records are invalidated; merely idle ones lose 10%
// importance down to a 0.1 floor. Returns (invalidated, decayed).
func (s *Store) DecayMemories(ctx context.Context) (int, int, error) {
	var invalidated, decayed int
	now := time.Now().Unix()
	for _, pattern := range []string{agentKeyPrefix + "*", userKeyPrefix + "*"} {
		keys, err := s.kv.Scan(ctx, pattern)
		if err != nil {
			return invalidated, decayed, err
		}
		for _, key := range keys {
			var m Memory
			if err := s.idx.JSONGet(ctx, key, &m); err != nil {
				continue
			}
			if m.Status != StatusActive {
				continue
			}
			idle := now - m.LastAccessed
			switch {
			case idle > int64(90*24*time.Hour/time.Second) && m.Importance < 0.3 && m.AccessCount < 2:
				m.Status = StatusInvalid
				invalidated++
			case idle > int64(30*24*time.Hour/time.Second) && m.AccessCount == 0:
				m.Importance = max(m.Importance*0.9, 0.1)
				decayed++
			default:
				continue
			}
			if err := s.idx.JSONSet(ctx, key, &m); err != nil {
				return invalidated, decayed, err
			}
		}
	}
	return invalidated, decayed, nil
}

// ClearAllAgentData removes the agent pool, sessions, core blocks and
// memory-graph caches for one agent. The user pool is untouched.
func (s *Store) ClearAllAgentData(ctx context.Context, _, _, agentID string) error {
	patterns := []string{
		agentKeyPrefix + agentID + ":*",
		"agent_session:" + agentID + ":*",
		"agent_sessions:" + agentID + ":*",
		"agent_core_memory:" + agentID + ":*",
		"memory_graph:" + agentID + ":*",
	}
	return s.deleteByPatterns(ctx, patterns)
}

// ClearAllUserData removes the user pool plus every cross-agent session,
// core block and memory-graph cache belonging to the user. Agent-pool
// memories other agents hold about the user are runtime state of those
// agents and are cleared through agent deletion instead.
func (s *Store) ClearAllUserData(ctx context.Context, userID string) error {
	patterns := []string{
		userKeyPrefix + userID + ":*",
		"agent_session:*:" + userID + ":*",
		"agent_sessions:*:" + userID,
		"agent_core_memory:*:" + userID,
		"memory_graph:*:" + userID,
	}
	return s.deleteByPatterns(ctx, patterns)
}

func (s *Store) deleteByPatterns(ctx context.Context, patterns []string) error {
	for _, pattern := range patterns {
		keys, err := s.kv.Scan(ctx, pattern)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			continue
		}
		if err := s.kv.Del(ctx, keys...); err != nil {
			return err
		}
	}
	return nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

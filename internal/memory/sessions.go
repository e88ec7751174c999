package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/purplefabric/graphrag/internal/store/kv"
)

const (
	// sessionCap bounds a session to its most recent messages.
	sessionCap = 100

	// coreBlockMaxLen bounds the always-present summary text.
	coreBlockMaxLen = 2000

	memoryGraphTTL = 10 * time.Minute
)

func sessionKey(agent, user, session string) string {
	return fmt.Sprintf("agent_session:%s:%s:%s", agent, user, session)
}

func sessionIndexKey(agent, user string) string {
	return fmt.Sprintf("agent_sessions:%s:%s", agent, user)
}

func coreBlockKey(agent, user string) string {
	return fmt.Sprintf("agent_core_memory:%s:%s", agent, user)
}

func memoryGraphKey(agent, user string) string {
	return fmt.Sprintf("memory_graph:%s:%s", agent, user)
}

// Message is one turn in a chat session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendToSession lazily creates the session, appends the messages and
// trims to the cap. The per-scope session index is bumped to now.
func (s *Store) AppendToSession(ctx context.Context, agent, user, session string, msgs ...Message) error {
	key := sessionKey(agent, user, session)
	var existing []Message
	if err := s.kv.GetJSON(ctx, key, &existing); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	now := time.Now().UTC()
	for i := range msgs {
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = now
		}
	}
	existing = append(existing, msgs...)
	if len(existing) > sessionCap {
		existing = existing[len(existing)-sessionCap:]
	}
	if err := s.kv.SetJSON(ctx, key, existing, 0); err != nil {
		return err
	}
	return s.kv.ZAdd(ctx, sessionIndexKey(agent, user), float64(now.Unix()), session)
}

// GetSession returns the session's messages, oldest first. A missing
// session is an empty slice, not an error.
func (s *Store) GetSession(ctx context.Context, agent, user, session string) ([]Message, error) {
	var msgs []Message
	err := s.kv.GetJSON(ctx, sessionKey(agent, user, session), &msgs)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	return msgs, err
}

// ListSessions returns session ids, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, agent, user string) ([]string, error) {
	return s.kv.ZRevRange(ctx, sessionIndexKey(agent, user), 0, -1)
}

// DeleteSession removes a session and its index entry.
func (s *Store) DeleteSession(ctx context.Context, agent, user, session string) error {
	if err := s.kv.Del(ctx, sessionKey(agent, user, session)); err != nil {
		return err
	}
	return s.kv.ZRem(ctx, sessionIndexKey(agent, user), session)
}

// CoreBlock is the bounded always-present summary for an (agent, user).
type CoreBlock struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetCoreBlock returns the core block, empty if none exists yet.
func (s *Store) GetCoreBlock(ctx context.Context, agent, user string) (CoreBlock, error) {
	var cb CoreBlock
	err := s.kv.GetJSON(ctx, coreBlockKey(agent, user), &cb)
	if errors.Is(err, kv.ErrNotFound) {
		return CoreBlock{}, nil
	}
	return cb, err
}

// SetCoreBlock stores the core block, truncated to the length cap.
func (s *Store) SetCoreBlock(ctx context.Context, agent, user, content string) error {
	if len(content) > coreBlockMaxLen {
		content = content[:coreBlockMaxLen]
	}
	cb := CoreBlock{Content: content, UpdatedAt: time.Now().UTC()}
	return s.kv.SetJSON(ctx, coreBlockKey(agent, user), cb, 0)
}

// GraphNode is a memory in the cached memory graph.
type GraphNode struct {
	MemoryID   string  `json:"memory_id"`
	Type       Type    `json:"type"`
	Pool       Pool    `json:"pool"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

// GraphEdge links two memories that share a tag.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Tag  string `json:"tag"`
}

// MemoryGraph is the tag-linked view over an (agent, user)'s active
// memories, cached in KV and invalidated on writes.
type MemoryGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GetMemoryGraph returns the cached memory graph, rebuilding it from
// both pools on a cache miss.
func (s *Store) GetMemoryGraph(ctx context.Context, agent, user string) (*MemoryGraph, error) {
	cacheKey := memoryGraphKey(agent, user)
	var cached MemoryGraph
	if err := s.kv.GetJSON(ctx, cacheKey, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}

	graph := &MemoryGraph{}
	byTag := make(map[string][]string)
	for _, pattern := range []string{
		agentKeyPrefix + agent + ":" + user + ":*",
		userKeyPrefix + user + ":*",
	} {
		keys, err := s.kv.Scan(ctx, pattern)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			var m Memory
			if err := s.idx.JSONGet(ctx, key, &m); err != nil || m.Status != StatusActive {
				continue
			}
			graph.Nodes = append(graph.Nodes, GraphNode{
				MemoryID:   m.MemoryID,
				Type:       m.Type,
				Pool:       m.Pool,
				Content:    m.Content,
				Importance: m.Importance,
			})
			for _, tag := range m.Tags {
				byTag[tag] = append(byTag[tag], m.MemoryID)
			}
		}
	}
	for tag, ids := range byTag {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				graph.Edges = append(graph.Edges, GraphEdge{From: ids[i], To: ids[j], Tag: tag})
			}
		}
	}

	if err := s.kv.SetJSON(ctx, cacheKey, graph, memoryGraphTTL); err != nil {
		return graph, nil
	}
	return graph, nil
}

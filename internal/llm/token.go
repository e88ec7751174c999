package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/purplefabric/graphrag/internal/config"
)

type userTokenCtxKey struct{}

// WithUserToken attaches a per-request API token override to the context.
// The orchestrator sets it at query entry; it dies with the request context,
// so nothing needs explicit clearing.
func WithUserToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, userTokenCtxKey{}, token)
}

// UserTokenFromContext returns the per-request token override, if any.
func UserTokenFromContext(ctx context.Context) string {
	if token, ok := ctx.Value(userTokenCtxKey{}).(string); ok {
		return token
	}
	return ""
}

// TokenRoutingChat dispatches Complete calls to a per-token client when the
// context carries a user token, falling back to the shared default client.
// Per-token clients are cached; the cache is read-mostly and bounded by the
// number of distinct user tokens seen.
type TokenRoutingChat struct {
	base config.LLMConfig
	def  Chat

	mu      sync.RWMutex
	clients map[string]Chat
}

// NewTokenRoutingChat wraps the default chat with per-user-token routing.
func NewTokenRoutingChat(cfg config.LLMConfig, def Chat) *TokenRoutingChat {
	return &TokenRoutingChat{
		base:    cfg,
		def:     def,
		clients: make(map[string]Chat),
	}
}

func (t *TokenRoutingChat) Complete(ctx context.Context, system, prompt string) (string, error) {
	token := UserTokenFromContext(ctx)
	if token == "" {
		return t.def.Complete(ctx, system, prompt)
	}
	client, err := t.clientFor(token)
	if err != nil {
		return "", err
	}
	return client.Complete(ctx, system, prompt)
}

func (t *TokenRoutingChat) clientFor(token string) (Chat, error) {
	t.mu.RLock()
	client, ok := t.clients[token]
	t.mu.RUnlock()
	if ok {
		return client, nil
	}

	cfg := t.base
	cfg.APIKey = config.Secret(token)
	client, err := NewChat(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating per-user chat client: %w", err)
	}

	t.mu.Lock()
	if existing, ok := t.clients[token]; ok {
		client = existing
	} else {
		t.clients[token] = client
	}
	t.mu.Unlock()
	return client, nil
}

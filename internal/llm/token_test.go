package llm

import (
	"context"
	"testing"

	"github.com/purplefabric/graphrag/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingChat struct{ calls int }

func (c *countingChat) Complete(context.Context, string, string) (string, error) {
	c.calls++
	return "ok", nil
}

func TestUserTokenContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, UserTokenFromContext(ctx))

	ctx = WithUserToken(ctx, "sk-user")
	assert.Equal(t, "sk-user", UserTokenFromContext(ctx))

	// Empty tokens never shadow an existing one.
	assert.Equal(t, "sk-user", UserTokenFromContext(WithUserToken(ctx, "")))
}

func TestTokenRoutingFallsBackToDefault(t *testing.T) {
	def := &countingChat{}
	router := NewTokenRoutingChat(config.LLMConfig{Model: "gpt-4o-mini"}, def)

	out, err := router.Complete(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, def.calls)
}

func TestTokenRoutingCachesPerTokenClients(t *testing.T) {
	def := &countingChat{}
	router := NewTokenRoutingChat(config.LLMConfig{Model: "gpt-4o-mini"}, def)

	ctx := WithUserToken(context.Background(), "sk-user")
	a, err := router.clientFor(UserTokenFromContext(ctx))
	require.NoError(t, err)
	b, err := router.clientFor(UserTokenFromContext(ctx))
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Zero(t, def.calls)
}

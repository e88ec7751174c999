package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"ERROR", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{Level: "debug", Format: "console"}).Validate())
	assert.NoError(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Level: "loud"}).Validate())
	assert.Error(t, (&Config{Format: "xml"}).Validate())
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithIdentity(ctx, Identity{TenantID: "t1", WorkspaceID: "ws1", UserID: "u1"})
	ctx = WithRequestID(ctx, "req-42")

	fields := ContextFields(ctx)
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.ElementsMatch(t, []string{"tenant_id", "workspace_id", "user_id", "request_id"}, keys)
}

func TestIdentityRoundTrip(t *testing.T) {
	id := Identity{TenantID: "acme", WorkspaceID: "main", UserID: "u9"}
	ctx := WithIdentity(context.Background(), id)
	assert.Equal(t, id, IdentityFromContext(ctx))
	assert.Equal(t, Identity{}, IdentityFromContext(context.Background()))
}

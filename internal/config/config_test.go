package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.MessageStore)
	assert.Equal(t, "prism_messages", cfg.PostgresNotifyChannel)
	assert.Equal(t, 5*time.Second, cfg.VideoPollInterval)
	assert.Equal(t, 30*time.Second, cfg.VideoMaxInterval)
	assert.Equal(t, 5*time.Minute, cfg.VideoMaxWait)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "gpt-4o-mini", cfg.SummaryModel())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"ENV":                  "production",
		"MESSAGE_STORE":        "redis",
		"REDIS_URL":            "redis://localhost:6379/0",
		"OPENAI_MODEL_SUMMARY": "gpt-4o",
		"CORS_ORIGINS":         "https://a.example,https://b.example",
		"VIDEO_MAX_WAIT":       "90s",
	}))
	require.NoError(t, err)

	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "gpt-4o", cfg.SummaryModel())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.VideoMaxWait)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"postgres without url", map[string]string{"MESSAGE_STORE": "postgres"}, "DATABASE_URL"},
		{"redis without url", map[string]string{"MESSAGE_STORE": "redis"}, "REDIS_URL"},
		{"unknown store", map[string]string{"MESSAGE_STORE": "firestore"}, "MESSAGE_STORE"},
		{"memory in production", map[string]string{"ENV": "production"}, "only allowed in development"},
		{"bad node", map[string]string{"SNOWFLAKE_NODE": "4096"}, "SNOWFLAKE_NODE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(context.Background(), envconfig.MapLookuper(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

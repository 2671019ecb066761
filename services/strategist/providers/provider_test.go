package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPool_SeparatesOfflineFallback(t *testing.T) {
	pool, offline, err := BuildPool([]Settings{
		{ID: "local-llm", Backend: "ollama", BaseURL: "http://localhost:11434"},
		{ID: "local-fallback", Backend: "offline"},
	})
	require.NoError(t, err)

	require.Len(t, pool, 1, "offline backends must not occupy a routed slot")
	assert.Equal(t, "local-llm", pool[0].ID())
	require.NotNil(t, offline)
	assert.Equal(t, "local-fallback", offline.ID())
}

func TestBuildPool_OfflineOnlyConfiguration(t *testing.T) {
	pool, offline, err := BuildPool([]Settings{
		{ID: "local-fallback", Backend: "offline"},
	})
	require.NoError(t, err)
	assert.Empty(t, pool)
	require.NotNil(t, offline)
}

func TestBuildPool_UnknownBackend(t *testing.T) {
	_, _, err := BuildPool([]Settings{{ID: "mystery", Backend: "watson"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

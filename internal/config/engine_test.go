package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "thread.json", `{
		"pageLimit": 50,
		"queryTimeout": "5s",
		"retryBackoff": 250,
		"positionalFallback": "last",
		"relays": {"default": ["wss://a.example.com"], "fallback": ["wss://f.example.com"]}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.PageLimit)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoff.Std())
	assert.Equal(t, "last", cfg.PositionalFallback)
	assert.Equal(t, []string{"wss://a.example.com"}, cfg.Relays.Default)
	assert.Equal(t, []string{"wss://f.example.com"}, cfg.Relays.Fallback)
	assert.Equal(t, 8, cfg.MaxDepth, "unset fields keep defaults")
	assert.Equal(t, Default().Relays.Indexer, cfg.Relays.Indexer)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "thread.yaml", `
pageLimit: 10
maxDepth: 4
queryTimeout: 1m
relays:
  indexer:
    - wss://idx.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.PageLimit)
	assert.Equal(t, 4, cfg.MaxDepth)
	assert.Equal(t, time.Minute, cfg.QueryTimeout.Std())
	assert.Equal(t, []string{"wss://idx.example.com"}, cfg.Relays.Indexer)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, os.IsNotExist(err))

	_, err = Load(writeFile(t, "bad.json", `{"pageLimit": "many"}`))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "queryTimeout: soon\n"))
	assert.Error(t, err)
}

func TestNormalizeReplacesUnusableValues(t *testing.T) {
	cfg := &EngineConfig{PageLimit: -5, MaxDepth: -1}
	cfg.normalize()
	def := Default()
	assert.Equal(t, def.PageLimit, cfg.PageLimit)
	assert.Equal(t, def.MaxDepth, cfg.MaxDepth, "traversal depth is never unbounded")
	assert.Equal(t, def.QueryTimeout, cfg.QueryTimeout)
	assert.Equal(t, "second", cfg.PositionalFallback)
	assert.NotEmpty(t, cfg.Relays.Default)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("THREAD_CONFIG", filepath.Join(t.TempDir(), "none.json"))
	t.Setenv("THREAD_PAGE_LIMIT", "25")
	t.Setenv("THREAD_MAX_DEPTH", "3")
	t.Setenv("THREAD_QUERY_TIMEOUT", "2s")

	cfg := loadFromEnv()
	assert.Equal(t, 25, cfg.PageLimit)
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.Equal(t, 2*time.Second, cfg.QueryTimeout.Std())

	t.Setenv("THREAD_PAGE_LIMIT", "lots")
	assert.Equal(t, 100, loadFromEnv().PageLimit)
}

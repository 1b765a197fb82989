package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-notes/internal/cache"
	cr "secure-notes/internal/crypto"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.Client.Timeout)
	assert.Equal(t, BackendFile, c.Cache.Backend)
	assert.Equal(t, 0, c.History.MaxEntries)
	assert.Equal(t, 12*time.Hour, c.Session.MaterialTTL)
	assert.Equal(t, ":8080", c.Server.Addr)

	cc := c.ClientConfig()
	assert.Equal(t, cr.DefaultPasswordParams().Algorithm, cc.Params.Algorithm)
	assert.Equal(t, cr.DefaultPasswordParams().Memory, cc.Params.Memory)
}

func TestFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
client:
  base_url: https://notes.example
  kdf:
    algorithm: pbkdf2-sha256
    iterations: 600000
cache:
  backend: memory
history:
  max_entries: 10
server:
  legacy_usernames: [old, older]
  token_ttl: 30m
`), 0600))
	t.Setenv("NOTES_CLIENT_BASE_URL", "https://override.example")
	t.Setenv("NOTES_SESSION_WRITER_PREFERENCE", "true")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example", c.Client.BaseURL)
	assert.Equal(t, cr.AlgPBKDF2, c.Client.KDF.Algorithm)
	assert.EqualValues(t, 600000, c.Client.KDF.Iterations)
	assert.Equal(t, 10, c.History.MaxEntries)
	assert.True(t, c.Session.WriterPreference)
	assert.Equal(t, []string{"old", "older"}, c.Server.LegacyUsernames)
	assert.Equal(t, 30*time.Minute, c.ServerConfig().TokenTTL)
	assert.Equal(t, 10, c.TreeConfig().MaxHistory)
}

func TestValidate(t *testing.T) {
	t.Setenv("NOTES_CACHE_BACKEND", "tape")
	_, err := Load("")
	assert.ErrorContains(t, err, "unknown cache backend")

	t.Setenv("NOTES_CACHE_BACKEND", "mongo")
	_, err = Load("")
	assert.ErrorContains(t, err, "mongo_uri")

	t.Setenv("NOTES_CACHE_BACKEND", "none")
	t.Setenv("NOTES_SERVER_MASTER_KEY", "zz")
	_, err = Load("")
	assert.ErrorContains(t, err, "master_key")
}

func TestOpenCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, backend := range []string{BackendNone, BackendMemory, BackendFile, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			c := &Config{Cache: CacheConfig{
				Backend:    backend,
				Dir:        filepath.Join(dir, "blobs"),
				SQLitePath: filepath.Join(dir, "cache.db"),
			}}
			m, closeFn, err := c.OpenCache(ctx)
			require.NoError(t, err)
			defer func() { require.NoError(t, closeFn(ctx)) }()
			if backend == BackendNone {
				assert.IsType(t, cache.Nop{}, m)
				return
			}
			assert.IsType(t, &cache.BlobCache{}, m)
			u, err := m.GetUser(ctx, "alice")
			require.NoError(t, err)
			assert.Nil(t, u)
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: "9090"
  base_url: https://blog.example.com
postgres:
  dsn: postgres://u:p@db:5432/blog
auth:
  secret: s3cret
  dev: true
search:
  engine: bleve
  index_path: /tmp/index
presence:
  ttl: 45s
cache:
  ttl: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "https://blog.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "postgres://u:p@db:5432/blog", cfg.Postgres.DSN)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.True(t, cfg.Auth.Dev)
	assert.Equal(t, EngineBleve, cfg.Search.Engine)
	assert.Equal(t, 45*time.Second, cfg.Presence.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)

	// значения, которых нет в файле, берутся по умолчанию
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 100, cfg.Cache.Size)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [oops"), 0o600))
	_, err := Load(bad)
	assert.Error(t, err)

	engine := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(engine, []byte("search:\n  engine: lucene\n"), 0o600))
	_, err = Load(engine)
	assert.EqualError(t, err, `unknown search engine "lucene"`)
}

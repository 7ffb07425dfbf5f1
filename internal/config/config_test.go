package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFileOverlaysYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
env: prod
database:
  driver: Postgres
  host: db.internal
  password: s3cret
feed:
  cache_ttl: 90s
token:
  access_token_ttl: 15m
  refresh_token_ttl: bogus
errors:
  compat_flat_400: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg := Default()
	require.NoError(t, LoadFile(path, &cfg))

	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, 90*time.Second, cfg.Feed.CacheTTL)
	require.Equal(t, 15*time.Minute, cfg.Token.AccessTokenTTL)
	// 无法解析的时长保留默认值
	require.Equal(t, 24*time.Hour, cfg.Token.RefreshTokenTTL)
	require.True(t, cfg.Errors.CompatFlat400)
	// 未出现的字段不被覆盖
	require.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
}

func TestLoadFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cache":{"backend":"MEMORY","max_entries":50}}`), 0o600))

	cfg := Default()
	require.NoError(t, LoadFile(path, &cfg))
	require.Equal(t, "memory", cfg.Cache.Backend)
	require.Equal(t, 50, cfg.Cache.MaxEntries)
}

func TestLoadFileRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("env = 'x'"), 0o600))
	cfg := Default()
	require.Error(t, LoadFile(path, &cfg))
}

func TestDSNMasked(t *testing.T) {
	d := DatabaseConfig{Driver: "mysql", User: "app", Password: "pw", Host: "h", Port: 3307, DBName: "x"}
	require.Equal(t, "app:******@tcp(h:3307)/x?parseTime=true&loc=UTC&charset=utf8mb4", d.DSNMasked())

	p := DatabaseConfig{Driver: "postgres", User: "app", Password: "pw"}
	require.Equal(t, "host=127.0.0.1 port=5432 user=app password=****** dbname=clonetwitter sslmode=disable TimeZone=UTC", p.DSNMasked())

	s := DatabaseConfig{Driver: "sqlite", Path: ":memory:"}
	require.Equal(t, ":memory:", s.DSN())
}

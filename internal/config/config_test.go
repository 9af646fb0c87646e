package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ResolveAndValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Resolve()

	assert.Equal(t, filepath.Join(cfg.DataDir, "inscripciones.xlsx"), cfg.DataFile)
	assert.Equal(t, filepath.Join(cfg.DataDir, "data_cache.json"), cfg.CacheFile)
	assert.Equal(t, filepath.Join(cfg.DataDir, "builds.db"), cfg.Catalog.Path)
	assert.Equal(t, []string{"conjunto", "individual", "para deporte"}, cfg.SportTypes)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"same data and cache file", func(c *Config) { c.CacheFile = c.DataFile }},
		{"bad log mode", func(c *Config) { c.Log.Mode = "verbose" }},
		{"grpc without addr", func(c *Config) { c.GRPC.Enabled = true; c.GRPC.Addr = "" }},
		{"unknown storage", func(c *Config) { c.Publish.Enabled = true; c.Publish.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Publish.Enabled = true; c.Publish.Storage.Type = "s3" }},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIsDateColumn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DateColumns = []string{"Nacimiento"}

	assert.True(t, cfg.IsDateColumn("Fecha de Registro"))
	assert.True(t, cfg.IsDateColumn("Fecha Nacimiento"))
	assert.True(t, cfg.IsDateColumn("Nacimiento"))
	assert.False(t, cfg.IsDateColumn("Zona"))
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_file: /srv/inscripciones.xlsx
sheet: Hoja1
http:
  addr: ":9999"
watch:
  enabled: false
palette:
  conjunto: "#000000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/inscripciones.xlsx", cfg.DataFile)
	assert.Equal(t, "Hoja1", cfg.Sheet)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, "#000000", cfg.Palette["conjunto"])
	// Defaults survive for keys the file does not mention
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cache_file":"/tmp/c.json","grpc":{"enabled":true}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/c.json", cfg.CacheFile)
	assert.True(t, cfg.GRPC.Enabled)
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`x = 1`), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("INSCRIPCIONES_DATA_FILE", "/data/x.xlsx")
	t.Setenv("INSCRIPCIONES_HTTP_ADDR", ":7000")
	t.Setenv("INSCRIPCIONES_GRPC_ENABLED", "1")
	t.Setenv("INSCRIPCIONES_WATCH_DEBOUNCE", "2s")
	t.Setenv("INSCRIPCIONES_STORAGE_TYPE", "s3")
	t.Setenv("INSCRIPCIONES_S3_BUCKET", "dashboards")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "/data/x.xlsx", cfg.DataFile)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.True(t, cfg.GRPC.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	assert.Equal(t, "s3", cfg.Publish.Storage.Type)
	assert.Equal(t, "dashboards", cfg.Publish.Storage.S3.Bucket)
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.CacheFile = filepath.Join(base, "cache", "snapshot.json")
	cfg.Publish.Enabled = true
	cfg.Resolve()

	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.DataDir, filepath.Dir(cfg.CacheFile), cfg.Publish.Storage.Path} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

// Package config provides configuration for the enrollment dashboard.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deportes-escolares/inscripciones/pkg/types"
)

// Config holds the configuration for every dashboard component.
type Config struct {
	// DataDir is the base directory for derived files (cache, catalog, published snapshots)
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DataFile is the enrollment spreadsheet (.xlsx)
	DataFile string `json:"data_file" yaml:"data_file"`

	// CacheFile is the JSON snapshot tied to DataFile's modification time
	CacheFile string `json:"cache_file" yaml:"cache_file"`

	// Sheet is the worksheet to read; empty means the first sheet
	Sheet string `json:"sheet" yaml:"sheet"`

	// DateColumns are parsed as calendar dates in addition to headers starting with "Fecha"
	DateColumns []string `json:"date_columns" yaml:"date_columns"`

	// SportTypes is the ordered list of sport types offered as toggles
	SportTypes []string `json:"sport_types" yaml:"sport_types"`

	// Palette maps sport types to chart colors
	Palette map[string]string `json:"palette" yaml:"palette"`

	Log     LogConfig     `json:"log" yaml:"log"`
	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	GRPC    GRPCConfig    `json:"grpc" yaml:"grpc"`
	Watch   WatchConfig   `json:"watch" yaml:"watch"`
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`
	Publish PublishConfig `json:"publish" yaml:"publish"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Mode is development or production
	Mode string `json:"mode" yaml:"mode"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// WatchConfig controls rebuilding when the spreadsheet changes on disk.
type WatchConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Debounce time.Duration `json:"debounce" yaml:"debounce"`
}

// CatalogConfig controls the SQLite build history.
type CatalogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// PublishConfig controls copying each new snapshot to object storage.
type PublishConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Prefix  string        `json:"prefix" yaml:"prefix"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultPalette is the sport-type color map used by the dashboard charts.
func DefaultPalette() map[string]string {
	return map[string]string{
		types.SportTypeTeam:       "#001F54",
		types.SportTypeIndividual: "#AAB8D8",
		types.SportTypePara:       "#5167F1",
	}
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir:     "./database",
		DataFile:    "",
		CacheFile:   "",
		DateColumns: []string{types.ColRegistrationDate},
		SportTypes:  append([]string(nil), types.SportTypes...),
		Palette:     DefaultPalette(),
		Log: LogConfig{
			Mode: "development",
		},
		HTTP: HTTPConfig{
			Addr:         ":8050",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9050",
			Enabled: false,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 500 * time.Millisecond,
		},
		Catalog: CatalogConfig{
			Enabled: true,
		},
		Publish: PublishConfig{
			Enabled: false,
			Prefix:  "snapshots",
			Storage: StorageConfig{
				Type: "local",
			},
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./database"
	}
	if c.DataFile == "" {
		c.DataFile = filepath.Join(c.DataDir, "inscripciones.xlsx")
	}
	if c.CacheFile == "" {
		c.CacheFile = filepath.Join(c.DataDir, "data_cache.json")
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "builds.db")
	}
	if c.Publish.Storage.Path == "" {
		c.Publish.Storage.Path = filepath.Join(c.DataDir, "published")
	}
	if len(c.SportTypes) == 0 {
		c.SportTypes = append([]string(nil), types.SportTypes...)
	}
	if c.Palette == nil {
		c.Palette = DefaultPalette()
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataFile == "" {
		return fmt.Errorf("data_file is required")
	}
	if c.CacheFile == "" {
		return fmt.Errorf("cache_file is required")
	}
	if filepath.Clean(c.DataFile) == filepath.Clean(c.CacheFile) {
		return fmt.Errorf("cache_file must differ from data_file")
	}

	switch strings.ToLower(c.Log.Mode) {
	case "", "dev", "development", "prod", "production":
	default:
		return fmt.Errorf("invalid log mode: %s (must be development or production)", c.Log.Mode)
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}
	if c.Watch.Enabled && c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %v", c.Watch.Debounce)
	}

	if c.Publish.Enabled {
		st := c.Publish.Storage
		if st.Type != "local" && st.Type != "s3" {
			return fmt.Errorf("invalid storage type: %s (must be local or s3)", st.Type)
		}
		if st.Type == "s3" && st.S3.Bucket == "" {
			return fmt.Errorf("publish.storage.s3.bucket is required when storage type is s3")
		}
	}

	return nil
}

// IsDateColumn reports whether a header should be parsed as calendar dates.
func (c *Config) IsDateColumn(header string) bool {
	if strings.HasPrefix(strings.TrimSpace(header), "Fecha") {
		return true
	}
	for _, col := range c.DateColumns {
		if col == header {
			return true
		}
	}
	return false
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the INSCRIPCIONES_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("INSCRIPCIONES_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("INSCRIPCIONES_DATA_FILE"); v != "" {
		cfg.DataFile = v
	}
	if v := os.Getenv("INSCRIPCIONES_CACHE_FILE"); v != "" {
		cfg.CacheFile = v
	}
	if v := os.Getenv("INSCRIPCIONES_SHEET"); v != "" {
		cfg.Sheet = v
	}
	if v := os.Getenv("INSCRIPCIONES_LOG_MODE"); v != "" {
		cfg.Log.Mode = v
	}

	// HTTP configuration
	if v := os.Getenv("INSCRIPCIONES_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// gRPC configuration
	if v := os.Getenv("INSCRIPCIONES_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("INSCRIPCIONES_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Watcher configuration
	if v := os.Getenv("INSCRIPCIONES_WATCH_ENABLED"); v != "" {
		cfg.Watch.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("INSCRIPCIONES_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watch.Debounce = d
		}
	}

	// Catalog configuration
	if v := os.Getenv("INSCRIPCIONES_CATALOG_ENABLED"); v != "" {
		cfg.Catalog.Enabled = v == "true" || v == "1"
	}

	// Publish configuration
	if v := os.Getenv("INSCRIPCIONES_PUBLISH_ENABLED"); v != "" {
		cfg.Publish.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("INSCRIPCIONES_STORAGE_TYPE"); v != "" {
		cfg.Publish.Storage.Type = v
	}
	if v := os.Getenv("INSCRIPCIONES_STORAGE_PATH"); v != "" {
		cfg.Publish.Storage.Path = v
	}
	if v := os.Getenv("INSCRIPCIONES_S3_BUCKET"); v != "" {
		cfg.Publish.Storage.S3.Bucket = v
	}
	if v := os.Getenv("INSCRIPCIONES_S3_REGION"); v != "" {
		cfg.Publish.Storage.S3.Region = v
	}
	if v := os.Getenv("INSCRIPCIONES_S3_ENDPOINT"); v != "" {
		cfg.Publish.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.CacheFile),
	}
	if c.Catalog.Enabled {
		dirs = append(dirs, filepath.Dir(c.Catalog.Path))
	}
	if c.Publish.Enabled && c.Publish.Storage.Type == "local" {
		dirs = append(dirs, c.Publish.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultRefresh        = "*/15 * * * *"
	defaultCacheDir       = "./cache/ics"
	defaultChunkSize      = 2000
	defaultHorizonDays    = 7
	defaultMaxOccurrences = 5000
)

// SourceConfig describes a single calendar source.
type SourceConfig struct {
	// ID is an internal identifier used in API paths and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is an http(s)/webcal URL, a file:// URL or a plain file path.
	URL string `yaml:"url" json:"url"`
}

// Key returns the identifier used for this source: ID, then Name, then URL.
func (s SourceConfig) Key() string {
	switch {
	case s.ID != "":
		return s.ID
	case s.Name != "":
		return s.Name
	default:
		return s.URL
	}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used to display occurrences and to resolve
	// floating times. Empty means the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir holds fetched bodies and their ETag/Last-Modified metadata.
	// Empty disables the disk cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ChunkSize is the number of lines parsed per step before yielding.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`

	// HorizonDays is the default number of future days for /api/events.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// MaxOccurrences caps the expansion of a single recurring event.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// Metrics exposes Prometheus collectors on /metrics.
	Metrics bool `yaml:"metrics" json:"metrics"`

	// Sources is the list of calendars to fetch and parse.
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		RefreshCron:    defaultRefresh,
		CacheDir:       defaultCacheDir,
		ChunkSize:      defaultChunkSize,
		HorizonDays:    defaultHorizonDays,
		MaxOccurrences: defaultMaxOccurrences,
		Metrics:        true,
		Sources:        []SourceConfig{},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = defaultMaxOccurrences
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
}

// Validate reports configuration errors Normalize cannot repair.
func (c *Config) Validate() error {
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", c.Timezone, err)
		}
	}
	if c.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			return fmt.Errorf("refresh %q: %w", c.RefreshCron, err)
		}
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.URL == "" {
			return fmt.Errorf("sources[%d]: url is empty", i)
		}
		if seen[s.Key()] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, s.Key())
		}
		seen[s.Key()] = true
	}
	return nil
}

// Location resolves Timezone, falling back to the host zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".icalfeed-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

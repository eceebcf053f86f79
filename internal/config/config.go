// Manages store configuration stored in objdb.yaml.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/maruel/objdb/internal/idgen"
	"github.com/maruel/objdb/internal/mapper"
)

// FileName is the name of the configuration file inside the data directory.
const FileName = "objdb.yaml"

// Backend names.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Cache policy names.
const (
	CacheStore = "store"
	CacheCall  = "call"
)

// Config stores the settings of one data directory.
// Loaded from objdb.yaml, created with defaults if missing.
type Config struct {
	// Backend is where tables are stored: "file" or "sqlite".
	Backend string `yaml:"backend"`

	// SQLitePath is the database file, relative to the data directory. Only
	// used by the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`

	// Cache is the identity cache lifetime: "store" or "call".
	Cache string `yaml:"cache"`

	// IDStrategy is the default identifier strategy: "uuid", "ksid" or
	// "sequential".
	IDStrategy string `yaml:"id_strategy"`

	// Watch drops cached instances when table files change on disk. Requires
	// the file backend and the store cache.
	Watch bool `yaml:"watch"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Backend:    BackendFile,
		SQLitePath: "objdb.sqlite",
		Cache:      CacheStore,
		IDStrategy: idgen.StrategyUUID,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFile:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite_path is required with the sqlite backend")
		}
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.Backend)
	}
	if _, err := c.CachePolicy(); err != nil {
		return err
	}
	switch c.IDStrategy {
	case idgen.StrategyUUID, idgen.StrategyKSID, idgen.StrategySequential:
	default:
		return fmt.Errorf("id_strategy must be one of uuid, ksid, sequential, got %q", c.IDStrategy)
	}
	if c.Watch && (c.Backend != BackendFile || c.Cache != CacheStore) {
		return errors.New("watch requires the file backend and the store cache")
	}
	return nil
}

// CachePolicy returns the mapper cache policy.
func (c *Config) CachePolicy() (mapper.CachePolicy, error) {
	switch c.Cache {
	case CacheStore:
		return mapper.CacheStore, nil
	case CacheCall:
		return mapper.CachePerCall, nil
	default:
		return 0, fmt.Errorf("cache must be %q or %q, got %q", CacheStore, CacheCall, c.Cache)
	}
}

// Load loads configuration from dataDir/objdb.yaml.
// Creates the file with defaults if it doesn't exist.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)

	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return &cfg, nil
}

// Save saves configuration to dataDir/objdb.yaml.
func (c *Config) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create directory %s: %w", dataDir, err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}

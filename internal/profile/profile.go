// Package profile holds the runtime configuration of the store.
package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration used to open and operate the store.
type Profile struct {
	// Mode is "prod", "dev", or "demo".
	Mode string
	// Driver is the backing store kind: "sqlite" or "postgres".
	Driver string
	// DSN is the driver-specific data source name.
	DSN string
	// Data is the directory holding local data files (sqlite).
	Data string
	// EmbeddingDim is the fixed embedding vector length.
	EmbeddingDim int
	// SearchCacheTTL bounds how long knowledge search results stay cached.
	SearchCacheTTL time.Duration
	// Version is the released version of the running binary.
	Version string
}

// IsDev returns true unless running in prod mode.
func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables. Values already set
// on the profile win over the environment.
func (p *Profile) FromEnv() {
	if p.Mode == "" {
		p.Mode = getEnvOrDefault("RECALL_MODE", "prod")
	}
	if p.Driver == "" {
		p.Driver = getEnvOrDefault("RECALL_DRIVER", "sqlite")
	}
	if p.DSN == "" {
		p.DSN = getEnvOrDefault("RECALL_DSN", "")
	}
	if p.Data == "" {
		p.Data = getEnvOrDefault("RECALL_DATA", "")
	}
	if p.EmbeddingDim == 0 {
		p.EmbeddingDim = getEnvOrDefaultInt("RECALL_EMBEDDING_DIM", 0)
	}
	if p.SearchCacheTTL == 0 {
		p.SearchCacheTTL = time.Duration(getEnvOrDefaultInt("RECALL_SEARCH_CACHE_TTL_SECONDS", 0)) * time.Second
	}
}

// Validate checks the profile and applies defaults.
func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" && p.Mode != "demo" {
		p.Mode = "demo"
	}

	switch p.Driver {
	case "sqlite", "postgres":
	case "":
		p.Driver = "sqlite"
	default:
		return errors.Errorf("unsupported driver: %s", p.Driver)
	}

	if p.Data == "" {
		if p.Mode == "prod" {
			p.Data = "/var/opt/recall"
		} else {
			p.Data = os.TempDir()
		}
	}
	if p.Driver == "sqlite" {
		absDir, err := filepath.Abs(p.Data)
		if err != nil {
			return errors.Wrapf(err, "invalid data directory: %s", p.Data)
		}
		p.Data = absDir
		if p.DSN == "" {
			p.DSN = filepath.Join(p.Data, "recall_"+p.Mode+".db")
		}
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}

	if p.EmbeddingDim < 0 {
		return errors.Errorf("embedding dimension cannot be negative: %d", p.EmbeddingDim)
	}
	if p.EmbeddingDim == 0 {
		p.EmbeddingDim = 1536
	}
	if p.SearchCacheTTL <= 0 {
		p.SearchCacheTTL = 5 * time.Minute
	}
	return nil
}

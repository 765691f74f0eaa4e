package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
// It is read once at process start and is immutable afterwards.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for the server
	Addr string
	// Port is the binding port for the server
	Port int
	// Data is the data directory
	Data string
	// Driver is the storage backend ("postgres", "sqlite" or "mongo")
	Driver string
	// DSN points to where jokebox stores its own data (postgres/sqlite)
	DSN string
	// Version is the current version of the server
	Version string

	// MongoURI is the connection string for the mongo driver
	MongoURI string
	// MongoDatabase is the database name for the mongo driver
	MongoDatabase string

	// Embedding configuration
	EmbeddingProvider   string  // JOKEBOX_EMBEDDING_PROVIDER (default: openai)
	EmbeddingModel      string  // JOKEBOX_EMBEDDING_MODEL (default: text-embedding-3-small)
	EmbeddingAPIKey     string  // JOKEBOX_EMBEDDING_API_KEY
	EmbeddingBaseURL    string  // JOKEBOX_EMBEDDING_BASE_URL (default: https://api.openai.com/v1)
	EmbeddingDimensions int     // JOKEBOX_EMBEDDING_DIMENSIONS (default: 384, must match the schema)
	SimilarityThreshold float64 // JOKEBOX_SIMILARITY_THRESHOLD (default: 0.6)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func (p *Profile) FromEnv() {
	// Missing .env is the normal case; real env vars always win.
	_ = godotenv.Load()

	p.MongoURI = getEnvOrDefault("JOKEBOX_MONGO_URI", "mongodb://localhost:27017")
	p.MongoDatabase = getEnvOrDefault("JOKEBOX_MONGO_DATABASE", "jokebox")

	p.EmbeddingProvider = getEnvOrDefault("JOKEBOX_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingModel = getEnvOrDefault("JOKEBOX_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingAPIKey = os.Getenv("JOKEBOX_EMBEDDING_API_KEY")
	p.EmbeddingBaseURL = getEnvOrDefault("JOKEBOX_EMBEDDING_BASE_URL", "https://api.openai.com/v1")

	p.EmbeddingDimensions = 384
	if v := os.Getenv("JOKEBOX_EMBEDDING_DIMENSIONS"); v != "" {
		if dims, err := strconv.Atoi(v); err == nil && dims > 0 {
			p.EmbeddingDimensions = dims
		}
	}

	p.SimilarityThreshold = 0.6
	if v := os.Getenv("JOKEBOX_SIMILARITY_THRESHOLD"); v != "" {
		if threshold, err := strconv.ParseFloat(v, 64); err == nil {
			p.SimilarityThreshold = threshold
		}
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	switch p.Driver {
	case "postgres", "sqlite", "mongo":
	default:
		return errors.Errorf("unknown driver %q: only 'postgres', 'sqlite' and 'mongo' are supported", p.Driver)
	}

	if p.Driver == "sqlite" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			return err
		}
		p.Data = dataDir
		if p.DSN == "" {
			dbFile := fmt.Sprintf("jokebox_%s.db", p.Mode)
			p.DSN = filepath.Join(dataDir, dbFile)
		}
	}

	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	if p.EmbeddingDimensions <= 0 {
		return errors.Errorf("invalid embedding dimensions: %d", p.EmbeddingDimensions)
	}

	return nil
}

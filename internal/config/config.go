package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	// Graph store configuration
	Graph GraphConfig `yaml:"graph"`

	// Staging/audit store configuration
	Storage StorageConfig `yaml:"storage"`

	// Cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Embedding configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Generation backend configuration
	API APIConfig `yaml:"api"`

	// Identity resolution settings
	Identity IdentityConfig `yaml:"identity"`

	// Index routing settings
	Router RouterConfig `yaml:"router"`

	// Hybrid retrieval settings
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// GitHub connector settings
	GitHub GitHubConfig `yaml:"github"`

	// HTTP server settings
	Server ServerConfig `yaml:"server"`
}

type GraphConfig struct {
	Backend  string `yaml:"backend"` // "neo4j", "memory"
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// Transient failure retries, bounded exponential backoff
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type StorageConfig struct {
	Type        string `yaml:"type"` // "postgres", "sqlite"
	PostgresDSN string `yaml:"postgres_dsn"`
	LocalPath   string `yaml:"local_path"`
}

type CacheConfig struct {
	RedisHost     string        `yaml:"redis_host"`
	RedisPort     int           `yaml:"redis_port"`
	RedisPassword string        `yaml:"redis_password"`
	TTL           time.Duration `yaml:"ttl"`
}

type EmbeddingConfig struct {
	Provider     string `yaml:"provider"` // "openai", "local"
	Model        string `yaml:"model"`
	ModelVersion string `yaml:"model_version"` // live query-time version tag
	Dimensions   int    `yaml:"dimensions"`
	BatchSize    int    `yaml:"batch_size"`
	QueuePath    string `yaml:"queue_path"` // bbolt re-embed queue
}

type APIConfig struct {
	Provider    string `yaml:"provider"` // "openai", "gemini"
	OpenAIKey   string `yaml:"openai_key"`
	OpenAIModel string `yaml:"openai_model"`
	GeminiKey   string `yaml:"gemini_key"`
	GeminiModel string `yaml:"gemini_model"`
	UseKeychain bool   `yaml:"use_keychain"` // Prefer keychain over config file
	// Caller-facing generation timeout; on expiry the synthesizer degrades
	Timeout time.Duration `yaml:"timeout"`
}

type IdentityConfig struct {
	// Name similarity threshold for the fuzzy fallback (Jaro-Winkler)
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	// Two records co-occur when seen in the same repo/channel within this window
	CooccurrenceWindow time.Duration `yaml:"cooccurrence_window"`
	AuditPath          string        `yaml:"audit_path"` // bbolt merge journal
}

type RouterConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	Epsilon             float64 `yaml:"epsilon"` // tie-break band
	MaxCandidates       int     `yaml:"max_candidates"`
}

type RetrievalConfig struct {
	TopK            int     `yaml:"top_k"`
	SimilarityFloor float64 `yaml:"similarity_floor"`
	HopLimit        int     `yaml:"hop_limit"`
	VisitBudget     int     `yaml:"visit_budget"`
	HopDecay        float64 `yaml:"hop_decay"`
}

type GitHubConfig struct {
	Token     string `yaml:"token"`
	RateLimit int    `yaml:"rate_limit"` // Requests per second
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Graph: GraphConfig{
			Backend:      "neo4j",
			URI:          "neo4j://localhost:7687",
			Username:     "neo4j",
			Database:     "neo4j",
			MaxRetries:   5,
			RetryBackoff: 200 * time.Millisecond,
		},
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(homeDir, ".tscope", "local.db"),
		},
		Cache: CacheConfig{
			RedisHost: "localhost",
			RedisPort: 6379,
			TTL:       15 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:     "openai",
			Model:        "text-embedding-3-small",
			ModelVersion: "text-embedding-3-small@1",
			Dimensions:   1536,
			BatchSize:    64,
			QueuePath:    filepath.Join(homeDir, ".tscope", "reembed.db"),
		},
		API: APIConfig{
			Provider:    "openai",
			OpenAIModel: "gpt-4o-mini",
			GeminiModel: "gemini-2.0-flash",
			Timeout:     30 * time.Second,
		},
		Identity: IdentityConfig{
			FuzzyThreshold:     0.85,
			CooccurrenceWindow: 14 * 24 * time.Hour,
			AuditPath:          filepath.Join(homeDir, ".tscope", "identity.db"),
		},
		Router: RouterConfig{
			ConfidenceThreshold: 0.6,
			Epsilon:             0.05,
			MaxCandidates:       2,
		},
		Retrieval: RetrievalConfig{
			TopK:            8,
			SimilarityFloor: 0.30,
			HopLimit:        2,
			VisitBudget:     64,
			HopDecay:        0.6,
		},
		GitHub: GitHubConfig{
			RateLimit: 10, // 10 requests per second
		},
		Server: ServerConfig{
			Addr: ":8090",
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults
	cfg := Default()
	v.SetDefault("graph", cfg.Graph)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("embedding", cfg.Embedding)
	v.SetDefault("identity", cfg.Identity)
	v.SetDefault("router", cfg.Router)
	v.SetDefault("retrieval", cfg.Retrieval)
	v.SetDefault("github", cfg.GitHub)
	v.SetDefault("server", cfg.Server)

	// Load from environment variables
	v.SetEnvPrefix("TSCOPE")
	v.AutomaticEnv()

	// Try to find config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".tscope")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".tscope"))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",       // Main environment file
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	// Also try loading from home directory
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".tscope", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	// Graph store
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Graph.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Graph.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		cfg.Graph.Password = pass
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		cfg.Graph.Database = db
	}
	if backend := os.Getenv("GRAPH_BACKEND"); backend != "" {
		cfg.Graph.Backend = backend
	}

	// GitHub configuration
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rl, err := strconv.Atoi(rateLimit); err == nil {
			cfg.GitHub.RateLimit = rl
		}
	}

	// API configuration
	// Precedence: 1. Env var (highest) 2. Keychain 3. Config file (lowest)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.API.OpenAIKey = key
	} else if cfg.API.OpenAIKey == "" {
		kc := NewKeychain()
		if kc.Available() {
			if stored, err := kc.Get(SecretOpenAIKey); err == nil && stored != "" {
				cfg.API.OpenAIKey = stored
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.API.GeminiKey = key
	} else if cfg.API.GeminiKey == "" {
		kc := NewKeychain()
		if kc.Available() {
			if stored, err := kc.Get(SecretGeminiKey); err == nil && stored != "" {
				cfg.API.GeminiKey = stored
			}
		}
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		cfg.API.Provider = provider
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.API.OpenAIModel = model
	}

	// Embedding configuration
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		cfg.Embedding.Model = model
	}
	if version := os.Getenv("EMBEDDING_MODEL_VERSION"); version != "" {
		cfg.Embedding.ModelVersion = version
	}
	if provider := os.Getenv("EMBEDDING_PROVIDER"); provider != "" {
		cfg.Embedding.Provider = provider
	}

	// Storage configuration
	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}

	// Cache configuration
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Cache.RedisHost = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Cache.RedisPort = p
		}
	}

	// Server configuration
	if addr := os.Getenv("TSCOPE_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
}

// Validate checks that configuration is usable for the given backend
func (c *Config) Validate() error {
	if c.Graph.Backend == "neo4j" {
		if c.Graph.URI == "" {
			return fmt.Errorf("graph.uri is required for the neo4j backend")
		}
		if c.Graph.Password == "" {
			return fmt.Errorf("NEO4J_PASSWORD is required for the neo4j backend")
		}
	}
	if c.Embedding.Provider == "openai" && c.API.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for the openai embedding provider")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive")
	}
	if c.Retrieval.HopLimit < 0 {
		return fmt.Errorf("retrieval.hop_limit must not be negative")
	}
	return nil
}

// Package config loads the service configuration: built-in defaults, then an
// optional YAML file, then environment variables (highest precedence).
// Missing credentials are reported by Validate and are fatal at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported provider and backend names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderScripted  = "scripted"

	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMem0   = "mem0"
)

var (
	// ErrMissingCredential marks a required credential or endpoint that is not set.
	ErrMissingCredential = errors.New("config: missing credential")
	// ErrInvalid marks a value outside the supported set.
	ErrInvalid = errors.New("config: invalid value")
)

// Config is the full service configuration.
type Config struct {
	Provider  string          `yaml:"provider"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Memory    MemoryConfig    `yaml:"memory"`
	PubMed    PubMedConfig    `yaml:"pubmed"`
	Runner    RunnerConfig    `yaml:"runner"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Log       LogConfig       `yaml:"log"`
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// MemoryConfig selects and configures the memory backend.
type MemoryConfig struct {
	Backend string     `yaml:"backend"`
	DataDir string     `yaml:"data_dir"`
	Mem0    Mem0Config `yaml:"mem0"`
}

// Mem0Config configures the mem0 server and the stores it is pointed at.
type Mem0Config struct {
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	QdrantURL      string `yaml:"qdrant_url"`
	QdrantAPIKey   string `yaml:"qdrant_api_key"`
	CollectionName string `yaml:"collection_name"`
	Neo4jURI       string `yaml:"neo4j_uri"`
	Neo4jUsername  string `yaml:"neo4j_username"`
	Neo4jPassword  string `yaml:"neo4j_password"`
	Neo4jDatabase  string `yaml:"neo4j_database"`
}

// PubMedConfig configures the literature search client.
type PubMedConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	Email             string  `yaml:"email"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// RunnerConfig bounds agent execution.
type RunnerConfig struct {
	MaxModelCalls    int    `yaml:"max_model_calls"`
	MaxParallelTools int    `yaml:"max_parallel_tools"`
	ToolRetries      int    `yaml:"tool_retries"`
	PromptVersion    string `yaml:"prompt_version"`
}

// ApprovalConfig configures paused-run handling.
type ApprovalConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	Backend string        `yaml:"backend"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		OpenAI:   OpenAIConfig{Model: "gpt-4.1"},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-5",
		},
		Memory: MemoryConfig{
			Backend: BackendSQLite,
			DataDir: ".medmesh",
		},
		PubMed: PubMedConfig{BaseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"},
		Runner: RunnerConfig{
			MaxModelCalls:    50,
			MaxParallelTools: 4,
			ToolRetries:      2,
			PromptVersion:    "v1.0",
		},
		Approval: ApprovalConfig{TTL: 24 * time.Hour, Backend: BackendSQLite},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
				return
			}
			*dst = n
		}
	}

	str("MEDMESH_PROVIDER", &c.Provider)
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("MEDMESH_OPENAI_MODEL", &c.OpenAI.Model)
	str("ANTHROPIC_API_KEY", &c.Anthropic.APIKey)
	str("MEDMESH_ANTHROPIC_MODEL", &c.Anthropic.Model)

	str("MEDMESH_MEMORY_BACKEND", &c.Memory.Backend)
	str("MEDMESH_DATA_DIR", &c.Memory.DataDir)
	str("MEM0_URL", &c.Memory.Mem0.URL)
	str("MEM0_API_KEY", &c.Memory.Mem0.APIKey)
	str("QDRANT_ENDPOINT", &c.Memory.Mem0.QdrantURL)
	str("QDRANT_API_KEY", &c.Memory.Mem0.QdrantAPIKey)
	str("NEO4J_URI", &c.Memory.Mem0.Neo4jURI)
	str("NEO4J_USERNAME", &c.Memory.Mem0.Neo4jUsername)
	str("NEO4J_PASSWORD", &c.Memory.Mem0.Neo4jPassword)
	str("NEO4J_DATABASE", &c.Memory.Mem0.Neo4jDatabase)

	str("PUBMED_BASE_URL", &c.PubMed.BaseURL)
	str("NCBI_API_KEY", &c.PubMed.APIKey)
	str("NCBI_EMAIL", &c.PubMed.Email)
	if v, ok := lookup("MEDMESH_PUBMED_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: MEDMESH_PUBMED_RPS=%q", ErrInvalid, v))
		} else {
			c.PubMed.RequestsPerSecond = f
		}
	}

	num("MEDMESH_MAX_MODEL_CALLS", &c.Runner.MaxModelCalls)
	num("MEDMESH_MAX_PARALLEL_TOOLS", &c.Runner.MaxParallelTools)
	num("MEDMESH_TOOL_RETRIES", &c.Runner.ToolRetries)
	str("MEDMESH_PROMPT_VERSION", &c.Runner.PromptVersion)

	if v, ok := lookup("MEDMESH_APPROVAL_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: MEDMESH_APPROVAL_TTL=%q", ErrInvalid, v))
		} else {
			c.Approval.TTL = d
		}
	}
	str("MEDMESH_CHECKPOINT_BACKEND", &c.Approval.Backend)

	str("MEDMESH_LOG_LEVEL", &c.Log.Level)
	str("MEDMESH_LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

// Validate reports every missing credential and unsupported value at once.
func (c *Config) Validate() error {
	var errs []error
	missing := func(what string) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingCredential, what))
	}
	invalid := func(field, value string) {
		errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, field, value))
	}

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			missing("OPENAI_API_KEY")
		}
	case ProviderAnthropic:
		if c.Anthropic.APIKey == "" {
			missing("ANTHROPIC_API_KEY")
		}
	case ProviderScripted:
	default:
		invalid("provider", c.Provider)
	}

	switch c.Memory.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.Memory.DataDir) == "" {
			missing("MEDMESH_DATA_DIR")
		}
	case BackendMem0:
		m := c.Memory.Mem0
		if m.URL == "" {
			missing("MEM0_URL")
		}
		if c.OpenAI.APIKey == "" && c.Provider != ProviderOpenAI {
			missing("OPENAI_API_KEY (mem0 embedder)")
		}
		if m.QdrantURL == "" {
			missing("QDRANT_ENDPOINT")
		}
		if m.Neo4jURI != "" && (m.Neo4jUsername == "" || m.Neo4jPassword == "") {
			missing("NEO4J_USERNAME/NEO4J_PASSWORD")
		}
	default:
		invalid("memory.backend", c.Memory.Backend)
	}

	switch c.Approval.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.Memory.DataDir) == "" && c.Memory.Backend != BackendSQLite {
			missing("MEDMESH_DATA_DIR")
		}
	default:
		invalid("approval.backend", c.Approval.Backend)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		invalid("log.format", c.Log.Format)
	}
	if c.Runner.MaxParallelTools < 0 {
		invalid("runner.max_parallel_tools", strconv.Itoa(c.Runner.MaxParallelTools))
	}

	return errors.Join(errs...)
}

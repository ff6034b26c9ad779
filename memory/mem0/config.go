package mem0

// Provider defaults used when building a ServerConfig.
const (
	DefaultEmbedderModel  = "text-embedding-3-small"
	DefaultLLMModel       = "gpt-4.1"
	DefaultCollectionName = "patient_memory"
	configVersion         = "v1.1"
)

// ProviderConfig is one "provider" + "config" block of the mem0 configuration.
type ProviderConfig struct {
	Provider string         `json:"provider"`
	Config   map[string]any `json:"config"`
}

// ServerConfig is the body of POST /configure.
type ServerConfig struct {
	Version     string          `json:"version"`
	Embedder    ProviderConfig  `json:"embedder"`
	LLM         ProviderConfig  `json:"llm"`
	VectorStore ProviderConfig  `json:"vector_store"`
	GraphStore  *ProviderConfig `json:"graph_store,omitempty"`
}

// Backends carries the credentials forwarded to the server.
type Backends struct {
	OpenAIAPIKey   string
	EmbedderModel  string
	LLMModel       string
	QdrantURL      string
	QdrantAPIKey   string
	CollectionName string
	Neo4jURI       string
	Neo4jUsername  string
	Neo4jPassword  string
	Neo4jDatabase  string
}

// NewServerConfig builds the configuration for an OpenAI embedder and LLM, a
// Qdrant vector store and, when a Neo4j URI is given, a Neo4j graph store.
func NewServerConfig(b Backends) ServerConfig {
	embedder := b.EmbedderModel
	if embedder == "" {
		embedder = DefaultEmbedderModel
	}
	llm := b.LLMModel
	if llm == "" {
		llm = DefaultLLMModel
	}
	collection := b.CollectionName
	if collection == "" {
		collection = DefaultCollectionName
	}

	cfg := ServerConfig{
		Version: configVersion,
		Embedder: ProviderConfig{Provider: "openai", Config: map[string]any{
			"api_key": b.OpenAIAPIKey,
			"model":   embedder,
		}},
		LLM: ProviderConfig{Provider: "openai", Config: map[string]any{
			"api_key": b.OpenAIAPIKey,
			"model":   llm,
		}},
		VectorStore: ProviderConfig{Provider: "qdrant", Config: map[string]any{
			"url":             b.QdrantURL,
			"api_key":         b.QdrantAPIKey,
			"collection_name": collection,
		}},
	}
	if b.Neo4jURI != "" {
		cfg.GraphStore = &ProviderConfig{Provider: "neo4j", Config: map[string]any{
			"url":      b.Neo4jURI,
			"username": b.Neo4jUsername,
			"password": b.Neo4jPassword,
			"database": b.Neo4jDatabase,
		}}
	}
	return cfg
}

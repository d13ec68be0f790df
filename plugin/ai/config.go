package ai

// EmbeddingConfig represents embedding provider configuration. Any
// OpenAI-compatible endpoint works; the provider is selected purely by
// BaseURL.
type EmbeddingConfig struct {
	BaseURL string // e.g. https://api.openai.com/v1
	APIKey  string
	Model   string // e.g. text-embedding-3-small
}

// modelDimensions fixes the vector dimensionality per embedding model.
// A collection created for a model is only ever written with vectors of
// that model's length.
var modelDimensions = map[string]int{
	"text-embedding-3-small":  1536,
	"text-embedding-3-large":  3072,
	"text-embedding-ada-002":  1536,
	"BAAI/bge-m3":             1024,
	"BAAI/bge-large-zh-v1.5":  1024,
	"BAAI/bge-large-en-v1.5":  1024,
	"nomic-embed-text":        768,
	"mxbai-embed-large":       1024,
	"all-MiniLM-L6-v2":        384,
}

// DefaultDimensions is used for models not in the table.
const DefaultDimensions = 1536

// ModelDimensions returns the vector dimensionality for a model,
// defaulting to DefaultDimensions for unknown models.
func ModelDimensions(model string) int {
	if dims, ok := modelDimensions[model]; ok {
		return dims
	}
	return DefaultDimensions
}

// Package settings holds the process-wide runtime configuration with an
// explicit load/save lifecycle. Every component reads settings through a
// Manager snapshot; mutation happens only through Update, driven by the
// configuration API, never by the engine itself.
package settings

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Settings is the full set of runtime-tunable configuration keys.
type Settings struct {
	// Vector store connection. Driver is one of qdrant, postgres or
	// sqlite; Endpoint is the base URL (qdrant) or DSN; APIKey is the
	// optional qdrant api-key.
	Driver   string `mapstructure:"driver" json:"driver"`
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	APIKey   string `mapstructure:"api_key" json:"api_key"`

	// Collection naming.
	BaseCollection string `mapstructure:"base_collection" json:"base_collection"`
	// PerEntity gives every entity its own collection; off means one
	// shared collection with per-entity search filtering.
	PerEntity bool `mapstructure:"per_entity" json:"per_entity"`

	// Embedding provider.
	EmbeddingBaseURL string `mapstructure:"embedding_base_url" json:"embedding_base_url"`
	EmbeddingAPIKey  string `mapstructure:"embedding_api_key" json:"embedding_api_key"`
	EmbeddingModel   string `mapstructure:"embedding_model" json:"embedding_model"`

	// Retrieval.
	Enabled         bool    `mapstructure:"enabled" json:"enabled"`
	MemoryLimit     int     `mapstructure:"memory_limit" json:"memory_limit"`
	ScoreThreshold  float64 `mapstructure:"score_threshold" json:"score_threshold"`
	InjectionOffset int     `mapstructure:"injection_offset" json:"injection_offset"`

	// Save policy.
	AutoSave         bool   `mapstructure:"auto_save" json:"auto_save"`
	SaveUser         bool   `mapstructure:"save_user" json:"save_user"`
	SaveEntity       bool   `mapstructure:"save_entity" json:"save_entity"`
	MinMessageLength int    `mapstructure:"min_message_length" json:"min_message_length"`
	// SavePolicy is an optional CEL expression over {text, speaker,
	// entity}; empty means no extra filtering.
	SavePolicy string `mapstructure:"save_policy" json:"save_policy"`
}

// Default returns the settings used when no config file exists yet.
func Default() Settings {
	return Settings{
		Driver:           "qdrant",
		Endpoint:         "http://localhost:6333",
		BaseCollection:   "memories",
		PerEntity:        true,
		EmbeddingBaseURL: "https://api.openai.com/v1",
		EmbeddingModel:   "text-embedding-3-small",
		Enabled:          true,
		MemoryLimit:      5,
		ScoreThreshold:   0.5,
		InjectionOffset:  2,
		AutoSave:         true,
		SaveUser:         true,
		SaveEntity:       true,
		MinMessageLength: 10,
	}
}

// Manager owns the settings lifecycle: load once at start, snapshot
// reads, explicit save. Reads are cheap copies so components never hold a
// reference into shared mutable state.
type Manager struct {
	mu      sync.RWMutex
	path    string
	current Settings
}

// NewManager creates a Manager persisting to the given file path.
func NewManager(path string) *Manager {
	return &Manager{
		path:    path,
		current: Default(),
	}
}

// Load reads the settings file. A missing file is not an error; the
// defaults stay in effect until the first Save.
func (m *Manager) Load() error {
	v := viper.New()
	v.SetConfigFile(m.path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrapf(err, "failed to read settings file %s", m.path)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return errors.Wrap(err, "failed to unmarshal settings")
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return nil
}

// Get returns a snapshot copy of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update applies a mutation and returns the resulting snapshot. It does
// not persist; call Save for that.
func (m *Manager) Update(mutate func(*Settings)) Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(&m.current)
	return m.current
}

// Save persists the current settings to the configured file path.
func (m *Manager) Save() error {
	snap := m.Get()

	v := viper.New()
	v.SetConfigFile(m.path)
	v.Set("driver", snap.Driver)
	v.Set("endpoint", snap.Endpoint)
	v.Set("api_key", snap.APIKey)
	v.Set("base_collection", snap.BaseCollection)
	v.Set("per_entity", snap.PerEntity)
	v.Set("embedding_base_url", snap.EmbeddingBaseURL)
	v.Set("embedding_api_key", snap.EmbeddingAPIKey)
	v.Set("embedding_model", snap.EmbeddingModel)
	v.Set("enabled", snap.Enabled)
	v.Set("memory_limit", snap.MemoryLimit)
	v.Set("score_threshold", snap.ScoreThreshold)
	v.Set("injection_offset", snap.InjectionOffset)
	v.Set("auto_save", snap.AutoSave)
	v.Set("save_user", snap.SaveUser)
	v.Set("save_entity", snap.SaveEntity)
	v.Set("min_message_length", snap.MinMessageLength)
	v.Set("save_policy", snap.SavePolicy)

	return errors.Wrapf(v.WriteConfigAs(m.path), "failed to write settings file %s", m.path)
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("driver", def.Driver)
	v.SetDefault("endpoint", def.Endpoint)
	v.SetDefault("api_key", def.APIKey)
	v.SetDefault("base_collection", def.BaseCollection)
	v.SetDefault("per_entity", def.PerEntity)
	v.SetDefault("embedding_base_url", def.EmbeddingBaseURL)
	v.SetDefault("embedding_api_key", def.EmbeddingAPIKey)
	v.SetDefault("embedding_model", def.EmbeddingModel)
	v.SetDefault("enabled", def.Enabled)
	v.SetDefault("memory_limit", def.MemoryLimit)
	v.SetDefault("score_threshold", def.ScoreThreshold)
	v.SetDefault("injection_offset", def.InjectionOffset)
	v.SetDefault("auto_save", def.AutoSave)
	v.SetDefault("save_user", def.SaveUser)
	v.SetDefault("save_entity", def.SaveEntity)
	v.SetDefault("min_message_length", def.MinMessageLength)
	v.SetDefault("save_policy", def.SavePolicy)
}

package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/everlore/recall/internal/settings"
	"github.com/everlore/recall/plugin/ai"
	"github.com/everlore/recall/store/db"
)

// SettingsPatch carries a partial settings update. Only non-nil fields
// are applied.
type SettingsPatch struct {
	Driver   *string `json:"driver"`
	Endpoint *string `json:"endpoint"`
	APIKey   *string `json:"api_key"`

	BaseCollection *string `json:"base_collection"`
	PerEntity      *bool   `json:"per_entity"`

	EmbeddingBaseURL *string `json:"embedding_base_url"`
	EmbeddingAPIKey  *string `json:"embedding_api_key"`
	EmbeddingModel   *string `json:"embedding_model"`

	Enabled         *bool    `json:"enabled"`
	MemoryLimit     *int     `json:"memory_limit"`
	ScoreThreshold  *float64 `json:"score_threshold"`
	InjectionOffset *int     `json:"injection_offset"`

	AutoSave         *bool   `json:"auto_save"`
	SaveUser         *bool   `json:"save_user"`
	SaveEntity       *bool   `json:"save_entity"`
	MinMessageLength *int    `json:"min_message_length"`
	SavePolicy       *string `json:"save_policy"`
}

// GetSettings returns the current runtime settings. Credentials are
// redacted to presence flags.
// GET /api/v1/settings
func (s *APIV1Service) GetSettings(c echo.Context) error {
	snap := s.Settings.Get()
	return c.JSON(http.StatusOK, redact(snap))
}

// UpdateSettings applies a partial update, persists it, and rebuilds
// the embedding client and save policy.
// PATCH /api/v1/settings
func (s *APIV1Service) UpdateSettings(c echo.Context) error {
	var patch SettingsPatch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	// Reject a bad policy before it replaces a working one.
	if patch.SavePolicy != nil && *patch.SavePolicy != "" {
		if _, err := ai.CompileSavePolicy(*patch.SavePolicy); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid save policy: " + err.Error()})
		}
	}
	if patch.MemoryLimit != nil && *patch.MemoryLimit < 1 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "memory_limit must be at least 1"})
	}
	if patch.ScoreThreshold != nil && (*patch.ScoreThreshold < 0 || *patch.ScoreThreshold > 1) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "score_threshold must be between 0 and 1"})
	}
	if patch.InjectionOffset != nil && *patch.InjectionOffset < 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "injection_offset must not be negative"})
	}

	prev := s.Settings.Get()
	snap := s.Settings.Update(func(st *settings.Settings) {
		applyPatch(st, &patch)
	})

	// A connection key change takes effect immediately, not on restart.
	// Build the new driver first so a bad value leaves the old backend
	// and the persisted settings untouched.
	if snap.Driver != prev.Driver || snap.Endpoint != prev.Endpoint || snap.APIKey != prev.APIKey {
		driver, err := db.NewDriver(snap.Driver, snap.Endpoint, snap.APIKey)
		if err != nil {
			s.Settings.Update(func(st *settings.Settings) { *st = prev })
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid vector store settings: " + err.Error()})
		}
		s.Memory.SwapDriver(driver)
	}

	if err := s.Settings.Save(); err != nil {
		slog.Error("failed to persist settings", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to persist settings"})
	}
	s.Memory.Reconfigure()

	return c.JSON(http.StatusOK, redact(snap))
}

func applyPatch(st *settings.Settings, p *SettingsPatch) {
	if p.Driver != nil {
		st.Driver = *p.Driver
	}
	if p.Endpoint != nil {
		st.Endpoint = *p.Endpoint
	}
	if p.APIKey != nil {
		st.APIKey = *p.APIKey
	}
	if p.BaseCollection != nil {
		st.BaseCollection = *p.BaseCollection
	}
	if p.PerEntity != nil {
		st.PerEntity = *p.PerEntity
	}
	if p.EmbeddingBaseURL != nil {
		st.EmbeddingBaseURL = *p.EmbeddingBaseURL
	}
	if p.EmbeddingAPIKey != nil {
		st.EmbeddingAPIKey = *p.EmbeddingAPIKey
	}
	if p.EmbeddingModel != nil {
		st.EmbeddingModel = *p.EmbeddingModel
	}
	if p.Enabled != nil {
		st.Enabled = *p.Enabled
	}
	if p.MemoryLimit != nil {
		st.MemoryLimit = *p.MemoryLimit
	}
	if p.ScoreThreshold != nil {
		st.ScoreThreshold = *p.ScoreThreshold
	}
	if p.InjectionOffset != nil {
		st.InjectionOffset = *p.InjectionOffset
	}
	if p.AutoSave != nil {
		st.AutoSave = *p.AutoSave
	}
	if p.SaveUser != nil {
		st.SaveUser = *p.SaveUser
	}
	if p.SaveEntity != nil {
		st.SaveEntity = *p.SaveEntity
	}
	if p.MinMessageLength != nil {
		st.MinMessageLength = *p.MinMessageLength
	}
	if p.SavePolicy != nil {
		st.SavePolicy = *p.SavePolicy
	}
}

// SettingsView is the API shape of the settings, with secrets replaced
// by presence flags.
type SettingsView struct {
	Driver    string `json:"driver"`
	Endpoint  string `json:"endpoint"`
	APIKeySet bool   `json:"api_key_set"`

	BaseCollection string `json:"base_collection"`
	PerEntity      bool   `json:"per_entity"`

	EmbeddingBaseURL   string `json:"embedding_base_url"`
	EmbeddingAPIKeySet bool   `json:"embedding_api_key_set"`
	EmbeddingModel     string `json:"embedding_model"`

	Enabled         bool    `json:"enabled"`
	MemoryLimit     int     `json:"memory_limit"`
	ScoreThreshold  float64 `json:"score_threshold"`
	InjectionOffset int     `json:"injection_offset"`

	AutoSave         bool   `json:"auto_save"`
	SaveUser         bool   `json:"save_user"`
	SaveEntity       bool   `json:"save_entity"`
	MinMessageLength int    `json:"min_message_length"`
	SavePolicy       string `json:"save_policy"`
}

func redact(s settings.Settings) SettingsView {
	return SettingsView{
		Driver:             s.Driver,
		Endpoint:           s.Endpoint,
		APIKeySet:          s.APIKey != "",
		BaseCollection:     s.BaseCollection,
		PerEntity:          s.PerEntity,
		EmbeddingBaseURL:   s.EmbeddingBaseURL,
		EmbeddingAPIKeySet: s.EmbeddingAPIKey != "",
		EmbeddingModel:     s.EmbeddingModel,
		Enabled:            s.Enabled,
		MemoryLimit:        s.MemoryLimit,
		ScoreThreshold:     s.ScoreThreshold,
		InjectionOffset:    s.InjectionOffset,
		AutoSave:           s.AutoSave,
		SaveUser:           s.SaveUser,
		SaveEntity:         s.SaveEntity,
		MinMessageLength:   s.MinMessageLength,
		SavePolicy:         s.SavePolicy,
	}
}

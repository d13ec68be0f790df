package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for the server
	Addr string
	// Port is the binding port for the server
	Port int
	// Data is the data directory (settings file lives here)
	Data string
	// Version is the current version of the server
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// SettingsPath is where the runtime settings file is persisted.
func (p *Profile) SettingsPath() string {
	return filepath.Join(p.Data, "settings.yaml")
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from RECALL_* environment variables.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("RECALL_MODE", p.Mode)
	p.Addr = getEnvOrDefault("RECALL_ADDR", p.Addr)
	p.Data = getEnvOrDefault("RECALL_DATA", p.Data)
	if port := os.Getenv("RECALL_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			p.Port = v
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

	if p.Data == "" {
		p.Data = os.TempDir()
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	return nil
}

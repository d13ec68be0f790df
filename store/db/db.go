// Package db selects a concrete vector store driver.
//
// Qdrant is the primary backend with full server-side filtering and
// thresholding. PostgreSQL (pgvector) is supported for deployments that
// already run Postgres. SQLite is for development and single-user use.
package db

import (
	"github.com/pkg/errors"

	"github.com/everlore/recall/store"
	"github.com/everlore/recall/store/db/postgres"
	"github.com/everlore/recall/store/db/qdrant"
	"github.com/everlore/recall/store/db/sqlite"
)

// NewDriver creates a vector store driver by name. For qdrant, endpoint
// is the HTTP base URL and apiKey the optional api-key header value; for
// postgres and sqlite, endpoint is the DSN and apiKey is ignored.
func NewDriver(name, endpoint, apiKey string) (store.Driver, error) {
	switch name {
	case "qdrant", "":
		return qdrant.NewDB(endpoint, apiKey), nil
	case "postgres":
		driver, err := postgres.NewDB(endpoint)
		return driver, errors.Wrap(err, "failed to create postgres driver")
	case "sqlite":
		driver, err := sqlite.NewDB(endpoint)
		return driver, errors.Wrap(err, "failed to create sqlite driver")
	default:
		return nil, errors.Errorf("unknown vector store driver: %q (supported: qdrant, postgres, sqlite)", name)
	}
}

package store

import (
	"context"
	"log/slog"
	"sync"
)

// Store provides access to the vector database through a Driver.
//
// Every method converts driver failures into a plain return value
// (false / nil / empty) plus a diagnostic log. Callers in the memory
// engine never need error handling for expected failure modes such as
// network outages or missing collections; a failure here degrades memory
// quality, never the host chat flow.
type Store struct {
	// drvMu guards driver, which can be swapped at runtime when the
	// connection settings change.
	drvMu  sync.RWMutex
	driver Driver

	// ensureMu serializes Ensure per collection so concurrent save and
	// retrieval paths issue at most one creation attempt each.
	mu        sync.Mutex
	ensureMus map[string]*sync.Mutex
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	return &Store{
		driver:    driver,
		ensureMus: make(map[string]*sync.Mutex),
	}
}

// GetDriver returns the underlying driver.
func (s *Store) GetDriver() Driver {
	s.drvMu.RLock()
	defer s.drvMu.RUnlock()
	return s.driver
}

// SetDriver replaces the underlying driver and closes the previous one.
// In-flight calls finish against the driver they started with.
func (s *Store) SetDriver(driver Driver) {
	s.drvMu.Lock()
	old := s.driver
	s.driver = driver
	s.drvMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			slog.Warn("failed to close replaced driver", "error", err)
		}
	}
}

func (s *Store) Close() error {
	return s.GetDriver().Close()
}

// Exists reports whether the collection is present. Any failure,
// including transport failure, reads as false.
func (s *Store) Exists(ctx context.Context, collection string) bool {
	ok, err := s.GetDriver().CollectionExists(ctx, collection)
	if err != nil {
		slog.Warn("collection existence probe failed", "collection", collection, "error", err)
		return false
	}
	return ok
}

// Create issues a create request with the given dimensionality and cosine
// distance. It does not retry.
func (s *Store) Create(ctx context.Context, collection string, dimensions int) bool {
	if err := s.GetDriver().CreateCollection(ctx, collection, dimensions); err != nil {
		slog.Error("failed to create collection", "collection", collection, "dimensions", dimensions, "error", err)
		return false
	}
	slog.Info("collection created", "collection", collection, "dimensions", dimensions)
	return true
}

// Ensure checks existence and creates the collection if absent, returning
// the final existence state. Concurrent Ensure calls for the same
// collection are serialized so the backend sees a single creation.
func (s *Store) Ensure(ctx context.Context, collection string, dimensions int) bool {
	mu := s.ensureLock(collection)
	mu.Lock()
	defer mu.Unlock()

	if s.Exists(ctx, collection) {
		return true
	}
	return s.Create(ctx, collection, dimensions)
}

// UpsertPoint writes one record with overwrite semantics. A vector whose
// length does not match the collection's dimensionality is rejected by
// the driver; the record is dropped, not padded or truncated.
func (s *Store) UpsertPoint(ctx context.Context, collection string, record MemoryRecord) bool {
	if err := s.GetDriver().UpsertPoint(ctx, collection, record); err != nil {
		slog.Error("failed to upsert point", "collection", collection, "id", record.ID, "error", err)
		return false
	}
	return true
}

// Search returns ranked neighbors, or nil on any failure.
func (s *Store) Search(ctx context.Context, collection string, opts SearchOptions) []ScoredRecord {
	results, err := s.GetDriver().Search(ctx, collection, opts)
	if err != nil {
		slog.Error("vector search failed", "collection", collection, "error", err)
		return nil
	}
	return results
}

// GetInfo returns collection statistics, or nil on any failure.
func (s *Store) GetInfo(ctx context.Context, collection string) *CollectionInfo {
	info, err := s.GetDriver().GetCollectionInfo(ctx, collection)
	if err != nil {
		slog.Warn("failed to get collection info", "collection", collection, "error", err)
		return nil
	}
	return info
}

// DeleteCollection irreversibly removes the collection.
func (s *Store) DeleteCollection(ctx context.Context, collection string) bool {
	if err := s.GetDriver().DeleteCollection(ctx, collection); err != nil {
		slog.Error("failed to delete collection", "collection", collection, "error", err)
		return false
	}
	slog.Info("collection deleted", "collection", collection)
	return true
}

func (s *Store) ensureLock(collection string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.ensureMus[collection]
	if !ok {
		mu = &sync.Mutex{}
		s.ensureMus[collection] = mu
	}
	return mu
}

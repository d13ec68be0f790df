package store

import "context"

// Driver is the contract a vector database backend must implement.
// Drivers return errors in the usual way; the Store facade is the layer
// that converts them into the non-throwing contract the memory engine
// relies on.
type Driver interface {
	// CollectionExists reports whether the collection is present.
	// A definitive "not found" is (false, nil); transport failures are
	// returned as errors.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// CreateCollection creates the collection with the given vector
	// dimensionality and cosine distance. Creating a collection that
	// already exists is not an error.
	CreateCollection(ctx context.Context, name string, dimensions int) error

	// UpsertPoint writes one record keyed by record.ID with overwrite
	// semantics. Fails if record.Vector length does not match the
	// collection's dimensionality.
	UpsertPoint(ctx context.Context, collection string, record MemoryRecord) error

	// Search returns up to opts.Limit nearest neighbors with score >=
	// opts.ScoreThreshold, ordered descending by score.
	Search(ctx context.Context, collection string, opts SearchOptions) ([]ScoredRecord, error)

	// GetCollectionInfo returns point/vector counts and dimensionality.
	GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	// DeleteCollection irreversibly removes the collection and all
	// contained records.
	DeleteCollection(ctx context.Context, name string) error

	Close() error
}

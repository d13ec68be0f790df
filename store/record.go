package store

// Speaker identifies which side of the conversation produced a turn.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerEntity Speaker = "entity"
)

// Valid reports whether the speaker is one of the known values.
func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerEntity
}

// MemoryRecord is a single persisted conversational unit.
// Once written, Vector and NamespaceKey are immutable; an ID is never
// reused within a collection after deletion.
type MemoryRecord struct {
	// ID is unique within a collection. Caller-supplied (the message ID)
	// or a generated UUID when the caller has none.
	ID string `json:"id"`
	// Vector length must equal the dimensionality the collection was
	// created with. Mismatches are a hard failure at the driver.
	Vector []float32 `json:"vector,omitempty"`
	// Text is the original message content, unbounded. Display layers
	// truncate, storage does not.
	Text    string  `json:"text"`
	Speaker Speaker `json:"speaker"`
	// NamespaceKey is the logical owner (the character name). Stored even
	// in per-entity mode so shared collections can filter on it.
	NamespaceKey string `json:"namespace_key"`
	// MessageID is the host application's identity for the message, kept
	// for traceability. Empty when the host supplied none.
	MessageID string `json:"message_id,omitempty"`
	// CreatedAt is milliseconds since epoch.
	CreatedAt int64 `json:"created_at"`
}

// ScoredRecord pairs a record with its cosine similarity score against a
// query vector. Scores live in [-1, 1], practically [0, 1] for typical
// embedding models.
type ScoredRecord struct {
	MemoryRecord
	Score float64 `json:"score"`
}

// SearchOptions parameterizes a nearest-neighbor search.
type SearchOptions struct {
	Vector         []float32
	Limit          int
	ScoreThreshold float64
	// NamespaceKey, when non-empty, restricts results to records owned by
	// that logical entity. Used only in shared-collection mode; per-entity
	// collections are structurally isolated and need no filter.
	NamespaceKey string
}

// CollectionInfo summarizes a collection.
type CollectionInfo struct {
	PointCount  int `json:"point_count"`
	VectorCount int `json:"vector_count"`
	Dimensions  int `json:"dimensions"`
}

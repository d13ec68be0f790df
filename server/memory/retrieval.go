package memory

import (
	"context"
	"log/slog"

	"github.com/everlore/recall/store"
)

// Retrieve returns the ranked memories relevant to a query turn, or an
// empty list: when retrieval is disabled, when the embedding provider or
// vector store is unavailable, or when nothing clears the score
// threshold. It never fails in a way the caller has to handle.
func (s *Service) Retrieve(ctx context.Context, query, entity string) []store.ScoredRecord {
	snap := s.settings.Get()
	if !snap.Enabled {
		return nil
	}

	embedder := s.currentEmbedder()
	if embedder == nil {
		slog.Debug("retrieval skipped, embedding service unavailable", "entity", entity)
		return nil
	}

	collection := ResolveCollection(snap.BaseCollection, snap.PerEntity, entity)
	if !s.vectors.Ensure(ctx, collection, embedder.Dimensions()) {
		slog.Warn("retrieval skipped, collection unavailable", "collection", collection)
		return nil
	}

	vector, err := embedder.Embed(ctx, query)
	if err != nil {
		slog.Error("retrieval skipped, query embedding failed", "collection", collection, "error", err)
		return nil
	}

	opts := store.SearchOptions{
		Vector:         vector,
		Limit:          snap.MemoryLimit,
		ScoreThreshold: snap.ScoreThreshold,
	}
	// Shared collections hold every entity's memories; isolate by owner.
	// Per-entity collections are isolated structurally.
	if !snap.PerEntity {
		opts.NamespaceKey = entity
	}

	results := s.vectors.Search(ctx, collection, opts)
	slog.Debug("memories retrieved", "collection", collection, "count", len(results))
	return results
}

// PrepareContext retrieves memories for the query turn and returns a
// copy of the outgoing message sequence with the rendered memory block
// spliced in at the configured offset from the end. The input sequence
// is never mutated; with nothing to inject it is returned unchanged.
func (s *Service) PrepareContext(ctx context.Context, messages []ChatMessage, query, entity string) []ChatMessage {
	records := s.Retrieve(ctx, query, entity)
	if len(records) == 0 {
		return messages
	}

	snap := s.settings.Get()
	entry := ChatMessage{
		Role:    RoleMemory,
		Content: FormatBlock(records),
	}
	return InjectIntoCopy(messages, entry, snap.InjectionOffset)
}

// Package memory implements the conversational memory lifecycle engine:
// collection naming, the save queue, retrieval and context injection.
//
// Nothing in this package returns an error to the host-facing surface.
// Infrastructure failures degrade to "no memories" so an in-progress
// generation can never be aborted by the memory system.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/everlore/recall/internal/settings"
	"github.com/everlore/recall/plugin/ai"
	"github.com/everlore/recall/server/internal/observability"
	"github.com/everlore/recall/store"
)

// Service ties the resolver, vector store, embedding provider and save
// queue together behind the host-facing operations.
type Service struct {
	settings *settings.Manager
	vectors  *store.Store
	queue    *SaveQueue

	mu       sync.RWMutex
	embedder ai.EmbeddingService
	policy   *ai.SavePolicy
}

// NewService creates the memory service and builds the embedding client
// and save policy from the current settings.
func NewService(settingsMgr *settings.Manager, vectors *store.Store) *Service {
	s := &Service{
		settings: settingsMgr,
		vectors:  vectors,
	}
	s.queue = NewSaveQueue(settingsMgr, vectors, s.currentEmbedder, s.currentPolicy)
	s.Reconfigure()
	return s
}

// Start launches the background save queue; it runs until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Wait blocks until background work has stopped.
func (s *Service) Wait() {
	s.queue.Wait()
}

// Queue exposes the save queue, mainly for introspection.
func (s *Service) Queue() *SaveQueue {
	return s.queue
}

// Metrics exposes the save-path operation counters.
func (s *Service) Metrics() *observability.Metrics {
	return s.queue.Metrics()
}

// SwapDriver replaces the vector store backend at runtime, closing the
// previous one. Used when a settings update changes the connection keys.
func (s *Service) SwapDriver(driver store.Driver) {
	s.vectors.SetDriver(driver)
}

// Reconfigure rebuilds the embedding client and save policy from the
// current settings. Called once at startup and again after every
// configuration update.
func (s *Service) Reconfigure() {
	snap := s.settings.Get()

	embedder, err := ai.NewEmbeddingService(&ai.EmbeddingConfig{
		BaseURL: snap.EmbeddingBaseURL,
		APIKey:  snap.EmbeddingAPIKey,
		Model:   snap.EmbeddingModel,
	})
	if err != nil {
		// Not fatal: retrieval and saving degrade to no-ops until a
		// credential is configured.
		slog.Warn("embedding service unavailable", "model", snap.EmbeddingModel, "error", err)
		embedder = nil
	}

	policy, err := ai.CompileSavePolicy(snap.SavePolicy)
	if err != nil {
		slog.Error("invalid save policy ignored", "policy", snap.SavePolicy, "error", err)
		policy = nil
	}

	s.mu.Lock()
	s.embedder = embedder
	s.policy = policy
	s.mu.Unlock()
}

// SetEmbedder replaces the embedding service. Lets library consumers
// bring their own provider instead of the OpenAI-compatible default.
func (s *Service) SetEmbedder(embedder ai.EmbeddingService) {
	s.mu.Lock()
	s.embedder = embedder
	s.mu.Unlock()
}

func (s *Service) currentEmbedder() ai.EmbeddingService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embedder
}

func (s *Service) currentPolicy() *ai.SavePolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SaveTurn submits one conversation turn for persistence. Fire and
// forget: the write happens on the queue's drain loop. Returns whether
// the turn was accepted into the queue.
func (s *Service) SaveTurn(text, entity string, speaker store.Speaker, messageID string) bool {
	return s.queue.Enqueue(SaveRequest{
		Text:      text,
		Entity:    entity,
		Speaker:   speaker,
		MessageID: messageID,
	})
}

// CollectionInfo returns statistics for the entity's collection, or nil
// when it does not exist or the store is unreachable.
func (s *Service) CollectionInfo(ctx context.Context, entity string) *store.CollectionInfo {
	snap := s.settings.Get()
	collection := ResolveCollection(snap.BaseCollection, snap.PerEntity, entity)
	return s.vectors.GetInfo(ctx, collection)
}

// PurgeEntity irreversibly deletes the entity's collection and every
// memory in it.
func (s *Service) PurgeEntity(ctx context.Context, entity string) bool {
	snap := s.settings.Get()
	collection := ResolveCollection(snap.BaseCollection, snap.PerEntity, entity)
	return s.vectors.DeleteCollection(ctx, collection)
}

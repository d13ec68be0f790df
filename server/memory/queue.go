package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/everlore/recall/internal/settings"
	"github.com/everlore/recall/plugin/ai"
	"github.com/everlore/recall/server/internal/observability"
	"github.com/everlore/recall/store"
)

// SaveRequest is a pending persistence request for one conversation turn.
type SaveRequest struct {
	Text      string
	Entity    string
	Speaker   store.Speaker
	MessageID string
}

// dedupKey identifies a logical message for queue deduplication. The
// canonical message identity is the caller-supplied message ID verbatim;
// turns without an ID are never deduplicated.
func (r SaveRequest) dedupKey() string {
	if r.MessageID == "" {
		return ""
	}
	return r.MessageID + "\x00" + r.Entity
}

// SaveQueue accepts save requests without blocking the caller and drains
// them to the vector store one at a time in submission order. A single
// consumer goroutine owns the pop-and-process loop, so there is never
// more than one write in flight and one item's failure only costs that
// item.
//
// The queue is not persisted: items still queued when the process stops
// are lost. Best-effort, not at-least-once.
type SaveQueue struct {
	settings *settings.Manager
	vectors  *store.Store
	embedder func() ai.EmbeddingService
	policy   func() *ai.SavePolicy
	metrics  *observability.Metrics

	mu      sync.Mutex
	pending []SaveRequest
	queued  map[string]struct{} // dedup keys of queued and in-flight items
	closed  bool

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewSaveQueue creates a queue draining into vectors. embedder and
// policy are read per item so runtime reconfiguration takes effect
// without restarting the queue.
func NewSaveQueue(settingsMgr *settings.Manager, vectors *store.Store,
	embedder func() ai.EmbeddingService, policy func() *ai.SavePolicy) *SaveQueue {
	return &SaveQueue{
		settings: settingsMgr,
		vectors:  vectors,
		embedder: embedder,
		policy:   policy,
		metrics:  observability.NewMetrics(),
		queued:   make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Metrics exposes the operation counters the queue maintains.
func (q *SaveQueue) Metrics() *observability.Metrics {
	return q.metrics
}

// Start launches the drain loop. It runs until ctx is cancelled.
func (q *SaveQueue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(ctx)
	}()
}

// Wait blocks until the drain loop has exited.
func (q *SaveQueue) Wait() {
	q.wg.Wait()
}

// Len returns the number of queued (not yet popped) items.
func (q *SaveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Enqueue applies the save policy and appends the request to the queue
// tail. It never blocks and never fails loudly: a rejected request is a
// silent no-op apart from a debug log. Returns whether the request was
// accepted.
func (q *SaveQueue) Enqueue(req SaveRequest) bool {
	snap := q.settings.Get()

	switch {
	case !snap.AutoSave:
		return q.reject(req, "auto-save disabled")
	case q.embedder() == nil:
		return q.reject(req, "no embedding credential configured")
	case utf8.RuneCountInString(req.Text) < snap.MinMessageLength:
		return q.reject(req, "below minimum message length")
	case !req.Speaker.Valid():
		return q.reject(req, "unknown speaker")
	case req.Speaker == store.SpeakerUser && !snap.SaveUser:
		return q.reject(req, "user saves disabled")
	case req.Speaker == store.SpeakerEntity && !snap.SaveEntity:
		return q.reject(req, "entity saves disabled")
	case !q.policy().Allow(req.Text, string(req.Speaker), req.Entity):
		return q.reject(req, "vetoed by save policy")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if key := req.dedupKey(); key != "" {
		if _, dup := q.queued[key]; dup {
			q.mu.Unlock()
			return q.reject(req, "duplicate message already queued")
		}
		q.queued[key] = struct{}{}
	}
	q.pending = append(q.pending, req)
	q.mu.Unlock()

	q.metrics.RecordSaveAccepted()

	// Non-blocking wake; a pending signal already covers this item.
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *SaveQueue) reject(req SaveRequest, reason string) bool {
	q.metrics.RecordSaveDropped()
	slog.Debug("save request dropped",
		"entity", req.Entity,
		"message_id", req.MessageID,
		"reason", reason)
	return false
}

func (q *SaveQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.closed = true
			dropped := len(q.pending)
			q.mu.Unlock()
			if dropped > 0 {
				slog.Warn("save queue stopped with undrained items", "count", dropped)
			} else {
				slog.Info("save queue stopped")
			}
			return
		case <-q.wake:
		}

		// Re-check queue length rather than a snapshotted count so items
		// enqueued mid-drain are handled by this same pass.
		for {
			req, ok := q.pop()
			if !ok {
				break
			}
			q.process(ctx, req)
			q.release(req)
		}
	}
}

func (q *SaveQueue) pop() (SaveRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return SaveRequest{}, false
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	return req, true
}

// release frees the dedup key once the item's attempt fully resolved.
// Until then a re-enqueue of the same message is still a duplicate.
func (q *SaveQueue) release(req SaveRequest) {
	key := req.dedupKey()
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.queued, key)
	q.mu.Unlock()
}

// process attempts one item end to end. Any failure aborts only this
// item; the next queued item proceeds regardless.
func (q *SaveQueue) process(ctx context.Context, req SaveRequest) {
	start := time.Now()
	snap := q.settings.Get()
	collection := ResolveCollection(snap.BaseCollection, snap.PerEntity, req.Entity)

	embedder := q.embedder()
	if embedder == nil {
		slog.Warn("skipping save, embedding service unavailable", "entity", req.Entity, "message_id", req.MessageID)
		return
	}

	if !q.vectors.Ensure(ctx, collection, embedder.Dimensions()) {
		slog.Error("skipping save, collection unavailable", "collection", collection, "message_id", req.MessageID)
		return
	}

	vector, err := embedder.Embed(ctx, req.Text)
	if err != nil {
		q.metrics.RecordEmbeddingError()
		slog.Error("skipping save, embedding failed", "collection", collection, "message_id", req.MessageID, "error", err)
		return
	}

	id := pointID(req.Entity, req.MessageID)
	record := store.MemoryRecord{
		ID:           id,
		Vector:       vector,
		Text:         req.Text,
		Speaker:      req.Speaker,
		NamespaceKey: req.Entity,
		MessageID:    req.MessageID,
		CreatedAt:    time.Now().UnixMilli(),
	}
	if q.vectors.UpsertPoint(ctx, collection, record) {
		q.metrics.RecordPointWritten(time.Since(start))
		slog.Debug("memory saved", "collection", collection, "id", id, "speaker", record.Speaker)
	}
}

// pointID maps a save request onto its point ID. Vector stores commonly
// restrict point IDs to UUIDs (Qdrant rejects arbitrary strings), so a
// host message ID that is not itself a UUID is mapped to a deterministic
// name-based UUID: the same message always lands on the same point and
// re-saves stay idempotent overwrites. Turns without a message ID get a
// fresh random UUID.
func pointID(entity, messageID string) string {
	if messageID == "" {
		return uuid.NewString()
	}
	if _, err := uuid.Parse(messageID); err == nil {
		return messageID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(entity+"\x00"+messageID)).String()
}

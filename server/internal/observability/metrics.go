package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics aggregates counters for memory operations. All methods are
// safe for concurrent use.
type Metrics struct {
	retrieveTotal   atomic.Int64
	retrieveHits    atomic.Int64
	savesAccepted   atomic.Int64
	savesDropped    atomic.Int64
	pointsWritten   atomic.Int64
	embeddingErrors atomic.Int64

	mu              sync.Mutex
	retrieveDurTot  time.Duration
	retrieveSamples int64
	saveDurTot      time.Duration
	saveSamples     int64
}

// NewMetrics creates an empty metrics aggregator.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRetrieve records a completed retrieval with the number of
// results returned to the caller.
func (m *Metrics) RecordRetrieve(resultCount int, d time.Duration) {
	m.retrieveTotal.Add(1)
	if resultCount > 0 {
		m.retrieveHits.Add(1)
	}
	m.mu.Lock()
	m.retrieveDurTot += d
	m.retrieveSamples++
	m.mu.Unlock()
}

// RecordSaveAccepted records a save request that passed the gates and
// was queued.
func (m *Metrics) RecordSaveAccepted() {
	m.savesAccepted.Add(1)
}

// RecordSaveDropped records a save request rejected before queueing.
func (m *Metrics) RecordSaveDropped() {
	m.savesDropped.Add(1)
}

// RecordPointWritten records a point persisted to the vector store.
func (m *Metrics) RecordPointWritten(d time.Duration) {
	m.pointsWritten.Add(1)
	m.mu.Lock()
	m.saveDurTot += d
	m.saveSamples++
	m.mu.Unlock()
}

// RecordEmbeddingError records a failed embedding call.
func (m *Metrics) RecordEmbeddingError() {
	m.embeddingErrors.Add(1)
}

// Snapshot is a point-in-time copy of the counters, shaped for the
// metrics endpoint.
type Snapshot struct {
	RetrieveTotal     int64   `json:"retrieve_total"`
	RetrieveHits      int64   `json:"retrieve_hits"`
	SavesAccepted     int64   `json:"saves_accepted"`
	SavesDropped      int64   `json:"saves_dropped"`
	PointsWritten     int64   `json:"points_written"`
	EmbeddingErrors   int64   `json:"embedding_errors"`
	AvgRetrieveMs     float64 `json:"avg_retrieve_ms"`
	AvgSaveMs         float64 `json:"avg_save_ms"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	SnapshotTimestamp int64   `json:"snapshot_ts"`
}

var startTime = time.Now()

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		RetrieveTotal:     m.retrieveTotal.Load(),
		RetrieveHits:      m.retrieveHits.Load(),
		SavesAccepted:     m.savesAccepted.Load(),
		SavesDropped:      m.savesDropped.Load(),
		PointsWritten:     m.pointsWritten.Load(),
		EmbeddingErrors:   m.embeddingErrors.Load(),
		UptimeSeconds:     int64(time.Since(startTime).Seconds()),
		SnapshotTimestamp: time.Now().UnixMilli(),
	}
	m.mu.Lock()
	if m.retrieveSamples > 0 {
		s.AvgRetrieveMs = float64(m.retrieveDurTot.Milliseconds()) / float64(m.retrieveSamples)
	}
	if m.saveSamples > 0 {
		s.AvgSaveMs = float64(m.saveDurTot.Milliseconds()) / float64(m.saveSamples)
	}
	m.mu.Unlock()
	return s
}

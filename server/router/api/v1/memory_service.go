package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/everlore/recall/server/internal/observability"
	"github.com/everlore/recall/server/memory"
	"github.com/everlore/recall/store"
)

// RetrieveRequest asks for the memories relevant to one query turn.
type RetrieveRequest struct {
	Query  string `json:"query"`
	Entity string `json:"entity"`
}

// RetrievedMemory is one scored memory in a retrieval response.
type RetrievedMemory struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Speaker   string  `json:"speaker"`
	Score     float64 `json:"score"`
	CreatedAt int64   `json:"created_at"`
}

// RetrieveResponse is the ranked retrieval result.
type RetrieveResponse struct {
	Memories []RetrievedMemory `json:"memories"`
}

// RetrieveMemories returns the ranked memories for a query turn.
// POST /api/v1/memory/retrieve
func (s *APIV1Service) RetrieveMemories(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "query is required"})
	}

	rc := observability.NewRequestContext(slog.Default(), "retrieve", req.Entity)
	records := s.Memory.Retrieve(c.Request().Context(), req.Query, req.Entity)
	s.Metrics.RecordRetrieve(len(records), rc.Duration())
	rc.Debug("retrieval completed",
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
		slog.Int(observability.LogFieldResultCount, len(records)))

	resp := RetrieveResponse{Memories: make([]RetrievedMemory, 0, len(records))}
	for _, r := range records {
		resp.Memories = append(resp.Memories, RetrievedMemory{
			ID:        r.ID,
			Text:      r.Text,
			Speaker:   string(r.Speaker),
			Score:     r.Score,
			CreatedAt: r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// InjectRequest carries an outgoing message sequence plus the query
// turn used to look up memories.
type InjectRequest struct {
	Messages []memory.ChatMessage `json:"messages"`
	Query    string               `json:"query"`
	Entity   string               `json:"entity"`
}

// InjectResponse is the message sequence with the memory block spliced
// in, or the original sequence when nothing was retrieved.
type InjectResponse struct {
	Messages []memory.ChatMessage `json:"messages"`
	Injected bool                 `json:"injected"`
}

// InjectMemories retrieves memories for the query and returns the
// message sequence with the rendered block inserted.
// POST /api/v1/memory/inject
func (s *APIV1Service) InjectMemories(c echo.Context) error {
	var req InjectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "query is required"})
	}

	out := s.Memory.PrepareContext(c.Request().Context(), req.Messages, req.Query, req.Entity)
	return c.JSON(http.StatusOK, InjectResponse{
		Messages: out,
		Injected: len(out) != len(req.Messages),
	})
}

// SaveRequest submits one conversation turn for persistence.
type SaveRequest struct {
	Text      string `json:"text"`
	Entity    string `json:"entity"`
	Speaker   string `json:"speaker"`
	MessageID string `json:"message_id"`
}

// SaveResponse acknowledges a queued (or rejected) save.
type SaveResponse struct {
	RequestUID string `json:"request_uid"`
	Accepted   bool   `json:"accepted"`
}

// SaveMemory enqueues a turn for background persistence. The write
// itself happens asynchronously; 202 means queued, not written.
// POST /api/v1/memory/save
func (s *APIV1Service) SaveMemory(c echo.Context) error {
	var req SaveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	speaker := store.Speaker(req.Speaker)
	if !speaker.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "speaker must be user or entity"})
	}

	accepted := s.Memory.SaveTurn(req.Text, req.Entity, speaker, req.MessageID)
	return c.JSON(http.StatusAccepted, SaveResponse{
		RequestUID: shortuuid.New(),
		Accepted:   accepted,
	})
}

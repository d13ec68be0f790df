package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everlore/recall/internal/profile"
	"github.com/everlore/recall/internal/settings"
	"github.com/everlore/recall/server/memory"
	"github.com/everlore/recall/store"
	"github.com/everlore/recall/store/db/sqlite"
)

type fixedEmbedder struct {
	vector []float32
}

func (e *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return e.vector, nil
}

func (e *fixedEmbedder) Dimensions() int { return len(e.vector) }

func newTestAPI(t *testing.T) (*APIV1Service, *memory.Service, *settings.Manager) {
	t.Helper()
	dir := t.TempDir()

	driver, err := sqlite.NewDB(filepath.Join(dir, "recall.db"))
	require.NoError(t, err)
	vectors := store.New(driver)
	t.Cleanup(func() { _ = vectors.Close() })

	mgr := settings.NewManager(filepath.Join(dir, "settings.yaml"))
	mgr.Update(func(s *settings.Settings) {
		s.BaseCollection = "mem"
		s.MinMessageLength = 1
	})

	svc := memory.NewService(mgr, vectors)
	svc.SetEmbedder(&fixedEmbedder{vector: []float32{1, 0, 0}})

	p := &profile.Profile{Mode: "dev", Version: "test"}
	return NewAPIV1Service(p, mgr, svc), svc, mgr
}

func doJSON(t *testing.T, handler echo.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, handler(c))
	return rec
}

func TestGetHealthz(t *testing.T) {
	api, _, _ := newTestAPI(t)
	rec := doJSON(t, api.GetHealthz, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestSaveMemory(t *testing.T) {
	t.Run("valid request is accepted", func(t *testing.T) {
		api, _, _ := newTestAPI(t)
		rec := doJSON(t, api.SaveMemory, http.MethodPost, "/api/v1/memory/save",
			`{"text":"I love pizza","entity":"Alice","speaker":"user","message_id":"m1"}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)

		var resp SaveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Accepted)
		assert.NotEmpty(t, resp.RequestUID)
	})

	t.Run("invalid speaker is rejected", func(t *testing.T) {
		api, _, _ := newTestAPI(t)
		rec := doJSON(t, api.SaveMemory, http.MethodPost, "/api/v1/memory/save",
			`{"text":"I love pizza","entity":"Alice","speaker":"narrator"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("gated request still answers 202", func(t *testing.T) {
		api, _, mgr := newTestAPI(t)
		mgr.Update(func(s *settings.Settings) { s.AutoSave = false })

		rec := doJSON(t, api.SaveMemory, http.MethodPost, "/api/v1/memory/save",
			`{"text":"I love pizza","entity":"Alice","speaker":"user"}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)

		var resp SaveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Accepted)
	})
}

func TestRetrieveMemories(t *testing.T) {
	t.Run("missing query", func(t *testing.T) {
		api, _, _ := newTestAPI(t)
		rec := doJSON(t, api.RetrieveMemories, http.MethodPost, "/api/v1/memory/retrieve",
			`{"entity":"Alice"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns ranked memories", func(t *testing.T) {
		api, svc, _ := newTestAPI(t)

		ctx, cancel := context.WithCancel(context.Background())
		svc.Start(ctx)
		require.True(t, svc.SaveTurn("I love pizza", "Alice", store.SpeakerUser, "m1"))
		require.Eventually(t, func() bool {
			info := svc.CollectionInfo(context.Background(), "Alice")
			return info != nil && info.PointCount == 1
		}, 2*time.Second, 10*time.Millisecond)
		cancel()
		svc.Wait()

		rec := doJSON(t, api.RetrieveMemories, http.MethodPost, "/api/v1/memory/retrieve",
			`{"query":"what do I like to eat?","entity":"Alice"}`)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp RetrieveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Memories, 1)
		assert.Equal(t, "I love pizza", resp.Memories[0].Text)
		assert.Equal(t, "user", resp.Memories[0].Speaker)
		assert.InDelta(t, 1.0, resp.Memories[0].Score, 1e-6)
	})

	t.Run("empty result when retrieval disabled", func(t *testing.T) {
		api, _, mgr := newTestAPI(t)
		mgr.Update(func(s *settings.Settings) { s.Enabled = false })
		rec := doJSON(t, api.RetrieveMemories, http.MethodPost, "/api/v1/memory/retrieve",
			`{"query":"anything","entity":"Alice"}`)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp RetrieveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Memories)
	})
}

func TestInjectMemories(t *testing.T) {
	api, _, mgr := newTestAPI(t)
	mgr.Update(func(s *settings.Settings) { s.Enabled = false })

	rec := doJSON(t, api.InjectMemories, http.MethodPost, "/api/v1/memory/inject",
		`{"query":"anything","entity":"Alice","messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp InjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Injected)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hi", resp.Messages[0].Content)
}

func TestUpdateSettings(t *testing.T) {
	t.Run("rejects invalid save policy", func(t *testing.T) {
		api, _, _ := newTestAPI(t)
		rec := doJSON(t, api.UpdateSettings, http.MethodPatch, "/api/v1/settings",
			`{"save_policy":"speaker == "}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects out-of-range values", func(t *testing.T) {
		api, _, _ := newTestAPI(t)

		rec := doJSON(t, api.UpdateSettings, http.MethodPatch, "/api/v1/settings",
			`{"memory_limit":0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, api.UpdateSettings, http.MethodPatch, "/api/v1/settings",
			`{"score_threshold":1.5}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, api.UpdateSettings, http.MethodPatch, "/api/v1/settings",
			`{"injection_offset":-1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("applies and persists a partial patch", func(t *testing.T) {
		api, _, mgr := newTestAPI(t)
		rec := doJSON(t, api.UpdateSettings, http.MethodPatch, "/api/v1/settings",
			`{"memory_limit":7,"save_policy":"speaker == \"user\""}`)
		assert.Equal(t, http.StatusOK, rec.Code)

		snap := mgr.Get()
		assert.Equal(t, 7, snap.MemoryLimit)
		assert.Equal(t, `speaker == "user"`, snap.SavePolicy)
		// Untouched keys survive the patch.
		assert.Equal(t, "mem", snap.BaseCollection)
	})

	t.Run("changing the endpoint swaps the live backend", func(t *testing.T) {
		api, svc, mgr := newTestAPI(t)

		ctx, cancel := context.WithCancel(context.Background())
		svc.Start(ctx)
		require.True(t, svc.SaveTurn("I love pizza", "Alice", store.SpeakerUser, "m1"))
		require.Eventually(t, func() bool {
			info := svc.CollectionInfo(context.Background(), "Alice")
			return info != nil && info.PointCount == 1
		}, 2*time.Second, 10*time.Millisecond)
		cancel()
		svc.Wait()

		fresh := filepath.Join(t.TempDir(), "fresh.db")
		rec := doJSON(t, api.UpdateSettings, http.MethodPatch, "/api/v1/settings",
			fmt.Sprintf(`{"driver":"sqlite","endpoint":%q}`, fresh))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "sqlite", mgr.Get().Driver)

		// Reads now hit the new, empty backend.
		assert.Nil(t, svc.CollectionInfo(context.Background(), "Alice"))
	})

	t.Run("unknown driver is rejected and nothing changes", func(t *testing.T) {
		api, svc, mgr := newTestAPI(t)

		ctx, cancel := context.WithCancel(context.Background())
		svc.Start(ctx)
		require.True(t, svc.SaveTurn("I love pizza", "Alice", store.SpeakerUser, "m1"))
		require.Eventually(t, func() bool {
			info := svc.CollectionInfo(context.Background(), "Alice")
			return info != nil && info.PointCount == 1
		}, 2*time.Second, 10*time.Millisecond)
		cancel()
		svc.Wait()

		before := mgr.Get()
		rec := doJSON(t, api.UpdateSettings, http.MethodPatch, "/api/v1/settings",
			`{"driver":"bolt"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, before, mgr.Get())

		// The old backend is still serving.
		info := svc.CollectionInfo(context.Background(), "Alice")
		require.NotNil(t, info)
		assert.Equal(t, 1, info.PointCount)
	})

	t.Run("secrets are redacted in responses", func(t *testing.T) {
		api, _, mgr := newTestAPI(t)
		mgr.Update(func(s *settings.Settings) { s.EmbeddingAPIKey = "sk-secret" })

		rec := doJSON(t, api.GetSettings, http.MethodGet, "/api/v1/settings", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "sk-secret")

		var view SettingsView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.True(t, view.EmbeddingAPIKeySet)
		assert.False(t, view.APIKeySet)
	})
}

func TestCollectionEndpoints(t *testing.T) {
	api, svc, _ := newTestAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	require.True(t, svc.SaveTurn("I love pizza", "Alice", store.SpeakerUser, "m1"))
	require.Eventually(t, func() bool {
		info := svc.CollectionInfo(context.Background(), "Alice")
		return info != nil && info.PointCount == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	svc.Wait()

	e := echo.New()

	t.Run("get info", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/collections/Alice", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("entity")
		c.SetParamValues("Alice")
		require.NoError(t, api.GetCollectionInfo(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp CollectionInfoResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "mem_alice", resp.Collection)
		assert.Equal(t, 1, resp.PointCount)
		assert.Equal(t, 3, resp.Dimensions)
	})

	t.Run("unknown entity is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/collections/Nobody", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("entity")
		c.SetParamValues("Nobody")
		require.NoError(t, api.GetCollectionInfo(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete purges the collection", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/collections/Alice", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("entity")
		c.SetParamValues("Alice")
		require.NoError(t, api.DeleteCollection(c))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Nil(t, svc.CollectionInfo(context.Background(), "Alice"))
	})
}

func TestGetMetrics(t *testing.T) {
	api, svc, _ := newTestAPI(t)
	assert.Same(t, svc.Metrics(), api.Metrics, "the endpoint reports the engine's own counters")

	api.Metrics.RecordRetrieve(2, 0)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	require.True(t, svc.SaveTurn("I love pizza", "Alice", store.SpeakerUser, "m1"))
	require.Eventually(t, func() bool {
		info := svc.CollectionInfo(context.Background(), "Alice")
		return info != nil && info.PointCount == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	svc.Wait()

	rec := doJSON(t, api.GetMetrics, http.MethodGet, "/api/v1/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.EqualValues(t, 1, snap["saves_accepted"])
	assert.EqualValues(t, 0, snap["saves_dropped"])
	assert.EqualValues(t, 1, snap["points_written"])
	assert.EqualValues(t, 1, snap["retrieve_total"])
	assert.EqualValues(t, 1, snap["retrieve_hits"])
}

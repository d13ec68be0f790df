// Package qdrant implements the vector store driver against a Qdrant
// server over its HTTP/JSON API. This is the reference backend: new
// driver behavior is specified here first.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/everlore/recall/store"
)

const defaultBaseURL = "http://localhost:6333"

// distanceCosine is the only distance metric collections are created with.
const distanceCosine = "Cosine"

type DB struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewDB creates a Qdrant-backed store.Driver. An empty baseURL falls back
// to the default local instance.
func NewDB(baseURL, apiKey string) store.Driver {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &DB{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// status supports both `status: "ok"` and `status: {"error": "..."}`,
// which differ across Qdrant versions.
type status struct {
	State string
	Error string
}

func (s *status) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type envelope[T any] struct {
	Status status  `json:"status"`
	Time   float64 `json:"time"`
	Result T       `json:"result"`
}

type pointResult struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type collectionResult struct {
	PointsCount  int `json:"points_count"`
	VectorsCount int `json:"vectors_count"`
	Config       struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

func (d *DB) CollectionExists(ctx context.Context, name string) (bool, error) {
	code, _, err := d.doRaw(ctx, http.MethodGet, d.collectionPath(name), nil)
	if err != nil {
		return false, err
	}
	if code == http.StatusNotFound {
		return false, nil
	}
	if code >= 200 && code < 300 {
		return true, nil
	}
	return false, errors.Errorf("qdrant collection probe: http %d", code)
}

func (d *DB) CreateCollection(ctx context.Context, name string, dimensions int) error {
	req := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": distanceCosine,
		},
	}
	code, body, err := d.doRaw(ctx, http.MethodPut, d.collectionPath(name), req)
	if err != nil {
		return err
	}
	if code >= 200 && code < 300 {
		return nil
	}
	var env envelope[json.RawMessage]
	_ = json.Unmarshal(body, &env)
	// Treat repeat creation as idempotent: concurrent Ensure races are
	// accepted and resolved server-side.
	if strings.Contains(strings.ToLower(env.Status.Error), "already exists") {
		return nil
	}
	if env.Status.Error != "" {
		return errors.New(env.Status.Error)
	}
	return errors.Errorf("qdrant create collection: http %d: %s", code, strings.TrimSpace(string(body)))
}

func (d *DB) UpsertPoint(ctx context.Context, collection string, record store.MemoryRecord) error {
	req := map[string]any{
		"points": []map[string]any{{
			"id":     record.ID,
			"vector": record.Vector,
			"payload": map[string]any{
				"text":          record.Text,
				"speaker":       string(record.Speaker),
				"namespace_key": record.NamespaceKey,
				"message_id":    record.MessageID,
				"created_at":    record.CreatedAt,
			},
		}},
	}
	var resp envelope[json.RawMessage]
	if err := d.do(ctx, http.MethodPut, d.collectionPath(collection)+"/points", req, &resp); err != nil {
		return err
	}
	if !strings.EqualFold(resp.Status.State, "ok") && resp.Status.Error != "" {
		return errors.New(resp.Status.Error)
	}
	return nil
}

func (d *DB) Search(ctx context.Context, collection string, opts store.SearchOptions) ([]store.ScoredRecord, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":          opts.Vector,
		"limit":           opts.Limit,
		"score_threshold": opts.ScoreThreshold,
		"with_payload":    true,
	}
	if opts.NamespaceKey != "" {
		req["filter"] = map[string]any{
			"must": []map[string]any{{
				"key":   "namespace_key",
				"match": map[string]any{"value": opts.NamespaceKey},
			}},
		}
	}
	var resp envelope[[]pointResult]
	if err := d.do(ctx, http.MethodPost, d.collectionPath(collection)+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	results := make([]store.ScoredRecord, 0, len(resp.Result))
	for _, point := range resp.Result {
		rec := store.ScoredRecord{Score: point.Score}
		rec.ID = parseID(point.ID)
		rec.Text = stringFromPayload(point.Payload, "text")
		rec.Speaker = store.Speaker(stringFromPayload(point.Payload, "speaker"))
		rec.NamespaceKey = stringFromPayload(point.Payload, "namespace_key")
		rec.MessageID = stringFromPayload(point.Payload, "message_id")
		rec.CreatedAt = int64FromPayload(point.Payload, "created_at")
		results = append(results, rec)
	}
	return results, nil
}

func (d *DB) GetCollectionInfo(ctx context.Context, name string) (*store.CollectionInfo, error) {
	var resp envelope[collectionResult]
	if err := d.do(ctx, http.MethodGet, d.collectionPath(name), nil, &resp); err != nil {
		return nil, err
	}
	return &store.CollectionInfo{
		PointCount:  resp.Result.PointsCount,
		VectorCount: resp.Result.VectorsCount,
		Dimensions:  resp.Result.Config.Params.Vectors.Size,
	}, nil
}

func (d *DB) DeleteCollection(ctx context.Context, name string) error {
	return d.do(ctx, http.MethodDelete, d.collectionPath(name), nil, nil)
}

func (d *DB) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func (d *DB) collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

// do issues a request and decodes the response envelope into out,
// treating any >=400 status as an error.
func (d *DB) do(ctx context.Context, method, path string, body, out any) error {
	code, payload, err := d.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if code >= 400 {
		return errors.Errorf("qdrant %s %s: http %d: %s", method, path, code, strings.TrimSpace(string(payload)))
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return errors.Wrap(err, "failed to decode qdrant response")
		}
	}
	return nil
}

func (d *DB) doRaw(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, errors.Wrap(err, "failed to marshal request body")
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("api-key", d.apiKey)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "qdrant %s %s", method, path)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, payload, nil
}

func parseID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func stringFromPayload(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func int64FromPayload(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

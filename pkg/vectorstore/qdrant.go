package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// QdrantConfig configures the Qdrant REST client.
type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Qdrant is a REST client to Qdrant. Collections use cosine distance.
//
// Qdrant only accepts UUIDs or integers as point ids, so opaque ids are
// mapped through PointUUID and kept verbatim in the "point_id" payload field.
type Qdrant struct {
	url    string
	apiKey string
	client *http.Client
	known  *collectionCache
}

// NewQdrant returns a client for the Qdrant server at cfg.URL.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("qdrant url required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Qdrant{
		url:    base,
		apiKey: strings.TrimSpace(cfg.APIKey),
		client: &http.Client{Timeout: timeout},
		known:  newCollectionCache(),
	}, nil
}

// StatusError is a non-2xx Qdrant response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("qdrant %s %s: %d %s", e.Method, e.Path, e.Code, e.Detail)
	}
	return fmt.Sprintf("qdrant %s %s: %d", e.Method, e.Path, e.Code)
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Ping checks that the server answers.
func (q *Qdrant) Ping(ctx context.Context) error {
	return q.do(ctx, http.MethodGet, "/collections", nil, nil)
}

func (q *Qdrant) EnsureCollection(ctx context.Context, name string, size int) error {
	if name == "" || size <= 0 {
		return fmt.Errorf("%w: name=%q size=%d", ErrInvalidCollection, name, size)
	}
	if q.known.has(name) {
		return nil
	}
	path := "/collections/" + url.PathEscape(name)
	err := q.do(ctx, http.MethodGet, path, nil, nil)
	switch {
	case err == nil:
		q.known.add(name, size)
		return nil
	case !isNotFound(err):
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     size,
			"distance": "Cosine",
		},
	}
	if err := q.do(ctx, http.MethodPut, path, body, nil); err != nil {
		// Another writer may have created it between the check and the PUT.
		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusConflict {
			return err
		}
	}
	index := map[string]any{"field_name": "point_id", "field_schema": "keyword"}
	if err := q.do(ctx, http.MethodPut, path+"/index?wait=true", index, nil); err != nil {
		return fmt.Errorf("create point_id index: %w", err)
	}
	q.known.add(name, size)
	return nil
}

type qdrantPayload struct {
	PointID string `json:"point_id"`
	Payload
}

type qdrantPoint struct {
	ID      string        `json:"id"`
	Vector  []float32     `json:"vector"`
	Payload qdrantPayload `json:"payload"`
}

func (q *Qdrant) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	wire := make([]qdrantPoint, 0, len(points))
	for _, p := range points {
		wire = append(wire, qdrantPoint{
			ID:      PointUUID(p.ID),
			Vector:  p.Vector,
			Payload: qdrantPayload{PointID: p.ID, Payload: p.Payload},
		})
	}
	body := map[string]any{"points": wire}
	err := q.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(collection)+"/points?wait=true", body, nil)
	if isNotFound(err) {
		q.known.remove(collection)
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return err
}

func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float64) ([]Hit, error) {
	if limit <= 0 {
		return []Hit{}, nil
	}
	req := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"score_threshold": scoreThreshold,
		"with_payload":    true,
	}
	var resp struct {
		Result []struct {
			ID      any           `json:"id"`
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/search", req, &resp)
	if isNotFound(err) {
		q.known.remove(collection)
		return []Hit{}, nil
	}
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		id := r.Payload.PointID
		if id == "" {
			id = fmt.Sprint(r.ID)
		}
		hits = append(hits, Hit{ID: id, Score: r.Score, Payload: r.Payload.Payload})
	}
	return hits, nil
}

// DeleteVectors deletes by the point_id payload field rather than by
// Qdrant id, so callers only ever deal in opaque ids.
func (q *Qdrant) DeleteVectors(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{
		"filter": map[string]any{
			"must": []any{
				map[string]any{
					"key":   "point_id",
					"match": map[string]any{"any": ids},
				},
			},
		},
	}
	err := q.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/delete?wait=true", body, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (q *Qdrant) DeleteCollection(ctx context.Context, name string) error {
	q.known.remove(name)
	err := q.do(ctx, http.MethodDelete, "/collections/"+url.PathEscape(name), nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (q *Qdrant) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode qdrant request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.url+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var errResp struct {
			Status struct {
				Error string `json:"error"`
			} `json:"status"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Detail: errResp.Status.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	return nil
}

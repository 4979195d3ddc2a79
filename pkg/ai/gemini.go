package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Google AI Studio (Gemini) embedding API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	taskType   string
	httpClient *http.Client
}

// NewGeminiClient constructs a client with the provided API key.
func NewGeminiClient(apiKey string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		taskType:   "RETRIEVAL_DOCUMENT",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// WithBaseURL points the client at a different API root.
func (c *GeminiClient) WithBaseURL(baseURL string) *GeminiClient {
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		c.baseURL = baseURL
	}
	return c
}

// EmbedText generates an embedding for the input text.
func (c *GeminiClient) EmbedText(ctx context.Context, model, text string) ([]float32, error) {
	reqBody := embedRequest{
		Content:  content{Parts: []part{{Text: text}}},
		TaskType: c.taskType,
	}
	var resp embedResponse
	if err := c.doJSON(ctx, c.endpoint(model, "embedContent"), reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding from gemini")
	}
	return resp.Embedding.Values, nil
}

// EmbedTexts uses batchEmbedContents to embed every text in one request.
func (c *GeminiClient) EmbedTexts(ctx context.Context, model string, texts []string) ([][]float32, error) {
	name := "models/" + normalizeModel(model)
	reqBody := batchEmbedRequest{Requests: make([]batchEmbedItem, 0, len(texts))}
	for _, text := range texts {
		reqBody.Requests = append(reqBody.Requests, batchEmbedItem{
			Model:    name,
			Content:  content{Parts: []part{{Text: text}}},
			TaskType: c.taskType,
		})
	}
	var resp batchEmbedResponse
	if err := c.doJSON(ctx, c.endpoint(model, "batchEmbedContents"), reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (c *GeminiClient) endpoint(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s?key=%s", c.baseURL, normalizeModel(model), method, c.apiKey)
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

func (c *GeminiClient) doJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("gemini api error: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type embedRequest struct {
	Content  content `json:"content"`
	TaskType string  `json:"taskType,omitempty"`
}

type embedValues struct {
	Values []float32 `json:"values"`
}

type embedResponse struct {
	Embedding embedValues `json:"embedding"`
}

type batchEmbedItem struct {
	Model    string  `json:"model"`
	Content  content `json:"content"`
	TaskType string  `json:"taskType,omitempty"`
}

type batchEmbedRequest struct {
	Requests []batchEmbedItem `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []embedValues `json:"embeddings"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

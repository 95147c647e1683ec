// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
)

const embeddingsPath = "/api/embeddings"

// HTTPError reports a non-200 response from the embedding service.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("embedding service returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets callers match the error with errors.Is(err, core.ErrEmbeddingService).
func (e *HTTPError) Unwrap() error { return core.ErrEmbeddingService }

// Retryable reports whether err is worth another attempt: transport
// failures, 429 and 5xx. Other 4xx responses mean the request itself is bad.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return !errors.Is(err, errMalformedResponse)
}

var errMalformedResponse = errors.New("malformed embedding response")

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// The endpoint is plural but the field is singular.
type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embedder calls POST {host}/api/embeddings.
type Embedder struct {
	host   string
	model  string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

func newEmbedder(config *ai.Config, client *http.Client) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}
	return &Embedder{
		host:   config.EmbeddingHost,
		model:  config.EmbeddingModel,
		apiKey: config.APIKey,
		client: client,
		logger: slog.Default().With("component", "ollama-embedder"),
	}, nil
}

// NewEmbedder creates an embedder for the configured host and model.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config, nil)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+embeddingsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", core.ErrEmbeddingService, errMalformedResponse, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: %w: no \"embedding\" field", core.ErrEmbeddingService, errMalformedResponse)
	}

	e.logger.Debug("generated embedding", "length", len(text), "dim", len(out.Embedding))
	return out.Embedding, nil
}

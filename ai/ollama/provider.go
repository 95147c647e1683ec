package ollama

import (
	"log/slog"
	"net/http"

	"github.com/poiesic/docqa/ai"
)

// Provider implements ai.Provider for an Ollama server.
type Provider struct {
	config   *ai.Config
	embedder *Embedder
	logger   *slog.Logger
}

// NewProvider validates config and creates a provider.
//
// Returns ai.Provider interface to enforce abstraction.
func NewProvider(config *ai.Config) (ai.Provider, error) {
	return newProvider(config, nil)
}

func newProvider(config *ai.Config, client *http.Client) (*Provider, error) {
	embedder, err := newEmbedder(config, client)
	if err != nil {
		return nil, err
	}
	return &Provider{
		config:   config,
		embedder: embedder,
		logger:   slog.Default().With("component", "ollama-provider"),
	}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Model returns the configured embedding model.
func (p *Provider) Model() string {
	return p.config.EmbeddingModel
}

// Close releases idle connections.
func (p *Provider) Close() error {
	p.logger.Debug("closing ollama provider")
	p.embedder.client.CloseIdleConnections()
	return nil
}

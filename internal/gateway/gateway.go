package gateway

import (
	"context"
	"net/http"
	"time"

	"smlgpt/internal/apperrors"
	"smlgpt/internal/config"
)

// Service names used in error messages and status reports.
const (
	ServiceVision         = "Azure OpenAI Vision"
	ServiceEmbeddings     = "Azure OpenAI Embeddings"
	ServiceChat           = "Chat Completion"
	ServiceComputerVision = "Azure Computer Vision"
	ServiceDocuments      = "Azure Document Intelligence"
	ServiceSearch         = "Azure AI Search"
	ServiceSpeech         = "Azure Speech"
)

const defaultHTTPTimeout = 60 * time.Second

// Capability is implemented by every provider client.
type Capability interface {
	Name() string
	// Configured is false when credentials are missing; calls then fail
	// with an external service error instead of reaching the network.
	Configured() bool
}

func notConfigured(service string) error {
	return apperrors.ExternalService(service, "service not configured")
}

func newHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// Gateway bundles one client per provider capability.
type Gateway struct {
	Vision         *Vision
	Embeddings     *Embeddings
	Chat           *Chat
	ComputerVision *ComputerVision
	Documents      *DocumentIntelligence
	Search         *Search
	Speech         *Speech
}

func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	client := newHTTPClient(nil)
	chat, err := NewChat(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		Vision:         NewVision(cfg.OpenAI, client),
		Embeddings:     NewEmbeddings(cfg.OpenAI, client),
		Chat:           chat,
		ComputerVision: NewComputerVision(cfg.Vision, client),
		Documents:      NewDocumentIntelligence(cfg.Documents, client),
		Search:         NewSearch(cfg.Search, client),
		Speech:         NewSpeech(cfg.Speech, client),
	}, nil
}

// Capabilities lists every client, for status reporting.
func (g *Gateway) Capabilities() []Capability {
	return []Capability{g.Vision, g.Embeddings, g.Chat, g.ComputerVision, g.Documents, g.Search, g.Speech}
}

package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"smlgpt/internal/apperrors"
	"smlgpt/internal/config"
)

const (
	visionMaxTokens   = 4096
	visionTemperature = 0.3
	visionTopP        = 0.95
)

func newAzureClient(endpoint, key, apiVersion, deployment string, client *http.Client) *openai.Client {
	cfg := openai.DefaultAzureConfig(key, trimEndpoint(endpoint))
	if apiVersion != "" {
		cfg.APIVersion = apiVersion
	}
	cfg.AzureModelMapperFunc = func(string) string { return deployment }
	cfg.HTTPClient = newHTTPClient(client)
	return openai.NewClientWithConfig(cfg)
}

// Vision runs the hazard analysis prompt against a vision capable deployment.
type Vision struct {
	client     *openai.Client
	deployment string
	configured bool
}

func NewVision(cfg config.OpenAIConfig, client *http.Client) *Vision {
	return &Vision{
		client:     newAzureClient(cfg.Endpoint, cfg.APIKey, cfg.APIVersion, cfg.VisionDeployment, client),
		deployment: cfg.VisionDeployment,
		configured: cfg.Endpoint != "" && cfg.APIKey != "" && cfg.VisionDeployment != "",
	}
}

func (v *Vision) Name() string     { return ServiceVision }
func (v *Vision) Configured() bool { return v.configured }

// AnalyzeImageForHazards returns the model's free text analysis of imageURL.
func (v *Vision) AnalyzeImageForHazards(ctx context.Context, imageURL, systemPrompt, userPrompt string) (string, error) {
	if !v.configured {
		return "", notConfigured(ServiceVision)
	}
	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.deployment,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: userPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    imageURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			}},
		},
		MaxTokens:   visionMaxTokens,
		Temperature: visionTemperature,
		TopP:        visionTopP,
	})
	if err != nil {
		return "", apperrors.WrapExternal(ServiceVision, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", apperrors.ExternalService(ServiceVision, "empty response from model")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embeddings turns text into a vector with the embedding deployment.
type Embeddings struct {
	client     *openai.Client
	model      string
	configured bool
}

func NewEmbeddings(cfg config.OpenAIConfig, client *http.Client) *Embeddings {
	return &Embeddings{
		client:     newAzureClient(cfg.EmbeddingEndpoint, cfg.EmbeddingAPIKey, cfg.APIVersion, cfg.EmbeddingModel, client),
		model:      cfg.EmbeddingModel,
		configured: cfg.EmbeddingEndpoint != "" && cfg.EmbeddingAPIKey != "" && cfg.EmbeddingModel != "",
	}
}

func (e *Embeddings) Name() string     { return ServiceEmbeddings }
func (e *Embeddings) Configured() bool { return e.configured }

func (e *Embeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.configured {
		return nil, notConfigured(ServiceEmbeddings)
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, apperrors.WrapExternal(ServiceEmbeddings, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, apperrors.ExternalService(ServiceEmbeddings, "empty embedding")
	}
	return resp.Data[0].Embedding, nil
}

package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"smlgpt/internal/apperrors"
	"smlgpt/internal/config"
	"smlgpt/internal/models"
)

const (
	chatMaxTokens   = 2000
	chatTemperature = 0.7
	chatTopP        = 0.9
)

// ChatCompletion is one assistant reply.
type ChatCompletion struct {
	Content string
	Model   string
}

// Chat completes conversations through an eino chat model.
type Chat struct {
	model      model.BaseChatModel
	modelName  string
	configured bool
}

// NewChat builds the model for cfg.Chat.Provider. Missing credentials give an
// unconfigured Chat rather than an error.
func NewChat(ctx context.Context, cfg *config.Config) (*Chat, error) {
	var (
		chatModel model.BaseChatModel
		name      string
		err       error
	)
	switch cfg.Chat.Provider {
	case "azure-openai":
		o := cfg.OpenAI
		name = o.Deployment
		if o.Endpoint == "" || o.APIKey == "" || o.Deployment == "" {
			return &Chat{modelName: name}, nil
		}
		chatModel, err = einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
			ByAzure:    true,
			BaseURL:    trimEndpoint(o.Endpoint),
			APIVersion: o.APIVersion,
			APIKey:     o.APIKey,
			Model:      o.Deployment,
		})
	case "openai":
		name = cfg.Chat.Model
		if cfg.Chat.APIKey == "" || name == "" {
			return &Chat{modelName: name}, nil
		}
		chatModel, err = einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
			BaseURL: cfg.Chat.BaseURL,
			APIKey:  cfg.Chat.APIKey,
			Model:   name,
		})
	case "claude":
		name = cfg.Chat.Model
		if cfg.Chat.APIKey == "" || name == "" {
			return &Chat{modelName: name}, nil
		}
		var baseURL *string
		if cfg.Chat.BaseURL != "" {
			baseURL = &cfg.Chat.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.Chat.APIKey,
			Model:     name,
			BaseURL:   baseURL,
			MaxTokens: chatMaxTokens,
		})
	case "gemini":
		name = cfg.Chat.Model
		if cfg.Chat.APIKey == "" || name == "" {
			return &Chat{modelName: name}, nil
		}
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.Chat.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if cerr != nil {
			return nil, fmt.Errorf("create gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  name,
		})
	default:
		return nil, fmt.Errorf("invalid chat provider: %s", cfg.Chat.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Chat.Provider, err)
	}
	return NewChatWithModel(chatModel, name), nil
}

// NewChatWithModel wraps an existing eino model.
func NewChatWithModel(m model.BaseChatModel, modelName string) *Chat {
	return &Chat{model: m, modelName: modelName, configured: m != nil}
}

func (c *Chat) Name() string      { return ServiceChat }
func (c *Chat) Configured() bool  { return c.configured }
func (c *Chat) ModelName() string { return c.modelName }

// Complete sends messages in order and returns the assistant reply. An empty
// reply is an error.
func (c *Chat) Complete(ctx context.Context, messages []models.ChatMessage) (*ChatCompletion, error) {
	if !c.configured {
		return nil, notConfigured(ServiceChat)
	}
	resp, err := c.model.Generate(ctx, toSchema(messages),
		model.WithMaxTokens(chatMaxTokens),
		model.WithTemperature(chatTemperature),
		model.WithTopP(chatTopP),
	)
	if err != nil {
		return nil, apperrors.WrapExternal(ServiceChat, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, apperrors.ExternalService(ServiceChat, "no response generated")
	}
	return &ChatCompletion{Content: resp.Content, Model: c.modelName}, nil
}

func toSchema(messages []models.ChatMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		out = append(out, &schema.Message{Role: role, Content: msg.Content})
	}
	return out
}

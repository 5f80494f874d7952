// Package completion wraps the chat-completion provider behind a
// small interface so the bot can be tested without network access.
package completion

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/replydesk/replydesk/internal/config"
)

// Role of one turn in the model conversation.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Turn is one message in the model conversation.
type Turn struct {
	Role    string
	Content string
}

// Request is one completion call.
type Request struct {
	System string
	Turns  []Turn
}

// Client produces a single assistant reply for a request.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// OpenAIClient calls an OpenAI-compatible chat-completion endpoint.
type OpenAIClient struct {
	api   *openai.Client
	model string
}

// NewClient creates a completion client from config. BaseURL may point
// at any OpenAI-compatible server.
func NewClient(cfg config.CompletionConfig) *OpenAIClient {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		api:   openai.NewClientWithConfig(apiCfg),
		model: cfg.Model,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: RoleSystem, Content: req.System})
	}
	for _, turn := range req.Turns {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: turn.Role, Content: turn.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/replydesk/replydesk/internal/config"
)

// Sender is the outbound surface the pipeline depends on.
type Sender interface {
	SendText(ctx context.Context, accessToken, to, body string) (string, error)
	SendTemplate(ctx context.Context, accessToken, to, providerTemplateID string) (string, error)
	CreateTemplate(ctx context.Context, accessToken, name, content string) (string, error)
	TemplateStatus(ctx context.Context, accessToken, providerTemplateID string) (string, error)
}

// Client talks to the provider's send API over HTTP.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a provider client from config.
func NewClient(log *slog.Logger, cfg config.PlatformConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout()).
			SetHeader("Content-Type", "application/json"),
		logger: log.With(slog.String("service", "platform_client")),
	}
}

type sendRequest struct {
	To         string `json:"to"`
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// SendText delivers a free-form text message and returns the provider
// message id for later status correlation.
func (c *Client) SendText(ctx context.Context, accessToken, to, body string) (string, error) {
	return c.send(ctx, accessToken, sendRequest{To: to, Type: "text", Text: body})
}

// SendTemplate delivers a pre-approved template by provider id.
func (c *Client) SendTemplate(ctx context.Context, accessToken, to, providerTemplateID string) (string, error) {
	return c.send(ctx, accessToken, sendRequest{To: to, Type: "template", TemplateID: providerTemplateID})
}

func (c *Client) send(ctx context.Context, accessToken string, req sendRequest) (string, error) {
	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/messages")
	if err != nil {
		return "", fmt.Errorf("send %s message: %w", req.Type, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("send %s message: provider returned %d: %s", req.Type, resp.StatusCode(), out.Error)
	}
	return out.MessageID, nil
}

type templateRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type templateResponse struct {
	TemplateID string `json:"template_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// CreateTemplate submits template content for provider approval and
// returns the provider's template id.
func (c *Client) CreateTemplate(ctx context.Context, accessToken, name, content string) (string, error) {
	var out templateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(templateRequest{Name: name, Content: content}).
		SetResult(&out).
		SetError(&out).
		Post("/templates")
	if err != nil {
		return "", fmt.Errorf("create template: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("create template: provider returned %d: %s", resp.StatusCode(), out.Error)
	}
	return out.TemplateID, nil
}

// TemplateStatus fetches the current approval status of a template.
func (c *Client) TemplateStatus(ctx context.Context, accessToken, providerTemplateID string) (string, error) {
	var out templateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		SetError(&out).
		Get("/templates/" + providerTemplateID)
	if err != nil {
		return "", fmt.Errorf("template status: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("template status: provider returned %d: %s", resp.StatusCode(), out.Error)
	}
	return out.Status, nil
}

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/replydesk/replydesk/internal/conversation"
)

// AutomationToggler flips the bot on or off for one conversation.
type AutomationToggler interface {
	SetAutomation(ctx context.Context, id uuid.UUID, enabled bool) error
	Get(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
}

// ConversationsHandler exposes the operator-facing conversation
// controls, most importantly re-enabling automation after an
// escalation has been handled.
type ConversationsHandler struct {
	conversations AutomationToggler
	logger        *slog.Logger
}

func NewConversationsHandler(log *slog.Logger, conversations AutomationToggler) *ConversationsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ConversationsHandler{
		conversations: conversations,
		logger:        log.With(slog.String("handler", "conversations")),
	}
}

func (h *ConversationsHandler) Register(e *echo.Echo) {
	e.GET("/conversations/:id", h.Get)
	e.POST("/conversations/:id/automation", h.SetAutomation)
}

type automationRequest struct {
	Enabled bool `json:"enabled"`
}

type conversationResponse struct {
	ID                string `json:"id"`
	PeerIdentifier    string `json:"peer_identifier"`
	AutomationEnabled bool   `json:"automation_enabled"`
	UnreadCount       int    `json:"unread_count"`
}

func (h *ConversationsHandler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}

	conv, err := h.conversations.Get(c.Request().Context(), id)
	if errors.Is(err, conversation.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "conversation lookup failed")
	}
	return c.JSON(http.StatusOK, conversationResponse{
		ID:                conv.ID.String(),
		PeerIdentifier:    conv.PeerIdentifier,
		AutomationEnabled: conv.AutomationEnabled,
		UnreadCount:       conv.UnreadCount,
	})
}

func (h *ConversationsHandler) SetAutomation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}

	var req automationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.conversations.SetAutomation(c.Request().Context(), id, req.Enabled); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "automation update failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":      id.String(),
		"enabled": req.Enabled,
	})
}

package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/replydesk/replydesk/internal/account"
	"github.com/replydesk/replydesk/internal/platform"
)

// AccountResolver maps a routing id to its tenant account.
type AccountResolver interface {
	Resolve(ctx context.Context, routingID string) (account.Account, error)
}

// Submitter accepts an acked entry for asynchronous processing.
type Submitter interface {
	Submit(acct account.Account, entry platform.Entry)
}

// WebhookHandler terminates the provider's webhook: the GET
// subscription handshake and the POST delivery endpoint.
type WebhookHandler struct {
	resolver    AccountResolver
	pipeline    Submitter
	verifyToken string
	logger      *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, resolver AccountResolver, pipeline Submitter, verifyToken string) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		resolver:    resolver,
		pipeline:    pipeline,
		verifyToken: verifyToken,
		logger:      log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhook", h.Verify)
	e.POST("/webhook", h.Receive)
}

// Verify answers the provider's subscription challenge.
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

// Receive acks a webhook delivery. Anything parseable gets a 200 so the
// provider stops redelivering; the real work happens off this path in
// the ingest workers. Only malformed bodies and signature mismatches
// earn an error status.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	env, err := platform.ParseEnvelope(body)
	if err != nil {
		h.logger.Warn("malformed webhook rejected", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadRequest, "malformed envelope")
	}

	signature := c.Request().Header.Get(platform.SignatureHeader)
	ctx := c.Request().Context()

	// Resolve and authenticate every entry before submitting any, so a
	// signature failure rejects the delivery as a whole.
	type routed struct {
		acct  account.Account
		entry platform.Entry
	}
	accepted := make([]routed, 0, len(env.Entries))
	for _, entry := range env.Entries {
		acct, err := h.resolver.Resolve(ctx, entry.RoutingID)
		if errors.Is(err, account.ErrNotFound) {
			// Logged with full routing context by the resolver. The
			// provider must not redeliver, so this is still a 200.
			continue
		}
		if err != nil {
			h.logger.Error("account resolution failed, entry dropped",
				slog.String("routing_id", entry.RoutingID),
				slog.Any("error", err),
			)
			continue
		}
		if err := platform.VerifySignature(acct.VerifySecret, body, signature); err != nil {
			h.logger.Warn("webhook signature rejected",
				slog.String("routing_id", entry.RoutingID),
			)
			return echo.NewHTTPError(http.StatusUnauthorized, "signature mismatch")
		}
		accepted = append(accepted, routed{acct: acct, entry: entry})
	}

	for _, r := range accepted {
		h.pipeline.Submit(r.acct, r.entry)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "received"})
}

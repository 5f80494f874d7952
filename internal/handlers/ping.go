package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/replydesk/replydesk/internal/resilience"
)

// PingHandler exposes liveness plus the current circuit states, which
// is the first thing to check when replies stop flowing.
type PingHandler struct {
	breakers []*resilience.Breaker
	logger   *slog.Logger
}

func NewPingHandler(log *slog.Logger, breakers ...*resilience.Breaker) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{
		breakers: breakers,
		logger:   log.With(slog.String("handler", "ping")),
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	snapshots := make([]resilience.BreakerSnapshot, 0, len(h.breakers))
	for _, b := range h.breakers {
		if b != nil {
			snapshots = append(snapshots, b.Snapshot())
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"breakers": snapshots,
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

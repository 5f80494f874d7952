// Package outbound delivers replies to the provider, choosing between
// a free-form send and a pre-approved template based on the session
// window, and persists what was sent.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/replydesk/replydesk/internal/account"
	"github.com/replydesk/replydesk/internal/conversation"
	"github.com/replydesk/replydesk/internal/message"
	"github.com/replydesk/replydesk/internal/platform"
	"github.com/replydesk/replydesk/internal/resilience"
	"github.com/replydesk/replydesk/internal/template"
)

// ErrTemplateNotApproved is returned when the session window has
// closed and the matching template has not cleared provider review.
var ErrTemplateNotApproved = errors.New("template awaiting provider approval")

// Sender routes one reply out to the platform.
type Sender struct {
	platform      platform.Sender
	messages      *message.Service
	conversations *conversation.Service
	templates     *template.Service
	breaker       *resilience.Breaker
	retry         resilience.RetryConfig
	sessionWindow time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewSender creates an outbound sender. The breaker guards all
// provider calls and may be nil in tests.
func NewSender(
	log *slog.Logger,
	platformClient platform.Sender,
	messages *message.Service,
	conversations *conversation.Service,
	templates *template.Service,
	platformBreaker *resilience.Breaker,
	retry resilience.RetryConfig,
	sessionWindow time.Duration,
) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		platform:      platformClient,
		messages:      messages,
		conversations: conversations,
		templates:     templates,
		breaker:       platformBreaker,
		retry:         retry,
		sessionWindow: sessionWindow,
		logger:        log.With(slog.String("service", "outbound")),
		now:           time.Now,
	}
}

// SendReply delivers body to the conversation's peer. Inside the
// session window it goes out as free-form text; outside it the content
// is routed through an approved template.
func (s *Sender) SendReply(ctx context.Context, acct account.Account, conv conversation.Conversation, body string) error {
	var (
		providerMessageID string
		kind              = message.KindText
		templateHash      string
	)

	if s.withinSessionWindow(conv) {
		id, err := s.deliver(ctx, func(ctx context.Context) (string, error) {
			return s.platform.SendText(ctx, acct.AccessToken, conv.PeerIdentifier, body)
		})
		if err != nil {
			return fmt.Errorf("send text reply: %w", err)
		}
		providerMessageID = id
	} else {
		record, reused, err := s.templates.FindOrCreate(ctx, acct, body)
		if err != nil {
			return fmt.Errorf("resolve template: %w", err)
		}
		if record.Status != template.StatusApproved {
			s.logger.Info("reply held for template approval",
				slog.String("conversation_id", conv.ID.String()),
				slog.String("template_hash", record.TemplateHash),
				slog.Bool("reused", reused),
			)
			return ErrTemplateNotApproved
		}

		id, err := s.deliver(ctx, func(ctx context.Context) (string, error) {
			return s.platform.SendTemplate(ctx, acct.AccessToken, conv.PeerIdentifier, record.ProviderTemplateID)
		})
		if err != nil {
			return fmt.Errorf("send template reply: %w", err)
		}
		providerMessageID = id
		kind = message.KindTemplate
		templateHash = record.TemplateHash
	}

	if _, err := s.messages.PersistOutbound(ctx, message.Message{
		ConversationID:    conv.ID,
		AccountID:         acct.ID,
		Direction:         message.DirectionOutbound,
		Kind:              kind,
		Body:              body,
		Status:            message.StatusSent,
		ProviderMessageID: providerMessageID,
		TemplateHash:      templateHash,
	}); err != nil {
		// The reply reached the peer; losing the row is worth a log,
		// not a retry that could double-send.
		s.logger.Error("persisting outbound after delivery failed",
			slog.String("conversation_id", conv.ID.String()),
			slog.Any("error", err),
		)
	}

	if err := s.conversations.RecordAutomatedReply(ctx, conv.ID, s.now()); err != nil {
		s.logger.Error("recording automated reply failed",
			slog.String("conversation_id", conv.ID.String()),
			slog.Any("error", err),
		)
	}

	if templateHash != "" {
		s.templates.CheckSpam(ctx, acct.ID, templateHash)
	}
	return nil
}

func (s *Sender) withinSessionWindow(conv conversation.Conversation) bool {
	if conv.LastInboundAt == nil {
		return false
	}
	return s.now().Sub(*conv.LastInboundAt) <= s.sessionWindow
}

// deliver wraps a provider call with the breaker outside the retry
// loop so an open circuit fails fast.
func (s *Sender) deliver(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	run := func(ctx context.Context) (string, error) {
		return resilience.RetryValue(ctx, s.logger, s.retry, "platform_send", fn)
	}
	if s.breaker == nil {
		return run(ctx)
	}
	var id string
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = run(ctx)
		return err
	})
	return id, err
}

// Package escalation hands a conversation from the bot to a human and
// keeps it there until an operator explicitly re-enables automation.
package escalation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/replydesk/replydesk/internal/account"
	"github.com/replydesk/replydesk/internal/conversation"
	"github.com/replydesk/replydesk/internal/platform"
)

// Service performs the escalation state change and the operator ping.
type Service struct {
	conversations *conversation.Service
	sender        platform.Sender
	backupContact string
	logger        *slog.Logger
}

// NewService creates an escalation service. backupContact may be empty
// when no operator channel is configured.
func NewService(log *slog.Logger, conversations *conversation.Service, sender platform.Sender, backupContact string) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		conversations: conversations,
		sender:        sender,
		backupContact: backupContact,
		logger:        log.With(slog.String("service", "escalation")),
	}
}

// Escalate disables automation for the conversation, then pings the
// operator contact with a one-line summary. The state change is the
// contract; the notification is best effort and its failure never
// rolls the escalation back. lastInbound may be empty when the trigger
// was a delivery receipt rather than a customer message.
func (s *Service) Escalate(ctx context.Context, acct account.Account, conv conversation.Conversation, reason, lastInbound string) error {
	if err := s.conversations.SetAutomation(ctx, conv.ID, false); err != nil {
		return fmt.Errorf("disable automation for escalation: %w", err)
	}
	s.logger.Info("conversation escalated",
		slog.String("account_id", acct.ID.String()),
		slog.String("conversation_id", conv.ID.String()),
		slog.String("reason", reason),
	)

	s.notify(ctx, acct, conv, reason, lastInbound)
	return nil
}

// Resume re-enables automation after a human has handled the thread.
func (s *Service) Resume(ctx context.Context, conv conversation.Conversation) error {
	return s.conversations.SetAutomation(ctx, conv.ID, true)
}

func (s *Service) notify(ctx context.Context, acct account.Account, conv conversation.Conversation, reason, lastInbound string) {
	if s.backupContact == "" || s.sender == nil {
		return
	}
	text := fmt.Sprintf("Needs a human (%s): conversation %s with %s", reason, conv.ID, conv.PeerIdentifier)
	if lastInbound != "" {
		text += fmt.Sprintf(" — last message: %q", lastInbound)
	}
	if _, err := s.sender.SendText(ctx, acct.AccessToken, s.backupContact, text); err != nil {
		s.logger.Warn("operator notification failed",
			slog.String("conversation_id", conv.ID.String()),
			slog.Any("error", err),
		)
	}
}

package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/replydesk/replydesk/internal/conversation"
)

// Service persists messages idempotently and keeps the owning
// conversation's counters in step.
type Service struct {
	store         Store
	conversations *conversation.Service
	logger        *slog.Logger
}

// NewService creates a message service.
func NewService(log *slog.Logger, store Store, conversations *conversation.Service) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:         store,
		conversations: conversations,
		logger:        log.With(slog.String("service", "message")),
	}
}

// Inbound describes one inbound message ready to persist.
type Inbound struct {
	AccountID         uuid.UUID
	PeerIdentifier    string
	ProviderMessageID string
	Kind              Kind
	Body              string
	ReceivedAt        time.Time
	AutomationDefault bool
}

// PersistInbound stores an inbound message exactly once per
// (account, provider message id). Redelivered payloads return the
// conversation with persisted=false and produce no second row.
func (s *Service) PersistInbound(ctx context.Context, in Inbound) (conversation.Conversation, Message, bool, error) {
	conv, err := s.conversations.GetOrCreate(ctx, in.AccountID, in.PeerIdentifier, in.AutomationDefault)
	if err != nil {
		return conversation.Conversation{}, Message{}, false, err
	}

	msg, err := s.store.Insert(ctx, Message{
		ConversationID:    conv.ID,
		AccountID:         in.AccountID,
		Direction:         DirectionInbound,
		Kind:              in.Kind,
		Body:              in.Body,
		Status:            StatusDelivered,
		ProviderMessageID: in.ProviderMessageID,
	})
	if errors.Is(err, ErrDuplicate) {
		s.logger.Debug("duplicate inbound message dropped",
			slog.String("account_id", in.AccountID.String()),
			slog.String("provider_message_id", in.ProviderMessageID),
		)
		return conv, Message{}, false, nil
	}
	if err != nil {
		return conversation.Conversation{}, Message{}, false, err
	}

	if err := s.conversations.RecordInbound(ctx, conv.ID, in.ReceivedAt); err != nil {
		return conversation.Conversation{}, Message{}, false, fmt.Errorf("record inbound on conversation: %w", err)
	}

	// The snapshot from GetOrCreate predates RecordInbound. Downstream
	// session-window checks must see this message as the latest inbound,
	// or the first reply to a new customer would be held for a template.
	receivedAt := in.ReceivedAt
	conv.LastInboundAt = &receivedAt
	conv.UnreadCount++

	return conv, msg, true, nil
}

// PersistOutbound stores a reply the pipeline already delivered (or is
// about to deliver) to the platform.
func (s *Service) PersistOutbound(ctx context.Context, m Message) (Message, error) {
	if m.Direction == "" {
		m.Direction = DirectionOutbound
	}
	if m.Status == "" {
		m.Status = StatusQueued
	}
	msg, err := s.store.Insert(ctx, m)
	if errors.Is(err, ErrDuplicate) {
		s.logger.Debug("duplicate outbound message dropped",
			slog.String("account_id", m.AccountID.String()),
			slog.String("provider_message_id", m.ProviderMessageID),
		)
		return Message{}, err
	}
	return msg, err
}

// History returns up to limit prior messages for the conversation in
// chronological order.
func (s *Service) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	return s.store.ListRecent(ctx, conversationID, limit)
}

// ApplyStatus correlates a delivery receipt with its message. Unknown
// provider ids are logged and dropped since receipts can outlive their
// message's retention.
func (s *Service) ApplyStatus(ctx context.Context, accountID uuid.UUID, providerMessageID, status string) (Message, bool, error) {
	msg, err := s.store.UpdateStatusByProviderID(ctx, accountID, providerMessageID, status)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("status receipt for unknown message",
			slog.String("account_id", accountID.String()),
			slog.String("provider_message_id", providerMessageID),
			slog.String("status", status),
		)
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return msg, true, nil
}

// CountTemplateSends reports how many messages carrying templateHash
// the account sent since the given time.
func (s *Service) CountTemplateSends(ctx context.Context, accountID uuid.UUID, templateHash string, since time.Time) (int, error) {
	return s.store.CountByTemplateHashSince(ctx, accountID, templateHash, since)
}

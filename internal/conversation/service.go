package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/replydesk/replydesk/internal/resilience"
)

// Service wraps the store with a read cache. Every mutation invalidates
// the affected entry synchronously before returning, so a read issued
// after a mutation completes never observes the stale value.
type Service struct {
	store  Store
	cache  *resilience.Cache
	logger *slog.Logger
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, store Store, cache *resilience.Cache) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		cache:  cache,
		logger: log.With(slog.String("service", "conversation")),
	}
}

func convKey(id uuid.UUID) string { return "conversation:" + id.String() }

// Get returns the conversation by id, served from cache when warm.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Conversation, error) {
	return resilience.GetOrCompute(ctx, s.cache, convKey(id), func(ctx context.Context) (Conversation, error) {
		return s.store.GetByID(ctx, id)
	})
}

// GetOrCreate returns the thread for (accountID, peerIdentifier),
// creating it with the account's automation default on first contact.
func (s *Service) GetOrCreate(ctx context.Context, accountID uuid.UUID, peerIdentifier string, automationDefault bool) (Conversation, error) {
	conv, err := s.store.GetOrCreate(ctx, accountID, peerIdentifier, automationDefault)
	if err != nil {
		return Conversation{}, fmt.Errorf("get or create conversation: %w", err)
	}
	// The upsert may have bumped updated_at on an existing row.
	s.cache.Invalidate(convKey(conv.ID))
	return conv, nil
}

// SetAutomation flips the per-conversation automation flag.
func (s *Service) SetAutomation(ctx context.Context, id uuid.UUID, enabled bool) error {
	if err := s.store.SetAutomation(ctx, id, enabled); err != nil {
		return err
	}
	s.cache.Invalidate(convKey(id))
	s.logger.Info("conversation automation changed",
		slog.String("conversation_id", id.String()),
		slog.Bool("enabled", enabled),
	)
	return nil
}

// RecordInbound bumps the unread counter and the inbound timestamp.
func (s *Service) RecordInbound(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := s.store.IncrementUnread(ctx, id); err != nil {
		return err
	}
	if err := s.store.TouchInbound(ctx, id, at); err != nil {
		return err
	}
	s.cache.Invalidate(convKey(id))
	return nil
}

// RecordAutomatedReply stamps the last automated reply time.
func (s *Service) RecordAutomatedReply(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := s.store.TouchAutomatedReply(ctx, id, at); err != nil {
		return err
	}
	s.cache.Invalidate(convKey(id))
	return nil
}

// ResetUnread clears the unread counter, typically when an operator
// opens the thread.
func (s *Service) ResetUnread(ctx context.Context, id uuid.UUID) error {
	if err := s.store.ResetUnread(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(convKey(id))
	return nil
}

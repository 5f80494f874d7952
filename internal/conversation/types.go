// Package conversation tracks one thread per (account, peer) pair and
// owns its automation flag and unread counter.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no conversation matches a lookup.
var ErrNotFound = errors.New("conversation not found")

// Conversation is a single customer thread within a tenant account.
type Conversation struct {
	ID                   uuid.UUID
	AccountID            uuid.UUID
	PeerIdentifier       string
	AutomationEnabled    bool
	LastAutomatedReplyAt *time.Time
	LastInboundAt        *time.Time
	UnreadCount          int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Store is the persistence surface for conversations.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (Conversation, error)
	GetOrCreate(ctx context.Context, accountID uuid.UUID, peerIdentifier string, automationDefault bool) (Conversation, error)
	SetAutomation(ctx context.Context, id uuid.UUID, enabled bool) error
	IncrementUnread(ctx context.Context, id uuid.UUID) error
	ResetUnread(ctx context.Context, id uuid.UUID) error
	TouchInbound(ctx context.Context, id uuid.UUID, at time.Time) error
	TouchAutomatedReply(ctx context.Context, id uuid.UUID, at time.Time) error
}

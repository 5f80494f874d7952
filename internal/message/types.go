// Package message persists inbound and outbound messages and exposes
// the history reads the bot builds its context from.
package message

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicate is returned when a message with the same provider id
// already exists for the account. Providers redeliver webhooks, so a
// duplicate is expected traffic, not a fault.
var ErrDuplicate = errors.New("message already persisted")

// Direction of a message relative to the inbox.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Kind classifies the payload.
type Kind string

const (
	KindText     Kind = "text"
	KindMedia    Kind = "media"
	KindTemplate Kind = "template"
	KindStatus   Kind = "status"
)

// Delivery states reported back by the platform, in lifecycle order.
const (
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message is one persisted message row.
type Message struct {
	ID                uuid.UUID
	ConversationID    uuid.UUID
	AccountID         uuid.UUID
	Direction         Direction
	Kind              Kind
	Body              string
	Status            string
	ProviderMessageID string
	TemplateHash      string
	CreatedAt         time.Time
}

// Store is the persistence surface for messages.
type Store interface {
	Insert(ctx context.Context, m Message) (Message, error)
	ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error)
	UpdateStatusByProviderID(ctx context.Context, accountID uuid.UUID, providerMessageID, status string) (Message, error)
	CountByTemplateHashSince(ctx context.Context, accountID uuid.UUID, templateHash string, since time.Time) (int, error)
}

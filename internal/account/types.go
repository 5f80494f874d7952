// Package account resolves inbound routing identifiers to tenant
// accounts and owns tenant credentials and bot defaults.
package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no active account matches a lookup.
// A webhook routing miss is not a failure: payloads sometimes arrive
// before local provisioning settles, so callers ack and drop.
var ErrNotFound = errors.New("account not found")

// Account is one tenant of the inbox.
type Account struct {
	ID                uuid.UUID
	RoutingID         string
	DisplayName       string
	AccessToken       string
	VerifySecret      string
	Knowledge         string
	BotDefaultEnabled bool
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Store is the persistence surface the resolver needs.
type Store interface {
	GetActiveByRoutingID(ctx context.Context, routingID string) (Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (Account, error)
	ListActiveRoutingIDs(ctx context.Context) ([]string, error)
}

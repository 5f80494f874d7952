// Package template registers outbound template content with the
// provider, reuses prior registrations by content hash, and watches
// for broadcast abuse.
package template

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no template matches a lookup.
var ErrNotFound = errors.New("template not found")

// Provider approval states.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// Record is one registered template for an account.
type Record struct {
	ID                 uuid.UUID
	AccountID          uuid.UUID
	TemplateHash       string
	ProviderTemplateID string
	Status             string
	CreatedAt          time.Time
}

// Store is the persistence surface for template records.
type Store interface {
	GetByHashSince(ctx context.Context, accountID uuid.UUID, hash string, since time.Time) (Record, error)
	Insert(ctx context.Context, r Record) (Record, error)
	ListPending(ctx context.Context) ([]Record, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

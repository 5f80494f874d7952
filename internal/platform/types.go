// Package platform speaks the messaging provider's webhook and send
// APIs: envelope decoding, signature verification, and the outbound
// HTTP client.
package platform

import (
	"errors"
	"time"
)

// ErrMalformedEnvelope is returned when a webhook body cannot be
// decoded. The HTTP layer maps it to a 4xx; everything parseable is
// acked with 200 regardless of downstream outcome.
var ErrMalformedEnvelope = errors.New("malformed webhook envelope")

// ErrBadSignature is returned when the payload signature does not
// match the account's verify secret.
var ErrBadSignature = errors.New("webhook signature mismatch")

// InboundMessage is one customer message inside a webhook entry.
type InboundMessage struct {
	ProviderMessageID string    `json:"id"`
	From              string    `json:"from"`
	Kind              string    `json:"type"`
	Text              string    `json:"text,omitempty"`
	MediaURL          string    `json:"media_url,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// StatusUpdate is a delivery receipt for a previously sent message.
type StatusUpdate struct {
	ProviderMessageID string    `json:"id"`
	Recipient         string    `json:"recipient"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
}

// Entry groups the events addressed to one routing identifier.
type Entry struct {
	RoutingID string           `json:"routing_id"`
	Messages  []InboundMessage `json:"messages,omitempty"`
	Statuses  []StatusUpdate   `json:"statuses,omitempty"`
}

// Envelope is the top-level webhook body. One POST may batch entries
// for several tenants.
type Envelope struct {
	Entries []Entry `json:"entries"`
}

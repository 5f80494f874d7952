package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a status update references an unknown
// provider message id.
var ErrNotFound = errors.New("message not found")

const messageColumns = `id, conversation_id, account_id, direction, kind, body,
	status, provider_message_id, template_hash, created_at`

const uniqueViolation = "23505"

// PGStore reads and writes messages in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed message store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Insert persists one message. A unique-constraint hit on
// (account_id, provider_message_id) surfaces as ErrDuplicate so the
// caller can treat provider redelivery as a no-op.
func (s *PGStore) Insert(ctx context.Context, m Message) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, account_id, direction, kind, body,
			status, provider_message_id, template_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+messageColumns,
		m.ConversationID, m.AccountID, m.Direction, m.Kind, m.Body,
		m.Status, m.ProviderMessageID, m.TemplateHash,
	)
	inserted, err := scanMessage(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Message{}, ErrDuplicate
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return inserted, nil
}

// ListRecent returns up to limit messages for the conversation, oldest
// first, so the slice can be fed to the bot as chronological history.
func (s *PGStore) ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1 AND kind <> 'status'
			ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PGStore) UpdateStatusByProviderID(ctx context.Context, accountID uuid.UUID, providerMessageID, status string) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE messages SET status = $3
		 WHERE account_id = $1 AND provider_message_id = $2
		 RETURNING `+messageColumns,
		accountID, providerMessageID, status,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("update message status: %w", err)
	}
	return m, nil
}

func (s *PGStore) CountByTemplateHashSince(ctx context.Context, accountID uuid.UUID, templateHash string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages
		 WHERE account_id = $1 AND template_hash = $2 AND created_at >= $3`,
		accountID, templateHash, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count template sends: %w", err)
	}
	return n, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.AccountID, &m.Direction, &m.Kind, &m.Body,
		&m.Status, &m.ProviderMessageID, &m.TemplateHash, &m.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

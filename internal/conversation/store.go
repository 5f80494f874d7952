package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const conversationColumns = `id, account_id, peer_identifier, automation_enabled,
	last_automated_reply_at, last_inbound_at, unread_count, created_at, updated_at`

// PGStore reads and writes conversations in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed conversation store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) GetByID(ctx context.Context, id uuid.UUID) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`,
		id,
	)
	return scanConversation(row)
}

// GetOrCreate upserts the thread for (accountID, peerIdentifier). The
// automation flag is only set on first insert; concurrent callers all
// land on the same row via the unique constraint.
func (s *PGStore) GetOrCreate(ctx context.Context, accountID uuid.UUID, peerIdentifier string, automationDefault bool) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (account_id, peer_identifier, automation_enabled)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, peer_identifier)
		 DO UPDATE SET updated_at = now()
		 RETURNING `+conversationColumns,
		accountID, peerIdentifier, automationDefault,
	)
	return scanConversation(row)
}

func (s *PGStore) SetAutomation(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET automation_enabled = $2, updated_at = now() WHERE id = $1`,
		id, enabled,
	)
	if err != nil {
		return fmt.Errorf("set automation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) IncrementUnread(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET unread_count = unread_count + 1, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return nil
}

func (s *PGStore) ResetUnread(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET unread_count = 0, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

func (s *PGStore) TouchInbound(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET last_inbound_at = $2, updated_at = now() WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("touch inbound: %w", err)
	}
	return nil
}

func (s *PGStore) TouchAutomatedReply(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET last_automated_reply_at = $2, updated_at = now() WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("touch automated reply: %w", err)
	}
	return nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID, &c.AccountID, &c.PeerIdentifier, &c.AutomationEnabled,
		&c.LastAutomatedReplyAt, &c.LastInboundAt, &c.UnreadCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	return c, nil
}

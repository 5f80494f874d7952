package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, routing_id, display_name, access_token, verify_secret,
	knowledge, bot_default_enabled, is_active, created_at, updated_at`

// PGStore reads accounts from PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed account store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) GetActiveByRoutingID(ctx context.Context, routingID string) (Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE routing_id = $1 AND is_active`,
		routingID,
	)
	return scanAccount(row)
}

func (s *PGStore) GetByID(ctx context.Context, id uuid.UUID) (Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id,
	)
	return scanAccount(row)
}

func (s *PGStore) ListActiveRoutingIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT routing_id FROM accounts WHERE is_active ORDER BY routing_id`)
	if err != nil {
		return nil, fmt.Errorf("list routing ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.RoutingID, &a.DisplayName, &a.AccessToken, &a.VerifySecret,
		&a.Knowledge, &a.BotDefaultEnabled, &a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

package template

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const templateColumns = `id, account_id, template_hash, provider_template_id, status, created_at`

// PGStore reads and writes template records in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed template store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) GetByHashSince(ctx context.Context, accountID uuid.UUID, hash string, since time.Time) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM pending_templates
		 WHERE account_id = $1 AND template_hash = $2 AND created_at >= $3 AND status <> $4`,
		accountID, hash, since, StatusRejected,
	)
	return scanRecord(row)
}

func (s *PGStore) Insert(ctx context.Context, r Record) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO pending_templates (account_id, template_hash, provider_template_id, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account_id, template_hash)
		 DO UPDATE SET provider_template_id = EXCLUDED.provider_template_id, status = EXCLUDED.status
		 RETURNING `+templateColumns,
		r.AccountID, r.TemplateHash, r.ProviderTemplateID, r.Status,
	)
	return scanRecord(row)
}

func (s *PGStore) ListPending(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateColumns+` FROM pending_templates WHERE status = $1 ORDER BY created_at`,
		StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending templates: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PGStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_templates SET status = $2 WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("update template status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.AccountID, &r.TemplateHash, &r.ProviderTemplateID, &r.Status, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan template: %w", err)
	}
	return r, nil
}

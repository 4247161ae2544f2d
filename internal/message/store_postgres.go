package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"sealwire/internal/domain"
	"sealwire/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

// PostgresStore persists message envelopes in PostgreSQL. The unique indexes
// on (counterparty, inbound, seq) and on link are what make Put conditional:
// a lost race surfaces as a unique violation, never as a silent overwrite.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, m *domain.Message) error {
	envelope, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	var payloadLink any
	if m.Object != nil && m.Object.Link != "" {
		payloadLink = string(m.Object.Link)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (link, payload_link, counterparty, inbound, seq, time_ms, envelope)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.Link, payloadLink, m.Counterparty(), m.Inbound, m.Seq, m.Time, envelope)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByLink(ctx context.Context, link domain.Link) (*domain.Message, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT envelope FROM messages WHERE link = $1`, link))
}

func (s *PostgresStore) LastSent(ctx context.Context, recipient domain.Permalink) (*domain.Message, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT envelope FROM messages
		WHERE counterparty = $1 AND inbound = FALSE
		ORDER BY seq DESC LIMIT 1`, recipient))
}

func (s *PostgresStore) LastReceived(ctx context.Context, author domain.Permalink) (*domain.Message, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT envelope FROM messages
		WHERE counterparty = $1 AND inbound = TRUE
		ORDER BY time_ms DESC LIMIT 1`, author))
}

func (s *PostgresStore) ListSent(ctx context.Context, recipient domain.Permalink, r Range, limit int) ([]*domain.Message, error) {
	query := `
		SELECT envelope FROM messages
		WHERE counterparty = $1 AND inbound = FALSE`
	args := []any{recipient}
	if r.After != nil {
		args = append(args, *r.After)
		query += fmt.Sprintf(" AND seq > $%d", len(args))
	}
	if r.Before != nil {
		args = append(args, *r.Before)
		query += fmt.Sprintf(" AND seq < $%d", len(args))
	}
	query += " ORDER BY seq ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sent: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var envelope []byte
		if err := rows.Scan(&envelope); err != nil {
			return nil, err
		}
		var m domain.Message
		if err := json.Unmarshal(envelope, &m); err != nil {
			return nil, fmt.Errorf("unmarshal envelope: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AttachSeal(ctx context.Context, link domain.Link, seal *domain.Seal) error {
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return fmt.Errorf("marshal seal: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET seal = $2 WHERE payload_link = $1`, link, sealJSON)
	if err != nil {
		return fmt.Errorf("attach seal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanOne(row *sql.Row) (*domain.Message, error) {
	var envelope []byte
	err := row.Scan(&envelope)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	var m domain.Message
	if err := json.Unmarshal(envelope, &m); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &m, nil
}

package seal

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

// PostgresStore persists seal records in PostgreSQL. Partial indexes on
// unsealed and unconfirmed back the reconciliation scans.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, rec *domain.Seal) error {
	errsJSON, err := json.Marshal(rec.Errors)
	if err != nil {
		return fmt.Errorf("marshal seal errors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO seals (id, link, permalink, blockchain, network, address, pub_key,
			watch_type, time_ms, confirmations, tx_id, time_sealed, errors,
			unsealed, unconfirmed, unwatched)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, rec.Link, nullStr(string(rec.Permalink)), rec.Blockchain, rec.Network,
		rec.Address, rec.PubKey, rec.WatchType, rec.Time, rec.Confirmations,
		nullStr(rec.TxID), rec.TimeSealed, errsJSON,
		rec.Unsealed, rec.Unconfirmed, rec.Unwatched)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert seal: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec *domain.Seal) error {
	errsJSON, err := json.Marshal(rec.Errors)
	if err != nil {
		return fmt.Errorf("marshal seal errors: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE seals SET confirmations = $2, tx_id = $3, time_sealed = $4,
			errors = $5, unsealed = $6, unconfirmed = $7, unwatched = $8
		WHERE link = $1`,
		rec.Link, rec.Confirmations, nullStr(rec.TxID), rec.TimeSealed,
		errsJSON, rec.Unsealed, rec.Unconfirmed, rec.Unwatched)
	if err != nil {
		return fmt.Errorf("update seal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetByLink(ctx context.Context, link domain.Link) (*domain.Seal, error) {
	return scanSeal(s.db.QueryRowContext(ctx, selectSeal+` WHERE link = $1`, link))
}

func (s *PostgresStore) ListUnsealed(ctx context.Context, limit int) ([]*domain.Seal, error) {
	return s.listWhere(ctx, `WHERE unsealed ORDER BY time_ms ASC`, limit)
}

func (s *PostgresStore) ListUnconfirmed(ctx context.Context, limit int) ([]*domain.Seal, error) {
	return s.listWhere(ctx, `WHERE unconfirmed AND NOT unwatched ORDER BY time_ms ASC`, limit)
}

const selectSeal = `
	SELECT id, link, permalink, blockchain, network, address, pub_key,
		watch_type, time_ms, confirmations, tx_id, time_sealed, errors,
		unsealed, unconfirmed, unwatched
	FROM seals`

func (s *PostgresStore) listWhere(ctx context.Context, clause string, limit int) ([]*domain.Seal, error) {
	query := selectSeal + " " + clause
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list seals: %w", err)
	}
	defer rows.Close()

	var out []*domain.Seal
	for rows.Next() {
		rec, err := scanSealRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSeal(row *sql.Row) (*domain.Seal, error) {
	rec, err := scanSealRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return rec, err
}

func scanSealRow(scan func(...any) error) (*domain.Seal, error) {
	var (
		rec       domain.Seal
		permalink sql.NullString
		txID      sql.NullString
		errsJSON  []byte
	)
	err := scan(&rec.ID, &rec.Link, &permalink, &rec.Blockchain, &rec.Network,
		&rec.Address, &rec.PubKey, &rec.WatchType, &rec.Time, &rec.Confirmations,
		&txID, &rec.TimeSealed, &errsJSON,
		&rec.Unsealed, &rec.Unconfirmed, &rec.Unwatched)
	if err != nil {
		return nil, err
	}
	rec.Permalink = domain.Link(permalink.String)
	rec.TxID = txID.String
	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &rec.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal seal errors: %w", err)
		}
	}
	return &rec, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

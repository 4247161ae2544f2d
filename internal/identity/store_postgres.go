package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"sealwire/internal/domain"
	"sealwire/pkg/platform/sentinel"
)

// PostgresStore persists identities, pubkey mappings and webhook
// registrations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) PutIdentity(ctx context.Context, id *domain.Identity) error {
	pubs := make([]string, len(id.Pubkeys))
	for i, k := range id.Pubkeys {
		pubs[i] = k.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (permalink, link, prev_link, name, pubkeys)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (permalink) DO UPDATE
		SET link = EXCLUDED.link, prev_link = EXCLUDED.prev_link,
		    name = EXCLUDED.name, pubkeys = EXCLUDED.pubkeys`,
		id.Permalink, id.Link, nullStr(string(id.PrevLink)), nullStr(id.Name), pq.Array(pubs))
	if err != nil {
		return fmt.Errorf("put identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByPermalink(ctx context.Context, permalink domain.Permalink) (*domain.Identity, error) {
	var (
		id       domain.Identity
		prevLink sql.NullString
		name     sql.NullString
		pubs     []string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT permalink, link, prev_link, name, pubkeys
		FROM identities WHERE permalink = $1`,
		permalink).Scan(&id.Permalink, &id.Link, &prevLink, &name, pq.Array(&pubs))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	id.PrevLink = domain.Link(prevLink.String)
	id.Name = name.String
	for _, p := range pubs {
		key, err := domain.ParsePubKey(p)
		if err != nil {
			return nil, fmt.Errorf("stored pubkey: %w", err)
		}
		id.Pubkeys = append(id.Pubkeys, key)
	}
	return &id, nil
}

func (s *PostgresStore) PutMapping(ctx context.Context, m *domain.PubKeyMapping) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pubkey_mappings (pub, link, permalink)
		VALUES ($1, $2, $3)
		ON CONFLICT (pub) DO NOTHING`,
		m.Pub, m.Link, m.Permalink)
	if err != nil {
		return fmt.Errorf("put pubkey mapping: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.GetMapping(ctx, m.Pub)
		if err != nil {
			return err
		}
		if existing.Permalink != m.Permalink {
			return sentinel.ErrConflict
		}
	}
	return nil
}

func (s *PostgresStore) GetMapping(ctx context.Context, pub string) (*domain.PubKeyMapping, error) {
	var m domain.PubKeyMapping
	err := s.db.QueryRowContext(ctx, `
		SELECT pub, link, permalink FROM pubkey_mappings WHERE pub = $1`,
		pub).Scan(&m.Pub, &m.Link, &m.Permalink)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pubkey mapping: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) SetWebhook(ctx context.Context, permalink domain.Permalink, url string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhooks (permalink, url) VALUES ($1, $2)
		ON CONFLICT (permalink) DO UPDATE SET url = EXCLUDED.url`,
		permalink, url)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWebhook(ctx context.Context, permalink domain.Permalink) (string, error) {
	var url string
	err := s.db.QueryRowContext(ctx, `
		SELECT url FROM webhooks WHERE permalink = $1`, permalink).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && url == "") {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get webhook: %w", err)
	}
	return url, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

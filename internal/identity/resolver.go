package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"sealwire/internal/domain"
	"sealwire/internal/signing"
	dErrors "sealwire/pkg/domain-errors"
	"sealwire/pkg/platform/sentinel"
)

// Resolver maps public keys and permalinks to identity documents and
// validates new identity versions against previous ones.
type Resolver struct {
	log   *slog.Logger
	store Store
}

func NewResolver(log *slog.Logger, store Store) *Resolver {
	return &Resolver{log: log, store: store}
}

// Resolve returns the identity owning the given permalink.
func (r *Resolver) Resolve(ctx context.Context, permalink domain.Permalink) (*domain.Identity, error) {
	id, err := r.store.GetByPermalink(ctx, permalink)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown identity %s", permalink)
	}
	return id, err
}

// ResolveByPubKey returns the identity owning the given signing key. This is
// the lookup performed on every inbound message to resolve the author.
func (r *Resolver) ResolveByPubKey(ctx context.Context, pub domain.PubKey) (*domain.Identity, error) {
	m, err := r.store.GetMapping(ctx, pub.String())
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no identity known for key %s", pub)
	}
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, m.Permalink)
}

// AddContact registers (or versions) a counterparty identity from its signed
// identity document and writes a pubkey mapping for each claimed key.
func (r *Resolver) AddContact(ctx context.Context, obj *domain.SignedObject) (*domain.Identity, error) {
	id, err := ParseIdentity(obj)
	if err != nil {
		return nil, err
	}

	prev, err := r.store.GetByPermalink(ctx, id.Permalink)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		// First version: the permalink is this version's link.
		if id.Permalink != domain.Permalink(id.Link) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "first identity version must be its own permalink")
		}
	case err != nil:
		return nil, err
	default:
		if prev.Link == id.Link {
			return prev, nil
		}
		if id.PrevLink != prev.Link {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "identity version does not chain to the registered one")
		}
	}

	if err := r.store.PutIdentity(ctx, id); err != nil {
		return nil, err
	}
	for _, k := range id.Pubkeys {
		err := r.store.PutMapping(ctx, &domain.PubKeyMapping{
			Pub:       k.String(),
			Link:      id.Link,
			Permalink: id.Permalink,
		})
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "key %s already belongs to another identity", k)
		}
		if err != nil {
			return nil, err
		}
	}
	r.log.InfoContext(ctx, "contact registered",
		"permalink", id.Permalink,
		"link", id.Link,
		"keys", len(id.Pubkeys),
	)
	return id, nil
}

// RegisterWebhook records a store-and-forward endpoint for a contact.
func (r *Resolver) RegisterWebhook(ctx context.Context, permalink domain.Permalink, url string) error {
	if url == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "webhook url is required")
	}
	return r.store.SetWebhook(ctx, permalink, url)
}

// Webhook returns the registered endpoint for a contact, or
// sentinel.ErrNotFound when the contact has no webhook capability.
func (r *Resolver) Webhook(ctx context.Context, permalink domain.Permalink) (string, error) {
	return r.store.GetWebhook(ctx, permalink)
}

// ParseIdentity validates a signed identity document and extracts the typed
// record. The document must carry a valid signature by one of its own keys.
func ParseIdentity(obj *domain.SignedObject) (*domain.Identity, error) {
	if obj == nil || len(obj.Raw) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identity document is required")
	}
	if obj.Type != domain.TypeIdentity && obj.Type != domain.TypeSelfIntroduction {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "not an identity document: %s", obj.Type)
	}
	sigKey, err := signing.Verify(obj.Raw, obj.Sig)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidSignature, "identity signature")
	}

	var doc struct {
		Permalink domain.Permalink `json:"permalink"`
		PrevLink  domain.Link      `json:"prevLink"`
		Name      string           `json:"name"`
		Pubkeys   []domain.PubKey  `json:"pubkeys"`
	}
	if err := json.Unmarshal(obj.Raw, &doc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "identity document")
	}
	if len(doc.Pubkeys) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identity claims no keys")
	}

	link, err := signing.LinkOf(obj.Raw)
	if err != nil {
		return nil, err
	}
	id := &domain.Identity{
		Permalink: doc.Permalink,
		Link:      link,
		PrevLink:  doc.PrevLink,
		Name:      doc.Name,
		Pubkeys:   doc.Pubkeys,
	}
	if id.Permalink == "" {
		id.Permalink = domain.Permalink(link)
	}
	if !id.HasKey(sigKey) {
		return nil, dErrors.New(dErrors.CodeInvalidSignature, "identity not signed by one of its own keys")
	}
	return id, nil
}

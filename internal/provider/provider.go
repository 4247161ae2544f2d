// Package provider orchestrates the message exchange protocol: signing and
// strictly-ordered persistence of outbound messages, and validation and
// duplicate/replay rejection of inbound ones.
package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"sealwire/internal/domain"
	"sealwire/internal/identity"
	"sealwire/internal/message"
	"sealwire/internal/object"
	"sealwire/internal/platform/metrics"
	"sealwire/internal/signing"
	dErrors "sealwire/pkg/domain-errors"
	"sealwire/pkg/platform/audit"
)

// Sealer is the slice of the seal manager the provider needs: announce an
// anchor this node will write, or watch one a counterparty wrote.
type Sealer interface {
	Create(ctx context.Context, basePub string, link domain.Link) (*domain.Seal, error)
	Watch(ctx context.Context, basePub string, link domain.Link) (*domain.Seal, error)
}

// LiveDeliverer attempts immediate delivery over a live transport. Failures
// here never fail a send; the message is already durably sequenced.
type LiveDeliverer interface {
	AttemptLiveDelivery(ctx context.Context, recipient domain.Permalink, clientID string, msgs []*domain.Message) error
}

// SessionSource reports handshake state so an inbound self-introduction can
// be skipped when the session already established the identity.
type SessionSource interface {
	GetSession(ctx context.Context, clientID string) (*domain.Session, error)
}

// Provider signs objects, derives sequence numbers with
// optimistic-concurrency retry, triggers sealing, and normalizes and
// validates inbound messages.
type Provider struct {
	log        *slog.Logger
	key        *signing.Key
	permalink  domain.Permalink
	objects    object.Store
	identities *identity.Resolver
	messages   message.Store
	seals      Sealer
	router     LiveDeliverer
	sessions   SessionSource
	metrics    *metrics.Metrics
	trail      *audit.Trail

	// sealBasePub is the chain base key seal addresses derive from.
	sealBasePub string
	sealNet     struct{ blockchain, network string }
	now         func() time.Time
}

// Config wires a Provider. Sealer, router, sessions and trail may be nil;
// the corresponding steps are skipped.
type Config struct {
	Log        *slog.Logger
	Key        *signing.Key
	Permalink  domain.Permalink
	Objects    object.Store
	Identities *identity.Resolver
	Messages   message.Store
	Seals      Sealer
	Router     LiveDeliverer
	Sessions   SessionSource
	Metrics    *metrics.Metrics
	Trail      *audit.Trail

	SealBasePub    string
	SealBlockchain string
	SealNetwork    string
}

func New(cfg Config) *Provider {
	p := &Provider{
		log:         cfg.Log,
		key:         cfg.Key,
		permalink:   cfg.Permalink,
		objects:     cfg.Objects,
		identities:  cfg.Identities,
		messages:    cfg.Messages,
		seals:       cfg.Seals,
		router:      cfg.Router,
		sessions:    cfg.Sessions,
		metrics:     cfg.Metrics,
		trail:       cfg.Trail,
		sealBasePub: cfg.SealBasePub,
		now:         time.Now,
	}
	p.sealNet.blockchain = cfg.SealBlockchain
	p.sealNet.network = cfg.SealNetwork
	return p
}

// WithClock overrides the provider's clock. Test hook.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// SignObject signs raw payload JSON with the node key and attaches link
// metadata. The payload must carry a `_t` type tag and no signature yet.
func (p *Provider) SignObject(raw []byte) (*domain.SignedObject, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "payload is not JSON")
	}
	if t, _ := body["_t"].(string); t == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "payload has no type tag")
	}
	if _, signed := body["_s"]; signed {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "payload is already signed")
	}

	sig, err := p.key.Sign(raw)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidSignature, "sign payload")
	}
	body["_s"] = sig
	signedRaw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	obj := &domain.SignedObject{}
	if err := obj.UnmarshalJSON(signedRaw); err != nil {
		return nil, err
	}
	link, err := signing.LinkOf(signedRaw)
	if err != nil {
		return nil, err
	}
	obj.Link = link
	obj.Author = p.permalink
	return obj, nil
}

// Payload is a signed payload in both of its forms. Stored keeps embedded
// media as links; Transmission inlines it. Virtual metadata is identical.
type Payload struct {
	Stored       *domain.SignedObject
	Transmission *domain.SignedObject
}

// GetOrCreatePayload signs and persists raw content, or fetches the stored
// object when given a link.
func (p *Provider) GetOrCreatePayload(ctx context.Context, raw []byte, link domain.Link) (*Payload, error) {
	var stored *domain.SignedObject
	switch {
	case link != "":
		var err error
		stored, err = p.objects.Get(ctx, link)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "payload not stored")
		}
		stored.Author = p.permalink
	case len(raw) > 0:
		var err error
		stored, err = p.SignObject(raw)
		if err != nil {
			return nil, err
		}
		if _, err := p.objects.Put(ctx, stored); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeCloudService, "persist payload")
		}
	default:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "either object content or link is required")
	}

	inlined, err := p.inlineEmbeds(ctx, stored.Raw)
	if err != nil {
		return nil, err
	}
	transmission := &domain.SignedObject{}
	if err := transmission.UnmarshalJSON(inlined); err != nil {
		return nil, err
	}
	transmission.Link = stored.Link
	transmission.Permalink = stored.Permalink
	transmission.Author = stored.Author
	return &Payload{Stored: stored, Transmission: transmission}, nil
}

package provider

import (
	"context"
	"encoding/json"
	"errors"

	"sealwire/internal/domain"
	"sealwire/internal/signing"
	dErrors "sealwire/pkg/domain-errors"
	"sealwire/pkg/platform/audit"
	"sealwire/pkg/platform/sentinel"
)

// ReceiveMessage validates and persists one inbound wire envelope. If a
// self-introduction payload is present the contact is registered first
// (skipped when the session's handshake already established the identity).
// If the message declares an on-chain seal for its payload, a seal watch is
// registered so reconciliation later attaches confirmation data.
func (p *Provider) ReceiveMessage(ctx context.Context, raw []byte, clientID string) (*domain.Message, error) {
	msg, err := p.parseEnvelope(raw)
	if err != nil {
		p.reject(ctx, err)
		return nil, err
	}

	if msg.Object.Type == domain.TypeSelfIntroduction || msg.Object.Type == domain.TypeIdentity {
		if !p.handshakeEstablished(ctx, clientID) {
			if _, err := p.identities.AddContact(ctx, msg.Object); err != nil {
				p.reject(ctx, err)
				return nil, err
			}
		}
	}

	if err := p.normalizeAndValidate(ctx, raw, msg); err != nil {
		p.reject(ctx, err)
		if dErrors.HasCode(err, dErrors.CodeDuplicate) {
			// Already accepted. Hand the normalized message back so the
			// transport can ack it and the peer stops retransmitting.
			return msg, err
		}
		return nil, err
	}

	if _, err := p.objects.Put(ctx, msg.Object); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCloudService, "persist inbound payload")
	}
	if err := p.messages.Put(ctx, msg); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// A concurrent handler won the race for this exact envelope.
			err = dErrors.New(dErrors.CodeDuplicate, "message already stored")
			p.reject(ctx, err)
			return msg, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeCloudService, "persist inbound message")
	}

	if msg.Seal != nil && p.seals != nil {
		if _, err := p.seals.Watch(ctx, msg.Seal.BasePubKey, msg.Seal.Link); err != nil &&
			!dErrors.HasCode(err, dErrors.CodeDuplicate) {
			p.log.ErrorContext(ctx, "seal watch registration failed", "link", msg.Seal.Link, "error", err)
		}
	}

	p.metrics.MessagesReceived.Inc()
	p.emit(ctx, audit.MessageReceived, string(msg.Link), map[string]string{
		"author": string(msg.Author),
		"seq":    itoa(msg.Seq),
	})
	return msg, nil
}

// parseEnvelope performs the one-time boundary validation of the wire shape.
// Virtual fields arriving on the wire are discarded, never trusted.
func (p *Provider) parseEnvelope(raw []byte) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidMessageFormat, "envelope is not JSON")
	}
	switch {
	case msg.Type != domain.TypeMessage:
		return nil, dErrors.Newf(dErrors.CodeInvalidMessageFormat, "unexpected envelope type %q", msg.Type)
	case msg.Sig == "":
		return nil, dErrors.New(dErrors.CodeInvalidMessageFormat, "envelope is unsigned")
	case msg.Time <= 0:
		return nil, dErrors.New(dErrors.CodeInvalidMessageFormat, "envelope has no timestamp")
	case msg.Object == nil || len(msg.Object.Raw) == 0:
		return nil, dErrors.New(dErrors.CodeInvalidMessageFormat, "envelope has no payload")
	case msg.Object.Sig == "":
		return nil, dErrors.New(dErrors.CodeInvalidMessageFormat, "payload is unsigned")
	case msg.RecipientPubKey.IsZero():
		return nil, dErrors.New(dErrors.CodeInvalidMessageFormat, "envelope has no recipient key")
	}
	msg.Author = ""
	msg.Recipient = ""
	msg.Link = ""
	msg.Permalink = ""
	msg.Inbound = false
	return &msg, nil
}

// normalizeAndValidate resolves embeds to their at-rest form, attaches
// signature-derived metadata to message and payload, resolves the author
// identity for each, and enforces the monotonic inbound clock.
func (p *Provider) normalizeAndValidate(ctx context.Context, raw []byte, msg *domain.Message) error {
	if msg.RecipientPubKey != p.key.Pub {
		return dErrors.New(dErrors.CodeInvalidMessageFormat, "message is not addressed to this node")
	}

	// Externalize embedded media before verifying anything: both signatures
	// cover the at-rest form.
	storedRaw, err := p.externEmbeds(ctx, msg.Object.Raw)
	if err != nil {
		return err
	}
	stored := &domain.SignedObject{}
	if err := stored.UnmarshalJSON(storedRaw); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidMessageFormat, "payload")
	}

	normRaw, err := envelopeWithObject(raw, stored.Raw)
	if err != nil {
		return err
	}
	msgSigKey, err := signing.Verify(normRaw, msg.Sig)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidSignature, "message signature")
	}
	author, err := p.identities.ResolveByPubKey(ctx, msgSigKey)
	if err != nil {
		return err
	}
	msg.Author = author.Permalink
	msg.Recipient = p.permalink
	msg.Inbound = true

	link, err := signing.LinkOf(normRaw)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidMessageFormat, "message link")
	}
	msg.Link = link

	objSigKey, err := signing.Verify(stored.Raw, stored.Sig)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidSignature, "payload signature")
	}
	objLink, err := signing.LinkOf(stored.Raw)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidMessageFormat, "payload link")
	}
	stored.Link = objLink
	if objSigKey == msgSigKey {
		// Same signing key: short-circuit to the already-resolved author.
		stored.Author = author.Permalink
	} else {
		payloadAuthor, err := p.identities.ResolveByPubKey(ctx, objSigKey)
		if err != nil {
			return err
		}
		stored.Author = payloadAuthor.Permalink
	}
	msg.Object = stored

	return p.assertTimestampIncreased(ctx, msg)
}

// assertTimestampIncreased enforces a monotonic per-author inbound clock,
// rejecting both retransmissions and out-of-order replays. Independent of
// the outbound sequencing guarantee; the two directions are tracked
// separately.
func (p *Provider) assertTimestampIncreased(ctx context.Context, msg *domain.Message) error {
	last, err := p.messages.LastReceived(ctx, msg.Author)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeCloudService, "read last received")
	}
	if last.Link == msg.Link {
		return dErrors.Newf(dErrors.CodeDuplicate, "message %s already received", msg.Link)
	}
	if msg.Time <= last.Time {
		return dErrors.Newf(dErrors.CodeTimeTravel,
			"timestamp %d does not increase on %d from %s", msg.Time, last.Time, msg.Author)
	}
	return nil
}

// envelopeWithObject rebuilds the wire envelope around the at-rest payload,
// restoring the exact bytes the sender signed.
func envelopeWithObject(raw, objectRaw []byte) ([]byte, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidMessageFormat, "envelope")
	}
	envelope["object"] = json.RawMessage(objectRaw)
	return json.Marshal(envelope)
}

func (p *Provider) handshakeEstablished(ctx context.Context, clientID string) bool {
	if clientID == "" || p.sessions == nil {
		return false
	}
	session, err := p.sessions.GetSession(ctx, clientID)
	if err != nil {
		return false
	}
	return session.Authenticated
}

func (p *Provider) reject(ctx context.Context, err error) {
	code := dErrors.CodeOf(err)
	p.metrics.MessagesRejected.WithLabelValues(string(code)).Inc()
	p.log.WarnContext(ctx, "inbound message rejected", "reason", code, "error", err)
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"golang.org/x/sync/errgroup"

	"sealwire/internal/domain"
	"sealwire/internal/signing"
	dErrors "sealwire/pkg/domain-errors"
	"sealwire/pkg/platform/audit"
	"sealwire/pkg/platform/sentinel"
)

// maxSeqAttempts bounds the optimistic-concurrency retry loop. Two
// concurrent sends to the same recipient race on the same conditional key;
// the loser re-reads and retries.
const maxSeqAttempts = 3

// SendRequest describes one outbound message. Exactly one of Object (raw
// payload JSON) or Link (already-stored payload) must be set.
type SendRequest struct {
	Recipient domain.Permalink
	Object    []byte
	Link      domain.Link

	// Seal announces and registers an on-chain anchor for the payload.
	Seal bool
	// ClientID forces delivery over that client's live session.
	ClientID string
}

// SendMessage is the central ordering operation: obtain the payload and the
// recipient identity concurrently, claim the next sequence slot with a
// conditional persist, retry on conflict with freshly-read state, then seal
// and attempt live delivery. For a fixed (author,recipient) pair no two
// persisted messages ever share a seq; no lock is involved.
func (p *Provider) SendMessage(ctx context.Context, req SendRequest) (*domain.Message, error) {
	if req.Recipient == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "recipient is required")
	}

	var (
		payload   *Payload
		recipient *domain.Identity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		payload, err = p.GetOrCreatePayload(gctx, req.Object, req.Link)
		return err
	})
	g.Go(func() error {
		var err error
		recipient, err = p.identities.Resolve(gctx, req.Recipient)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(recipient.Pubkeys) == 0 {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "recipient %s has no keys", req.Recipient)
	}

	var msg *domain.Message
	for attempt := 0; attempt < maxSeqAttempts; attempt++ {
		last, err := p.messages.LastSent(ctx, req.Recipient)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeCloudService, "read last sent")
		}

		candidate := &domain.Message{
			Type:            domain.TypeMessage,
			Time:            p.now().UnixMilli(),
			RecipientPubKey: recipient.Pubkeys[0],
			Object:          payload.Stored,
			Author:          p.permalink,
			Recipient:       req.Recipient,
		}
		if last != nil {
			candidate.Seq = last.Seq + 1
			candidate.PrevToRecipient = last.Link
		}
		if req.Seal {
			candidate.Seal = &domain.SealAnnouncement{
				Blockchain: p.sealNet.blockchain,
				Network:    p.sealNet.network,
				Link:       payload.Stored.Link,
				BasePubKey: p.sealBasePub,
			}
		}
		if err := p.signMessage(candidate); err != nil {
			return nil, err
		}

		err = p.messages.Put(ctx, candidate)
		if errors.Is(err, sentinel.ErrConflict) {
			p.metrics.SeqConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeCloudService, "persist message")
		}
		msg = candidate
		break
	}
	if msg == nil {
		return nil, dErrors.Newf(dErrors.CodeCloudService,
			"sequence contention to %s not resolved after %d attempts", req.Recipient, maxSeqAttempts)
	}

	p.metrics.MessagesSent.Inc()
	p.emit(ctx, audit.MessageSent, string(msg.Link), map[string]string{
		"recipient": string(req.Recipient),
		"seq":       itoa(msg.Seq),
	})

	if req.Seal && p.seals != nil {
		if _, err := p.seals.Create(ctx, p.sealBasePub, payload.Stored.Link); err != nil &&
			!dErrors.HasCode(err, dErrors.CodeDuplicate) {
			// Sealing is asynchronous by contract; a failed registration is
			// recorded and retried operationally, never fails the send.
			p.log.ErrorContext(ctx, "seal registration failed", "link", payload.Stored.Link, "error", err)
		}
	}

	if p.router != nil {
		out := *msg
		out.Object = payload.Transmission
		if err := p.router.AttemptLiveDelivery(ctx, req.Recipient, req.ClientID, []*domain.Message{&out}); err != nil {
			// The message is durably sequenced; it stays queued for windowed
			// delivery when no transport takes it now.
			p.log.WarnContext(ctx, "live delivery failed", "link", msg.Link, "error", err)
		}
	}
	return msg, nil
}

// signMessage signs the full envelope (including seq, prev pointer and seal
// announcement) and assigns its link.
func (p *Provider) signMessage(msg *domain.Message) error {
	msg.Sig = ""
	msg.Link = ""
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	sig, err := p.key.Sign(raw)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidSignature, "sign message")
	}
	msg.Sig = sig
	signedRaw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	link, err := signing.LinkOf(signedRaw)
	if err != nil {
		return err
	}
	msg.Link = link
	return nil
}

func (p *Provider) emit(ctx context.Context, typ audit.EventType, subject string, detail map[string]string) {
	if p.trail == nil {
		return
	}
	p.trail.Emit(ctx, audit.Event{
		Type:    typ,
		Actor:   string(p.permalink),
		Subject: subject,
		Detail:  detail,
	})
}

func itoa(n uint64) string {
	return strconv.FormatUint(n, 10)
}

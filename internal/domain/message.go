package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Object type tags carried in the `_t` field of signed envelopes.
const (
	TypeMessage           = "sealwire.Message"
	TypeIdentity          = "identity.Identity"
	TypeSelfIntroduction  = "identity.SelfIntroduction"
	TypeChallengeResponse = "auth.ChallengeResponse"
)

// Link is the deterministic content hash (hex sha256) identifying an
// immutable signed object. Immutable once assigned.
type Link string

// Permalink is the stable identifier of an identity across versions: the link
// of its first published version.
type Permalink string

// PubKey is a curve-qualified public key, serialized as "curve:hexpub".
type PubKey struct {
	Curve string
	Pub   string
}

func (k PubKey) String() string {
	return k.Curve + ":" + k.Pub
}

func (k PubKey) IsZero() bool {
	return k.Curve == "" && k.Pub == ""
}

// ParsePubKey parses the "curve:hexpub" wire form.
func ParsePubKey(s string) (PubKey, error) {
	curve, pub, ok := strings.Cut(s, ":")
	if !ok || curve == "" || pub == "" {
		return PubKey{}, fmt.Errorf("malformed pubkey %q", s)
	}
	return PubKey{Curve: curve, Pub: pub}, nil
}

func (k PubKey) MarshalJSON() ([]byte, error) {
	if k.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(k.String())
}

func (k *PubKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*k = PubKey{}
		return nil
	}
	parsed, err := ParsePubKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// SignedObject is an immutable signed payload. Raw holds the exact signed
// JSON (including `_t` and `_s`); everything else is virtual metadata
// computed locally and never trusted from the wire.
type SignedObject struct {
	Raw json.RawMessage

	Type      string
	Sig       string
	Link      Link
	Permalink Link
	Author    Permalink
}

func (o *SignedObject) MarshalJSON() ([]byte, error) {
	if o == nil || len(o.Raw) == 0 {
		return []byte("null"), nil
	}
	return o.Raw, nil
}

func (o *SignedObject) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"_t"`
		Sig  string `json:"_s"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	o.Raw = append(o.Raw[:0], data...)
	o.Type = head.Type
	o.Sig = head.Sig
	return nil
}

// Body unmarshals the raw signed JSON into a generic map, for callers that
// need to inspect payload fields (embeds, identity documents).
func (o *SignedObject) Body() (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(o.Raw, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// SealAnnouncement is attached to a message whose payload the sender has
// anchored (or intends to anchor) on chain. The receiver registers a watch,
// never a write, from it.
type SealAnnouncement struct {
	Blockchain string `json:"blockchain"`
	Network    string `json:"network"`
	Link       Link   `json:"link"`
	BasePubKey string `json:"basePubKey"`
}

// Message is the wire envelope. Seq is monotonically increasing per
// (author,recipient) direction with no gaps visible to the sequencer; Link is
// immutable once assigned. A message is created once and never mutated except
// to attach virtual metadata.
type Message struct {
	Type            string            `json:"_t"`
	Sig             string            `json:"_s"`
	Seq             uint64            `json:"_seq"`
	Time            int64             `json:"time"`
	RecipientPubKey PubKey            `json:"recipientPubKey"`
	Object          *SignedObject     `json:"object"`
	PrevToRecipient Link              `json:"prevToRecipient,omitempty"`
	Seal            *SealAnnouncement `json:"seal,omitempty"`

	// Virtual metadata, computed locally and never trusted from the wire.
	Author    Permalink `json:"_author,omitempty"`
	Recipient Permalink `json:"_recipient,omitempty"`
	Link      Link      `json:"_link,omitempty"`
	Permalink Link      `json:"_permalink,omitempty"`
	Inbound   bool      `json:"_inbound,omitempty"`
}

// Counterparty is the other side of the exchange this message belongs to:
// the recipient for outbound messages, the author for inbound ones. Message
// ordering is tracked per counterparty per direction.
func (m *Message) Counterparty() Permalink {
	if m.Inbound {
		return m.Author
	}
	return m.Recipient
}

// Position is a {link, seq, time} snapshot of one end of a delivery stream,
// used to resume windowed delivery after a disconnect.
type Position struct {
	Link Link   `json:"link,omitempty"`
	Seq  uint64 `json:"seq"`
	Time int64  `json:"time,omitempty"`
}

// Package signing implements envelope signatures and content links.
//
// A signature string carries its own verification key:
// "ed25519:<hexpub>:<base64sig>". The signed bytes are the canonical JSON of
// the envelope with the `_s` field removed, so any party can recompute and
// verify without side alphabets.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"sealwire/internal/domain"
)

const CurveEd25519 = "ed25519"

// Key is a signing keypair with its wire identity.
type Key struct {
	Priv ed25519.PrivateKey
	Pub  domain.PubKey
}

// Generate creates a fresh ed25519 keypair.
func Generate() (*Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Key{
		Priv: priv,
		Pub:  domain.PubKey{Curve: CurveEd25519, Pub: hex.EncodeToString(pub)},
	}, nil
}

// FromSeed derives a keypair from a 32-byte seed. Used for fixtures and for
// nodes whose key material comes from configuration.
func FromSeed(seed []byte) (*Key, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Key{
		Priv: priv,
		Pub:  domain.PubKey{Curve: CurveEd25519, Pub: hex.EncodeToString(pub)},
	}, nil
}

// Canonical produces deterministic JSON for signing and linking: the document
// is round-tripped through a generic map (encoding/json emits map keys in
// sorted order) with the signature field removed.
func Canonical(raw []byte) ([]byte, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	delete(body, "_s")
	// Virtual fields are never part of the signed content.
	for k := range body {
		if strings.HasPrefix(k, "_") && k != "_t" && k != "_seq" {
			delete(body, k)
		}
	}
	return json.Marshal(body)
}

// Sign signs the canonical form of raw and returns the signature string.
func (k *Key) Sign(raw []byte) (string, error) {
	canonical, err := Canonical(raw)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(k.Priv, canonical)
	return k.Pub.String() + ":" + base64.StdEncoding.EncodeToString(sig), nil
}

// SigPubKey extracts the signer's public key from a signature string.
func SigPubKey(sig string) (domain.PubKey, error) {
	parts := strings.SplitN(sig, ":", 3)
	if len(parts) != 3 {
		return domain.PubKey{}, fmt.Errorf("malformed signature")
	}
	return domain.PubKey{Curve: parts[0], Pub: parts[1]}, nil
}

// Verify checks sig against the canonical form of raw. The verification key
// is the one embedded in the signature; callers must separately resolve that
// key to an identity before trusting the document.
func Verify(raw []byte, sig string) (domain.PubKey, error) {
	parts := strings.SplitN(sig, ":", 3)
	if len(parts) != 3 {
		return domain.PubKey{}, fmt.Errorf("malformed signature")
	}
	if parts[0] != CurveEd25519 {
		return domain.PubKey{}, fmt.Errorf("unsupported curve %q", parts[0])
	}
	pubBytes, err := hex.DecodeString(parts[1])
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return domain.PubKey{}, fmt.Errorf("malformed signature pubkey")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return domain.PubKey{}, fmt.Errorf("malformed signature bytes")
	}
	canonical, err := Canonical(raw)
	if err != nil {
		return domain.PubKey{}, err
	}
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), canonical, sigBytes) {
		return domain.PubKey{}, fmt.Errorf("signature does not verify")
	}
	return domain.PubKey{Curve: parts[0], Pub: parts[1]}, nil
}

// LinkOf derives the content link of a signed document: sha256 over the
// canonical form including the signature. Identical signed bytes always map
// to the same link.
func LinkOf(raw []byte) (domain.Link, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("link: %w", err)
	}
	for k := range body {
		if strings.HasPrefix(k, "_") && k != "_t" && k != "_s" && k != "_seq" {
			delete(body, k)
		}
	}
	stable, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(stable)
	return domain.Link(hex.EncodeToString(sum[:])), nil
}

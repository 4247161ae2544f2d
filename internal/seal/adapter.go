// Package seal creates, watches, and reconciles blockchain anchors for
// message payloads. The manager is the exclusive writer of seal records and
// owns the scan-and-retry reconciliation sweeps.
package seal

import (
	"context"

	"sealwire/internal/domain"
)

// Network describes the chain a seal targets.
type Network struct {
	Blockchain string
	Name       string
	// Confirmations is the depth at which this network considers a
	// transaction final.
	Confirmations int
}

// Tx is one on-chain transaction observed for a watched address.
type Tx struct {
	TxID          string
	Confirmations int
	To            []string
}

// Adapter is the pluggable blockchain interface: submit a sealing transaction
// for a set of addresses, query transactions for addresses, derive anchor
// addresses. Implementations cache one writer-capable client per signing key;
// readers are shared.
type Adapter interface {
	Network() Network

	// SealPubKey derives the deterministic anchor key for a payload link;
	// NextSealPubKey derives the predictable anchor key of the link's
	// eventual successor version.
	SealPubKey(basePub string, link domain.Link) (string, error)
	NextSealPubKey(basePub string, link domain.Link) (string, error)
	PubKeyToAddress(pub string) (string, error)

	// Seal broadcasts a sealing transaction funded by the given signing key.
	// Returns sentinel.ErrLowFunds when the key cannot fund it.
	Seal(ctx context.Context, key string, addresses []string) (txID string, err error)
	TransactionsForAddresses(ctx context.Context, addresses []string) ([]Tx, error)
}

// Package fakechain is an in-memory chain adapter for tests and local
// development: deterministic address derivation, instant broadcast, and a
// Mine control to advance confirmations.
package fakechain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/ripemd160"

	"sealwire/internal/domain"
	"sealwire/internal/seal"
	"sealwire/pkg/platform/sentinel"
)

const writeFee = 1

// Chain implements seal.Adapter.
type Chain struct {
	network seal.Network

	mu      sync.Mutex
	txs     []*tx
	byAddr  map[string][]*tx
	writers map[string]*writer
	nextErr error
}

type tx struct {
	id            string
	to            []string
	confirmations int
}

// One writer-capable client per signing key; creating one is assumed
// expensive on a real chain, so the cache mirrors that contract.
type writer struct {
	key     string
	balance int
}

func New(network seal.Network) *Chain {
	return &Chain{
		network: network,
		byAddr:  make(map[string][]*tx),
		writers: make(map[string]*writer),
	}
}

func (c *Chain) Network() seal.Network { return c.network }

func (c *Chain) SealPubKey(basePub string, link domain.Link) (string, error) {
	return derivePub(basePub, string(link)), nil
}

func (c *Chain) NextSealPubKey(basePub string, link domain.Link) (string, error) {
	return derivePub(basePub, string(link)+"/next"), nil
}

func (c *Chain) PubKeyToAddress(pub string) (string, error) {
	raw, err := hex.DecodeString(pub)
	if err != nil {
		return "", fmt.Errorf("pubkey is not hex: %w", err)
	}
	sum := sha256.Sum256(raw)
	h := ripemd160.New()
	h.Write(sum[:])
	return "fc1" + hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Chain) Seal(ctx context.Context, key string, addresses []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nextErr != nil {
		err := c.nextErr
		c.nextErr = nil
		return "", err
	}

	w, ok := c.writers[key]
	if !ok {
		w = &writer{key: key, balance: 0}
		c.writers[key] = w
	}
	if w.balance < writeFee {
		return "", sentinel.ErrLowFunds
	}
	w.balance -= writeFee

	t := &tx{to: append([]string(nil), addresses...)}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%v|%d", key, addresses, len(c.txs))))
	t.id = hex.EncodeToString(sum[:])
	c.txs = append(c.txs, t)
	for _, addr := range addresses {
		c.byAddr[addr] = append(c.byAddr[addr], t)
	}
	return t.id, nil
}

func (c *Chain) TransactionsForAddresses(ctx context.Context, addresses []string) ([]seal.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[*tx]struct{})
	var out []seal.Tx
	for _, addr := range addresses {
		for _, t := range c.byAddr[addr] {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, seal.Tx{
				TxID:          t.id,
				Confirmations: t.confirmations,
				To:            append([]string(nil), t.to...),
			})
		}
	}
	return out, nil
}

// Fund credits a signing key so it can broadcast n transactions.
func (c *Chain) Fund(key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.writers[key]
	if !ok {
		w = &writer{key: key}
		c.writers[key] = w
	}
	w.balance += n * writeFee
}

// Mine advances every existing transaction by n confirmations.
func (c *Chain) Mine(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.txs {
		t.confirmations += n
	}
}

// WriteTo injects a transaction to the given addresses, as if broadcast by a
// counterparty node.
func (c *Chain) WriteTo(addresses ...string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &tx{to: append([]string(nil), addresses...)}
	sum := sha256.Sum256([]byte(fmt.Sprintf("ext|%v|%d", addresses, len(c.txs))))
	t.id = hex.EncodeToString(sum[:])
	c.txs = append(c.txs, t)
	for _, addr := range addresses {
		c.byAddr[addr] = append(c.byAddr[addr], t)
	}
	return t.id
}

// FailNextWrite makes the next Seal call return err.
func (c *Chain) FailNextWrite(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextErr = err
}

func derivePub(basePub, salt string) string {
	sum := sha256.Sum256([]byte(basePub + "|" + salt))
	return hex.EncodeToString(sum[:])
}

package seal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sealwire/internal/domain"
	"sealwire/internal/platform/metrics"
	dErrors "sealwire/pkg/domain-errors"
	"sealwire/pkg/platform/sentinel"
)

// ObjectMetaWriter merges confirmed anchor data back onto the stored record
// that carries the sealed payload. Implemented by the message store.
type ObjectMetaWriter interface {
	AttachSeal(ctx context.Context, link domain.Link, seal *domain.Seal) error
}

// Manager owns seal records end to end: creation, the pending-write sweep,
// confirmation sync, and failure reconciliation. Nothing on the send path
// ever blocks on the chain; writes happen in SealPending.
type Manager struct {
	log     *slog.Logger
	store   Store
	chain   Adapter
	objects ObjectMetaWriter
	metrics *metrics.Metrics

	// sealKey funds outbound sealing transactions.
	sealKey string
	now     func() time.Time
}

func NewManager(log *slog.Logger, store Store, chain Adapter, objects ObjectMetaWriter, m *metrics.Metrics, sealKey string) *Manager {
	return &Manager{
		log:     log,
		store:   store,
		chain:   chain,
		objects: objects,
		metrics: m,
		sealKey: sealKey,
		now:     time.Now,
	}
}

// WithClock overrides the manager's clock. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Create inserts a pending-write record for the payload link: this node
// intends to broadcast the anchor itself. Idempotent in the failing sense: a
// second create for the same link reports Duplicate.
func (m *Manager) Create(ctx context.Context, basePub string, link domain.Link) (*domain.Seal, error) {
	return m.insert(ctx, basePub, link, domain.WatchThis, true)
}

// Watch inserts a watch-only record: a counterparty wrote (or will write) the
// anchor and this node only needs to observe confirmations.
func (m *Manager) Watch(ctx context.Context, basePub string, link domain.Link) (*domain.Seal, error) {
	return m.insert(ctx, basePub, link, domain.WatchThis, false)
}

// WatchNextVersion watches the predictable anchor address of the link's
// eventual successor version.
func (m *Manager) WatchNextVersion(ctx context.Context, basePub string, link domain.Link) (*domain.Seal, error) {
	return m.insert(ctx, basePub, link, domain.WatchNext, false)
}

func (m *Manager) insert(ctx context.Context, basePub string, link domain.Link, wt domain.WatchType, write bool) (*domain.Seal, error) {
	var (
		pub string
		err error
	)
	if wt == domain.WatchNext {
		pub, err = m.chain.NextSealPubKey(basePub, link)
	} else {
		pub, err = m.chain.SealPubKey(basePub, link)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "derive seal key")
	}
	addr, err := m.chain.PubKeyToAddress(pub)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "derive seal address")
	}

	net := m.chain.Network()
	rec := &domain.Seal{
		ID:          uuid.NewString(),
		Link:        link,
		Blockchain:  net.Blockchain,
		Network:     net.Name,
		Address:     addr,
		PubKey:      pub,
		WatchType:   wt,
		Time:        m.now().UnixMilli(),
		Unsealed:    write,
		Unconfirmed: true,
	}
	if err := m.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeDuplicate, "seal already exists for %s", link)
		}
		return nil, err
	}
	m.log.InfoContext(ctx, "seal registered",
		"link", link,
		"address", addr,
		"watch_type", wt,
		"write", write,
	)
	return rec, nil
}

// SealPending scans the unsealed index and broadcasts a real chain write for
// each record. A low-funds failure aborts the remaining batch: every further
// write would fail the same way and burn the error budget of healthy records.
func (m *Manager) SealPending(ctx context.Context, limit int) (int, error) {
	pending, err := m.store.ListUnsealed(ctx, limit)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, rec := range pending {
		txID, err := m.chain.Seal(ctx, m.sealKey, []string{rec.Address})
		if err != nil {
			rec.RecordError(m.now().UnixMilli(), err.Error())
			m.metrics.SealErrors.Inc()
			if updateErr := m.store.Update(ctx, rec); updateErr != nil {
				m.log.ErrorContext(ctx, "seal error not recorded", "link", rec.Link, "error", updateErr)
			}
			if errors.Is(err, sentinel.ErrLowFunds) {
				m.log.WarnContext(ctx, "seal batch aborted: low funds", "written", written)
				return written, dErrors.Wrap(err, dErrors.CodeLowFunds, "seal batch aborted")
			}
			m.log.WarnContext(ctx, "seal write failed", "link", rec.Link, "error", err)
			continue
		}

		rec.TxID = txID
		rec.TimeSealed = m.now().UnixMilli()
		rec.Unsealed = false
		if err := m.store.Update(ctx, rec); err != nil {
			return written, err
		}
		m.metrics.SealsWritten.Inc()
		written++
		m.log.InfoContext(ctx, "seal written", "link", rec.Link, "tx_id", txID)
	}
	return written, nil
}

// SyncUnconfirmed scans the unconfirmed index, queries the chain once for all
// candidate addresses, and advances every record whose confirmation count
// grew. Records reaching the network threshold have their confirmation data
// merged back onto the underlying stored object, best-effort.
func (m *Manager) SyncUnconfirmed(ctx context.Context, limit int) (int, error) {
	candidates, err := m.store.ListUnconfirmed(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	addresses := make([]string, 0, len(candidates))
	for _, rec := range candidates {
		addresses = append(addresses, rec.Address)
	}
	txs, err := m.chain.TransactionsForAddresses(ctx, addresses)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeCloudService, "query chain")
	}

	best := make(map[string]Tx)
	for _, tx := range txs {
		for _, addr := range tx.To {
			if cur, ok := best[addr]; !ok || tx.Confirmations > cur.Confirmations {
				best[addr] = tx
			}
		}
	}

	required := m.chain.Network().Confirmations
	updated := 0
	for _, rec := range candidates {
		tx, ok := best[rec.Address]
		if !ok || tx.Confirmations <= rec.Confirmations {
			continue
		}
		rec.Confirmations = tx.Confirmations
		if rec.TxID == "" {
			// A counterparty (or a requeued writer on another instance)
			// produced the transaction; adopt it.
			rec.TxID = tx.TxID
			rec.Unsealed = false
		}
		if rec.Confirmations >= required {
			rec.Unconfirmed = false
			m.metrics.SealsConfirmed.Inc()
			if err := m.objects.AttachSeal(ctx, rec.Link, rec); err != nil {
				if errors.Is(err, sentinel.ErrNotFound) {
					m.log.WarnContext(ctx, "confirmed seal has no stored object", "link", rec.Link)
				} else {
					return updated, err
				}
			}
		}
		if err := m.store.Update(ctx, rec); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// HandleFailures reconciles long-stalled records so seals never get
// permanently stuck. A failed write (tx broadcast but confirmations stalled
// past the grace period) is requeued for a fresh write; a failed read (no tx
// ever appeared for a watch) is canceled and marked unwatched.
func (m *Manager) HandleFailures(ctx context.Context, gracePeriod time.Duration) error {
	candidates, err := m.store.ListUnconfirmed(ctx, 0)
	if err != nil {
		return err
	}

	cutoff := m.now().Add(-gracePeriod).UnixMilli()
	for _, rec := range candidates {
		switch {
		case rec.Unsealed:
			// Still awaiting its first broadcast; SealPending owns it.
		case rec.TxID != "" && rec.TimeSealed > 0 && rec.TimeSealed < cutoff:
			rec.RecordError(m.now().UnixMilli(), "confirmations stalled for tx "+rec.TxID)
			rec.TxID = ""
			rec.TimeSealed = 0
			rec.Unsealed = true
			m.metrics.SealErrors.Inc()
			if err := m.store.Update(ctx, rec); err != nil {
				return err
			}
			m.log.WarnContext(ctx, "stalled seal requeued", "link", rec.Link)
		case rec.TxID == "" && rec.Time < cutoff:
			rec.RecordError(m.now().UnixMilli(), "no transaction observed within grace period")
			rec.Unwatched = true
			rec.Unconfirmed = false
			m.metrics.SealErrors.Inc()
			if err := m.store.Update(ctx, rec); err != nil {
				return err
			}
			m.log.WarnContext(ctx, "dead seal watch canceled", "link", rec.Link)
		}
	}
	return nil
}

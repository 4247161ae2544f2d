package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"sealwire/internal/domain"
	"sealwire/internal/identity"
	"sealwire/internal/message"
	"sealwire/internal/object"
	"sealwire/internal/platform/metrics"
	"sealwire/internal/signing"
	"sealwire/pkg/testutil"
)

// node is a self-contained provider with in-memory stores, used to exercise
// the full send/receive exchange between two parties.
type node struct {
	key        *signing.Key
	permalink  domain.Permalink
	doc        *domain.SignedObject
	objects    *object.MemoryStore
	identities *identity.Resolver
	messages   *message.MemoryStore
	sealer     *fakeSealer
	clock      *testutil.Clock
	provider   *Provider
}

func newNode(t *testing.T, seed byte) *node {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	key := testutil.Key(t, seed)
	doc := identityDoc(t, key, fmt.Sprintf("node-%d", seed))

	n := &node{
		key:      key,
		doc:      doc,
		objects:  object.NewMemoryStore(),
		messages: message.NewMemoryStore(),
		sealer:   &fakeSealer{},
		clock:    testutil.NewClock(time.UnixMilli(1_700_000_000_000)),
	}
	n.identities = identity.NewResolver(log, identity.NewMemoryStore())
	self, err := n.identities.AddContact(context.Background(), doc)
	require.NoError(t, err)
	n.permalink = self.Permalink

	n.provider = New(Config{
		Log:            log,
		Key:            key,
		Permalink:      n.permalink,
		Objects:        n.objects,
		Identities:     n.identities,
		Messages:       n.messages,
		Seals:          n.sealer,
		Metrics:        metrics.NewWith(prometheus.NewRegistry()),
		SealBasePub:    key.Pub.String(),
		SealBlockchain: "fake",
		SealNetwork:    "test",
	}).WithClock(n.clock.Now)
	return n
}

// meet registers the other node's identity document as a known contact.
func (n *node) meet(t *testing.T, other *node) {
	t.Helper()
	_, err := n.identities.AddContact(context.Background(), other.doc)
	require.NoError(t, err)
}

// identityDoc builds and signs a first-version identity document for key.
func identityDoc(t *testing.T, key *signing.Key, name string) *domain.SignedObject {
	t.Helper()
	body := map[string]any{
		"_t":      domain.TypeIdentity,
		"name":    name,
		"pubkeys": []string{key.Pub.String()},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	sig, err := key.Sign(raw)
	require.NoError(t, err)
	body["_s"] = sig
	signedRaw, err := json.Marshal(body)
	require.NoError(t, err)

	obj := &domain.SignedObject{}
	require.NoError(t, obj.UnmarshalJSON(signedRaw))
	return obj
}

type fakeSealer struct {
	mu      sync.Mutex
	created []domain.Link
	watched []domain.Link
	basePub string
}

func (f *fakeSealer) Create(ctx context.Context, basePub string, link domain.Link) (*domain.Seal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, link)
	f.basePub = basePub
	return &domain.Seal{Link: link, Unsealed: true}, nil
}

func (f *fakeSealer) Watch(ctx context.Context, basePub string, link domain.Link) (*domain.Seal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, link)
	f.basePub = basePub
	return &domain.Seal{Link: link, Unconfirmed: true}, nil
}

func (f *fakeSealer) watchedLinks() []domain.Link {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Link(nil), f.watched...)
}

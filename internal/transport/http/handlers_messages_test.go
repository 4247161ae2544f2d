package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwire/internal/domain"
	"sealwire/internal/identity"
	"sealwire/internal/message"
	"sealwire/internal/object"
	"sealwire/internal/platform/metrics"
	"sealwire/internal/provider"
	"sealwire/internal/signing"
	"sealwire/pkg/testutil"
)

// inboxNode is a minimal provider wired on in-memory stores, enough to
// exercise the inbox handler end to end.
type inboxNode struct {
	key       *signing.Key
	permalink domain.Permalink
	doc       *domain.SignedObject
	resolver  *identity.Resolver
	provider  *provider.Provider
}

func newInboxNode(t *testing.T, seed byte) *inboxNode {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	key := testutil.Key(t, seed)

	body := map[string]any{
		"_t":      domain.TypeIdentity,
		"name":    fmt.Sprintf("node-%d", seed),
		"pubkeys": []string{key.Pub.String()},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	sig, err := key.Sign(raw)
	require.NoError(t, err)
	body["_s"] = sig
	signedRaw, err := json.Marshal(body)
	require.NoError(t, err)
	doc := &domain.SignedObject{}
	require.NoError(t, doc.UnmarshalJSON(signedRaw))

	n := &inboxNode{key: key, doc: doc}
	n.resolver = identity.NewResolver(log, identity.NewMemoryStore())
	self, err := n.resolver.AddContact(context.Background(), doc)
	require.NoError(t, err)
	n.permalink = self.Permalink

	n.provider = provider.New(provider.Config{
		Log:        log,
		Key:        key,
		Permalink:  n.permalink,
		Objects:    object.NewMemoryStore(),
		Identities: n.resolver,
		Messages:   message.NewMemoryStore(),
		Metrics:    metrics.NewWith(prometheus.NewRegistry()),
	})
	return n
}

// sendWire sends one message and returns its wire envelope, the form live
// and webhook delivery transmit.
func sendWire(t *testing.T, sender *inboxNode, recipient domain.Permalink) []byte {
	t.Helper()
	ctx := context.Background()

	sent, err := sender.provider.SendMessage(ctx, provider.SendRequest{
		Recipient: recipient,
		Object:    []byte(`{"_t":"kyc.Document","subject":"acct-1","result":"clear"}`),
	})
	require.NoError(t, err)

	payload, err := sender.provider.GetOrCreatePayload(ctx, nil, sent.Object.Link)
	require.NoError(t, err)
	out := *sent
	out.Object = payload.Transmission
	wire, err := json.Marshal(&out)
	require.NoError(t, err)
	return wire
}

func TestHandleInbox(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	sender := newInboxNode(t, 1)
	receiver := newInboxNode(t, 2)
	_, err := sender.resolver.AddContact(ctx, receiver.doc)
	require.NoError(t, err)
	_, err = receiver.resolver.AddContact(ctx, sender.doc)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewMessagesHandler(log, receiver.provider, nil, nil, 5, 0).Register(r)

	wire := sendWire(t, sender, receiver.permalink)

	post := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/inbox", bytes.NewReader(wire))
		r.ServeHTTP(rec, req)
		return rec
	}

	t.Run("stores a fresh message", func(t *testing.T) {
		rec := post()
		assert.Equal(t, http.StatusCreated, rec.Code)

		var body struct {
			Link domain.Link `json:"link"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Link)
	})

	t.Run("acks a retransmission instead of rejecting it", func(t *testing.T) {
		rec := post()
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Link domain.Link `json:"link"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Link)
	})

	t.Run("rejects a malformed envelope", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/inbox", bytes.NewReader([]byte(`{"_t":"bogus"}`)))
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

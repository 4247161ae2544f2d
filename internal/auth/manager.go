// Package auth runs the challenge/response handshake that gates live
// delivery. A session is authenticated only after a signature-verified
// challenge response arrives within the handshake timeout; connected and
// subscribed are transport-level flags updated independently.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sealwire/internal/domain"
	"sealwire/internal/identity"
	"sealwire/internal/message"
	"sealwire/internal/platform/metrics"
	"sealwire/internal/signing"
	dErrors "sealwire/pkg/domain-errors"
	"sealwire/pkg/platform/audit"
	"sealwire/pkg/platform/sentinel"
)

// NewClientID mints a client ID with the permalink embedded, so later
// handshake steps can check the claimed identity against the ID itself.
func NewClientID(permalink domain.Permalink) string {
	return string(permalink) + "#" + uuid.NewString()
}

// ClientPermalink extracts the permalink embedded in a client ID.
func ClientPermalink(clientID string) (domain.Permalink, error) {
	permalink, _, ok := strings.Cut(clientID, "#")
	if !ok || permalink == "" {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "malformed client id %q", clientID)
	}
	return domain.Permalink(permalink), nil
}

// Credentials is what a client gets back from registration: the challenge it
// must sign and a short-lived token for direct resource access while the
// handshake completes.
type Credentials struct {
	ClientID  string `json:"clientId"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Manager owns handshake state transitions. All cross-request coordination
// goes through the session store; the manager itself is stateless.
type Manager struct {
	log        *slog.Logger
	store      Store
	identities *identity.Resolver
	messages   message.Store
	metrics    *metrics.Metrics
	trail      *audit.Trail

	jwtKey  []byte
	timeout time.Duration
	now     func() time.Time
}

func NewManager(log *slog.Logger, store Store, identities *identity.Resolver, messages message.Store, m *metrics.Metrics, trail *audit.Trail, jwtKey []byte, timeout time.Duration) *Manager {
	return &Manager{
		log:        log,
		store:      store,
		identities: identities,
		messages:   messages,
		metrics:    m,
		trail:      trail,
		jwtKey:     jwtKey,
		timeout:    timeout,
		now:        time.Now,
	}
}

// WithClock overrides the manager's clock. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// CreateChallenge issues a fresh single-use challenge bound to
// (clientID, permalink) and resets any prior handshake state for the client.
func (m *Manager) CreateChallenge(ctx context.Context, clientID string, permalink domain.Permalink) (string, error) {
	challenge := uuid.NewString()
	session := &domain.Session{
		ClientID:  clientID,
		Permalink: permalink,
		Challenge: challenge,
		Time:      m.now().UnixMilli(),
	}
	if err := m.store.PutSession(ctx, session); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeCloudService, "store session")
	}
	return challenge, nil
}

// CreateTemporaryIdentity registers a client: it checks the claimed identity
// against the permalink embedded in the client ID, registers the identity as
// a contact when one is supplied, and issues a challenge plus short-lived
// delegated credentials. The independent steps run concurrently.
func (m *Manager) CreateTemporaryIdentity(ctx context.Context, accountID, clientID string, identityObj *domain.SignedObject) (*Credentials, error) {
	embedded, err := ClientPermalink(clientID)
	if err != nil {
		return nil, err
	}

	var claimed domain.Permalink
	if identityObj != nil {
		parsed, err := identity.ParseIdentity(identityObj)
		if err != nil {
			return nil, err
		}
		claimed = parsed.Permalink
	} else {
		claimed = embedded
	}
	if claimed != embedded {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"identity %s does not match client id", claimed)
	}

	creds := &Credentials{ClientID: clientID}
	g, gctx := errgroup.WithContext(ctx)
	if identityObj != nil {
		g.Go(func() error {
			_, err := m.identities.AddContact(gctx, identityObj)
			return err
		})
	}
	g.Go(func() error {
		challenge, err := m.CreateChallenge(gctx, clientID, claimed)
		if err != nil {
			return err
		}
		creds.Challenge = challenge
		return nil
	})
	g.Go(func() error {
		token, expiresAt, err := m.mintToken(accountID, clientID, claimed)
		if err != nil {
			return err
		}
		creds.Token = token
		creds.ExpiresAt = expiresAt
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return creds, nil
}

func (m *Manager) mintToken(accountID, clientID string, permalink domain.Permalink) (string, int64, error) {
	expiresAt := m.now().Add(m.timeout)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       string(permalink),
		"account":   accountID,
		"client_id": clientID,
		"iat":       m.now().Unix(),
		"exp":       expiresAt.Unix(),
	})
	signed, err := token.SignedString(m.jwtKey)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt.UnixMilli(), nil
}

// challengeResponse is the signed body the client returns.
type challengeResponse struct {
	Type      string           `json:"_t"`
	Sig       string           `json:"_s"`
	ClientID  string           `json:"clientId"`
	Challenge string           `json:"challenge"`
	Permalink domain.Permalink `json:"permalink"`
	Position  *domain.Position `json:"position,omitempty"`
}

// HandleChallengeResponse verifies a signed challenge response and, on
// success, marks the session authenticated and snapshots the server's
// current outbound position so the client can resume delivery from it. Any
// mismatch fails before any state is written.
func (m *Manager) HandleChallengeResponse(ctx context.Context, raw json.RawMessage) (*domain.Session, error) {
	var resp challengeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse challenge response")
	}
	if resp.Type != domain.TypeChallengeResponse {
		return nil, m.fail(ctx, resp.ClientID, "unexpected payload type "+resp.Type)
	}
	if resp.ClientID == "" || resp.Challenge == "" || resp.Permalink == "" {
		return nil, m.fail(ctx, resp.ClientID, "incomplete challenge response")
	}

	session, err := m.store.GetSession(ctx, resp.ClientID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, m.fail(ctx, resp.ClientID, "no pending challenge")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCloudService, "load session")
	}

	if session.Challenge == "" || session.Challenge != resp.Challenge {
		return nil, m.fail(ctx, resp.ClientID, "challenge mismatch")
	}
	if session.Permalink != resp.Permalink {
		return nil, m.fail(ctx, resp.ClientID, "permalink mismatch")
	}
	if age := m.now().UnixMilli() - session.Time; age > m.timeout.Milliseconds() {
		return nil, m.fail(ctx, resp.ClientID, "challenge expired")
	}

	sigKey, err := signing.Verify(raw, resp.Sig)
	if err != nil {
		return nil, m.fail(ctx, resp.ClientID, "invalid signature")
	}
	author, err := m.identities.ResolveByPubKey(ctx, sigKey)
	if err != nil {
		return nil, m.fail(ctx, resp.ClientID, "unknown signing key")
	}
	if author.Permalink != resp.Permalink {
		return nil, m.fail(ctx, resp.ClientID, "response author is not the claimed identity")
	}

	serverPos, err := m.outboundPosition(ctx, resp.Permalink)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCloudService, "snapshot outbound position")
	}

	session.Authenticated = true
	session.Challenge = ""
	session.ClientPosition = resp.Position
	session.ServerPosition = serverPos
	if err := m.store.PutSession(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCloudService, "store session")
	}

	m.log.InfoContext(ctx, "handshake completed", "client_id", session.ClientID, "permalink", session.Permalink)
	m.emit(ctx, audit.HandshakeCompleted, session)
	return session, nil
}

func (m *Manager) outboundPosition(ctx context.Context, permalink domain.Permalink) (*domain.Position, error) {
	last, err := m.messages.LastSent(ctx, permalink)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.Position{Link: last.Link, Seq: last.Seq, Time: last.Time}, nil
}

// GetSession satisfies the provider's session lookup.
func (m *Manager) GetSession(ctx context.Context, clientID string) (*domain.Session, error) {
	return m.store.GetSession(ctx, clientID)
}

// GetLiveSession returns the most recent authenticated and connected session
// for a permalink, or sentinel.ErrNotFound.
func (m *Manager) GetLiveSession(ctx context.Context, permalink domain.Permalink) (*domain.Session, error) {
	return m.store.GetLiveByPermalink(ctx, permalink)
}

// SetConnected records a transport-level connect or disconnect.
func (m *Manager) SetConnected(ctx context.Context, clientID string, connected bool) error {
	return m.updateSession(ctx, clientID, func(s *domain.Session) { s.Connected = connected })
}

// SetSubscribed records whether the client asked for live delivery.
func (m *Manager) SetSubscribed(ctx context.Context, clientID string, subscribed bool) error {
	return m.updateSession(ctx, clientID, func(s *domain.Session) { s.Subscribed = subscribed })
}

func (m *Manager) updateSession(ctx context.Context, clientID string, apply func(*domain.Session)) error {
	session, err := m.store.GetSession(ctx, clientID)
	if err != nil {
		return err
	}
	apply(session)
	return m.store.PutSession(ctx, session)
}

func (m *Manager) fail(ctx context.Context, clientID, reason string) error {
	m.metrics.HandshakeFailures.Inc()
	m.log.WarnContext(ctx, "handshake failed", "client_id", clientID, "reason", reason)
	if m.trail != nil {
		m.trail.Emit(ctx, audit.Event{
			Type:    audit.HandshakeFailed,
			Subject: clientID,
			Detail:  map[string]string{"reason": reason},
		})
	}
	return dErrors.New(dErrors.CodeHandshakeFailed, reason)
}

func (m *Manager) emit(ctx context.Context, typ audit.EventType, session *domain.Session) {
	if m.trail == nil {
		return
	}
	m.trail.Emit(ctx, audit.Event{
		Type:    typ,
		Actor:   string(session.Permalink),
		Subject: session.ClientID,
	})
}

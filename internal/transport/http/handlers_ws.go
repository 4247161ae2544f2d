package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sealwire/internal/auth"
	"sealwire/internal/delivery"
	"sealwire/internal/domain"
	"sealwire/internal/message"
	"sealwire/internal/platform/middleware"
	"sealwire/internal/provider"
	dErrors "sealwire/pkg/domain-errors"
)

// WSHandler upgrades authenticated clients to a live session: inbound
// messages arrive as frames and are acked or rejected per message, and a
// subscribe frame starts backlog delivery over the same connection.
type WSHandler struct {
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	live         *delivery.LiveTransport
	sessions     *auth.Manager
	provider     *provider.Provider
	router       *delivery.Router
	jwtValidator middleware.JWTValidator

	batchSize int
	budget    time.Duration
}

func NewWSHandler(logger *slog.Logger, live *delivery.LiveTransport, sessions *auth.Manager, p *provider.Provider, router *delivery.Router, jwtValidator middleware.JWTValidator, batchSize int, budget time.Duration) *WSHandler {
	return &WSHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		live:         live,
		sessions:     sessions,
		provider:     p,
		router:       router,
		jwtValidator: jwtValidator,
		batchSize:    batchSize,
		budget:       budget,
	}
}

// wsRequest is the envelope for frames a client sends up the connection.
type wsRequest struct {
	Type     string          `json:"type"`
	Message  json.RawMessage `json:"message,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	After    *uint64         `json:"after,omitempty"`
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if t, ok := cutBearer(r.Header.Get("Authorization")); ok {
			token = t
		}
	}
	claims, err := h.jwtValidator.ValidateToken(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	clientID := claims.ClientID
	permalink := domain.Permalink(claims.Permalink)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "client_id", clientID, "error", err)
		return
	}

	// The read loop outlives the upgrade request.
	ctx := context.Background()

	h.live.Register(clientID, conn)
	if err := h.sessions.SetConnected(ctx, clientID, true); err != nil {
		h.logger.WarnContext(ctx, "mark connected failed", "client_id", clientID, "error", err)
	}
	h.logger.InfoContext(ctx, "client connected", "client_id", clientID, "permalink", permalink)

	defer func() {
		h.live.Unregister(clientID, conn)
		_ = conn.Close()
		if err := h.sessions.SetConnected(ctx, clientID, false); err != nil {
			h.logger.WarnContext(ctx, "mark disconnected failed", "client_id", clientID, "error", err)
		}
		h.logger.InfoContext(ctx, "client disconnected", "client_id", clientID)
	}()

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WarnContext(ctx, "websocket read failed", "client_id", clientID, "error", err)
			}
			return
		}
		h.handleFrame(ctx, clientID, permalink, req)
	}
}

func (h *WSHandler) handleFrame(ctx context.Context, clientID string, permalink domain.Permalink, req wsRequest) {
	switch req.Type {
	case "message":
		h.handleInboundMessage(ctx, clientID, req.Message)
	case "challenge_response":
		h.handleChallengeResponse(ctx, clientID, req.Response)
	case "subscribe":
		h.handleSubscribe(ctx, clientID, permalink, req.After)
	case "unsubscribe":
		if err := h.sessions.SetSubscribed(ctx, clientID, false); err != nil {
			h.logger.WarnContext(ctx, "unsubscribe failed", "client_id", clientID, "error", err)
		}
	default:
		_ = h.live.Send(clientID, delivery.Frame{Type: delivery.FrameReject, Reason: "unknown frame type " + req.Type})
	}
}

func (h *WSHandler) handleInboundMessage(ctx context.Context, clientID string, raw json.RawMessage) {
	msg, err := h.provider.ReceiveMessage(ctx, raw, clientID)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeDuplicate) {
		if ackErr := h.router.Reject(ctx, clientID, "", string(dErrors.CodeOf(err))); ackErr != nil {
			h.logger.WarnContext(ctx, "reject frame failed", "client_id", clientID, "error", ackErr)
		}
		return
	}
	// A duplicate is acked like a fresh accept so the peer stops
	// retransmitting.
	var link domain.Link
	if msg != nil {
		link = msg.Link
	}
	if err := h.router.Ack(ctx, clientID, link); err != nil {
		h.logger.WarnContext(ctx, "ack frame failed", "client_id", clientID, "error", err)
	}
}

func (h *WSHandler) handleChallengeResponse(ctx context.Context, clientID string, raw json.RawMessage) {
	session, err := h.sessions.HandleChallengeResponse(ctx, raw)
	if err != nil {
		_ = h.live.Send(clientID, delivery.Frame{Type: delivery.FrameReject, Reason: string(dErrors.CodeOf(err))})
		return
	}
	_ = h.live.Send(clientID, delivery.Frame{Type: delivery.FrameSession, Session: session})
}

// handleSubscribe marks the session subscribed and drains the backlog down
// this connection, one budgeted run at a time so a disconnect mid-drain
// loses at most one batch window.
func (h *WSHandler) handleSubscribe(ctx context.Context, clientID string, permalink domain.Permalink, after *uint64) {
	if err := h.sessions.SetSubscribed(ctx, clientID, true); err != nil {
		h.logger.WarnContext(ctx, "subscribe failed", "client_id", clientID, "error", err)
		return
	}

	go func() {
		rng := message.Range{After: after}
		for {
			result, err := h.router.DeliverMessages(ctx, permalink, clientID, rng, h.batchSize, h.budget)
			if err != nil {
				h.logger.WarnContext(ctx, "backlog delivery stopped",
					"client_id", clientID,
					"delivered", result.Delivered,
					"error", err,
				)
				return
			}
			if result.Finished {
				return
			}
			rng = result.Range
		}
	}()
}

func cutBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):], true
	}
	return "", false
}

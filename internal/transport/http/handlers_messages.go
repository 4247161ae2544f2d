package httptransport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sealwire/internal/delivery"
	"sealwire/internal/domain"
	"sealwire/internal/message"
	"sealwire/internal/platform/middleware"
	"sealwire/internal/provider"
	"sealwire/internal/transport/http/shared"
	dErrors "sealwire/pkg/domain-errors"
)

// MessagesHandler exposes send, inbound receive and backlog delivery.
type MessagesHandler struct {
	logger       *slog.Logger
	provider     *provider.Provider
	router       *delivery.Router
	jwtValidator middleware.JWTValidator

	batchSize int
	budget    time.Duration
}

func NewMessagesHandler(logger *slog.Logger, p *provider.Provider, router *delivery.Router, jwtValidator middleware.JWTValidator, batchSize int, budget time.Duration) *MessagesHandler {
	return &MessagesHandler{
		logger:       logger,
		provider:     p,
		router:       router,
		jwtValidator: jwtValidator,
		batchSize:    batchSize,
		budget:       budget,
	}
}

func (h *MessagesHandler) Register(r chi.Router) {
	// Inbound peer traffic authenticates itself by signature, not by token.
	r.Post("/inbox", h.handleInbox)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/messages", h.handleSend)
		r.Post("/messages/deliver", h.handleDeliver)
	})
}

type sendRequest struct {
	Recipient domain.Permalink `json:"recipient"`
	Object    json.RawMessage  `json:"object,omitempty"`
	Link      domain.Link      `json:"link,omitempty"`
	Seal      bool             `json:"seal,omitempty"`
	ClientID  string           `json:"clientId,omitempty"`
}

func (h *MessagesHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	msg, err := h.provider.SendMessage(ctx, provider.SendRequest{
		Recipient: req.Recipient,
		Object:    req.Object,
		Link:      req.Link,
		Seal:      req.Seal,
		ClientID:  req.ClientID,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "send failed",
			"request_id", middleware.GetRequestID(ctx),
			"recipient", req.Recipient,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, msg)
}

func (h *MessagesHandler) handleInbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unreadable request body"))
		return
	}

	msg, err := h.provider.ReceiveMessage(ctx, raw, "")
	if err != nil {
		// Duplicates are acked, not errored, so the peer stops
		// retransmitting an envelope this node already holds.
		if dErrors.HasCode(err, dErrors.CodeDuplicate) {
			var link domain.Link
			if msg != nil {
				link = msg.Link
			}
			shared.WriteJSON(w, http.StatusOK, map[string]any{"link": link})
			return
		}
		h.logger.WarnContext(ctx, "inbound message rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]any{"link": msg.Link})
}

type deliverRequest struct {
	After    *uint64 `json:"after,omitempty"`
	Before   *uint64 `json:"before,omitempty"`
	ClientID string  `json:"clientId,omitempty"`
}

type deliverResponse struct {
	Finished  bool    `json:"finished"`
	Delivered int     `json:"delivered"`
	After     *uint64 `json:"after,omitempty"`
	Before    *uint64 `json:"before,omitempty"`
}

// handleDeliver drains the caller's backlog within the time budget and
// returns the resumable cursor when the budget ran out first.
func (h *MessagesHandler) handleDeliver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recipient := domain.Permalink(middleware.GetPermalink(ctx))

	var req deliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = middleware.GetClientID(ctx)
	}

	result, err := h.router.DeliverMessages(ctx, recipient, clientID,
		message.Range{After: req.After, Before: req.Before}, h.batchSize, h.budget)
	if err != nil {
		h.logger.WarnContext(ctx, "delivery failed",
			"request_id", middleware.GetRequestID(ctx),
			"recipient", recipient,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, deliverResponse{
		Finished:  result.Finished,
		Delivered: result.Delivered,
		After:     result.Range.After,
		Before:    result.Range.Before,
	})
}

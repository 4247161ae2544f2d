package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sealwire/internal/domain"
	"sealwire/internal/identity"
	"sealwire/internal/platform/middleware"
	"sealwire/internal/seal"
	"sealwire/internal/transport/http/shared"
	dErrors "sealwire/pkg/domain-errors"
)

// NodeHandler exposes node-level operations: webhook registration for
// store-and-forward delivery and the seal reconciliation sweep.
type NodeHandler struct {
	logger       *slog.Logger
	identities   *identity.Resolver
	seals        *seal.Manager
	jwtValidator middleware.JWTValidator

	sealBatchLimit  int
	sealGracePeriod time.Duration
}

func NewNodeHandler(logger *slog.Logger, identities *identity.Resolver, seals *seal.Manager, jwtValidator middleware.JWTValidator, sealBatchLimit int, sealGracePeriod time.Duration) *NodeHandler {
	return &NodeHandler{
		logger:          logger,
		identities:      identities,
		seals:           seals,
		jwtValidator:    jwtValidator,
		sealBatchLimit:  sealBatchLimit,
		sealGracePeriod: sealGracePeriod,
	}
}

func (h *NodeHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/webhooks", h.handleRegisterWebhook)
		r.Post("/seals/reconcile", h.handleReconcile)
	})
}

type webhookRequest struct {
	URL string `json:"url"`
}

func (h *NodeHandler) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	permalink := domain.Permalink(middleware.GetPermalink(ctx))

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "url required"))
		return
	}

	if err := h.identities.RegisterWebhook(ctx, permalink, req.URL); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]string{"url": req.URL})
}

type reconcileResponse struct {
	Sealed int `json:"sealed"`
	Synced int `json:"synced"`
}

// handleReconcile drives one reconciliation pass on demand, in the same
// order as the background ticker.
func (h *NodeHandler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sealed, err := h.seals.SealPending(ctx, h.sealBatchLimit)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	synced, err := h.seals.SyncUnconfirmed(ctx, h.sealBatchLimit)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.seals.HandleFailures(ctx, h.sealGracePeriod); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, reconcileResponse{Sealed: sealed, Synced: synced})
}

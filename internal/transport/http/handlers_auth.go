package httptransport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sealwire/internal/auth"
	"sealwire/internal/domain"
	"sealwire/internal/platform/middleware"
	"sealwire/internal/transport/http/shared"
	dErrors "sealwire/pkg/domain-errors"
)

// AuthHandler exposes client registration and the challenge/response
// handshake.
type AuthHandler struct {
	logger  *slog.Logger
	manager *auth.Manager
}

func NewAuthHandler(logger *slog.Logger, manager *auth.Manager) *AuthHandler {
	return &AuthHandler{logger: logger, manager: manager}
}

func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/challenge", h.handleChallenge)
	r.Post("/auth/response", h.handleResponse)
}

type registerRequest struct {
	AccountID string               `json:"accountId"`
	ClientID  string               `json:"clientId,omitempty"`
	Identity  *domain.SignedObject `json:"identity,omitempty"`
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.ClientID == "" && req.Identity == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "clientId or identity required"))
		return
	}

	creds, err := h.manager.CreateTemporaryIdentity(ctx, req.AccountID, req.ClientID, req.Identity)
	if err != nil {
		h.logger.WarnContext(ctx, "registration failed",
			"request_id", middleware.GetRequestID(ctx),
			"account_id", req.AccountID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, creds)
}

type challengeRequest struct {
	ClientID  string           `json:"clientId"`
	Permalink domain.Permalink `json:"permalink"`
}

func (h *AuthHandler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.ClientID == "" || req.Permalink == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "clientId and permalink required"))
		return
	}

	challenge, err := h.manager.CreateChallenge(ctx, req.ClientID, req.Permalink)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]string{"challenge": challenge})
}

func (h *AuthHandler) handleResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unreadable request body"))
		return
	}

	session, err := h.manager.HandleChallengeResponse(ctx, raw)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, session)
}

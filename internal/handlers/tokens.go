package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/identity"
	"github.com/5l1v3r1/tellecast-sub000/internal/middleware"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

type tokenRequest struct {
	ID       int64  `json:"id"`
	Password string `json:"password"`
}

type tokenResponse struct {
	ID    int64            `json:"id"`
	Token string           `json:"token"`
	User  models.Principal `json:"user"`
}

// IssueToken exchanges a principal id and password for a session token.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ID <= 0 || req.Password == "" {
		h.fail(w, r, apperr.E(apperr.Invalid, "id and password are required"))
		return
	}

	invalid := apperr.E(apperr.InvalidToken, "invalid credentials")
	p, err := h.Principals.GetPrincipal(r.Context(), req.ID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			h.fail(w, r, invalid)
			return
		}
		h.fail(w, r, err)
		return
	}
	ok, err := identity.VerifyPassword(req.Password, p.PasswordHash)
	if err != nil || !ok {
		h.fail(w, r, invalid)
		return
	}

	if err := h.Principals.SetSignedIn(r.Context(), p.ID, true); err != nil {
		h.log.Warn("mark signed in", zap.Int64("user_id", p.ID), zap.Error(err))
	}
	p.IsSignedIn = true
	middleware.WriteJSON(w, http.StatusCreated, tokenResponse{ID: p.ID, Token: h.Tokens.Token(p), User: *p})
}

// VerifyToken echoes the principal behind the Authorization header.
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, principal(r))
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coinbridge/realtime/internal/identity"
	"github.com/coinbridge/realtime/internal/session"
)

// Verifier checks an identity-provider access token.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (*identity.Profile, error)
}

// AuthHandler is the HTTP login surface. Clients authenticate with the
// identity provider out of band and present the resulting access token
// here along with their socket's session id; a successful login promotes
// that session in place.
type AuthHandler struct {
	handlers *Handlers
	store    Store
	idp      Verifier
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewAuthHandler creates the login/logout endpoint.
func NewAuthHandler(h *Handlers, store Store, idp Verifier, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AuthHandler{
		handlers: h,
		store:    store,
		idp:      idp,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	a.mux.HandleFunc("POST /login", a.login)
	a.mux.HandleFunc("POST /logout", a.logout)
	return a
}

func (a *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

type loginRequest struct {
	SID         string `json:"sid"`
	AccessToken string `json:"access_token"`
}

type loginResponse struct {
	Success   bool   `json:"success"`
	AccountID string `json:"account_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (a *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SID == "" {
		writeJSON(w, http.StatusBadRequest, loginResponse{Success: false, Error: "bad request"})
		return
	}

	profile, err := a.idp.Verify(r.Context(), req.AccessToken)
	if err != nil {
		if errors.Is(err, identity.ErrTokenRejected) {
			writeJSON(w, http.StatusUnauthorized, loginResponse{Success: false, Error: "token rejected"})
			return
		}
		a.logger.Warn("identity verification failed", "error", err)
		writeJSON(w, http.StatusBadGateway, loginResponse{Success: false, Error: "identity provider unavailable"})
		return
	}

	accountID, err := a.store.UpsertAccount(r.Context(), profile.ID, profile.Name)
	if err != nil {
		a.logger.Error("account upsert failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, loginResponse{Success: false, Error: "internal error"})
		return
	}

	if err := a.handlers.Login(r.Context(), req.SID, accountID, profile.Name); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, loginResponse{Success: false, Error: "session expired"})
			return
		}
		a.logger.Error("session claim failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, loginResponse{Success: false, Error: "session store unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		AccountID: accountID,
		Username:  profile.Name,
	})
}

type logoutRequest struct {
	SID string `json:"sid"`
}

func (a *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SID == "" {
		writeJSON(w, http.StatusBadRequest, loginResponse{Success: false, Error: "bad request"})
		return
	}

	if err := a.handlers.Logout(r.Context(), req.SID); err != nil {
		a.logger.Error("logout failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, loginResponse{Success: false, Error: "session store unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

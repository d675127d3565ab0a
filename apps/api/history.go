package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sentialytic/reapears/pkg/auth"
	"github.com/sentialytic/reapears/pkg/conversation"
)

// history serves GET /account/users/chat/direct_message/{userId}: the
// caller's conversation with one user, oldest message first.
func (s *server) history(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		jsonErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	other, err := uuid.Parse(mux.Vars(r)["userId"])
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid user id")
		return
	}

	rows, err := s.store.FindByPair(r.Context(), user, other)
	if err != nil {
		slog.Error("api: load history", "user", user, "other", other, "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to retrieve history")
		return
	}
	jsonResp(w, http.StatusOK, conversation.Between(user, other, rows))
}

type LoginRequest struct {
	UserID string `json:"user_id"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// login issues a token for any user id. Only mounted with auth.dev_login.
func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil || userID == uuid.Nil {
		jsonErr(w, http.StatusBadRequest, "user_id must be a uuid")
		return
	}

	token, err := s.issuer.GenerateToken(userID)
	if err != nil {
		slog.Error("api: generate token", "user", userID, "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	jsonResp(w, http.StatusOK, LoginResponse{Token: token})
}

package main

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// online serves GET /account/users/chat/online.
func (s *server) online(w http.ResponseWriter, r *http.Request) {
	if s.presence == nil {
		jsonErr(w, http.StatusServiceUnavailable, "presence is not configured")
		return
	}

	users, err := s.presence.Online(r.Context())
	if err != nil {
		slog.Error("api: fetch presence", "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to fetch presence")
		return
	}
	jsonResp(w, http.StatusOK, users)
}

// isOnline serves GET /account/users/chat/online/{userId}.
func (s *server) isOnline(w http.ResponseWriter, r *http.Request) {
	if s.presence == nil {
		jsonErr(w, http.StatusServiceUnavailable, "presence is not configured")
		return
	}

	user, err := uuid.Parse(mux.Vars(r)["userId"])
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid user id")
		return
	}

	online, err := s.presence.IsOnline(r.Context(), user)
	if err != nil {
		slog.Error("api: fetch presence", "user", user, "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to fetch presence")
		return
	}
	jsonResp(w, http.StatusOK, map[string]interface{}{"userId": user, "online": online})
}

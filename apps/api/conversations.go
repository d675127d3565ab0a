package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sentialytic/reapears/pkg/auth"
	"github.com/sentialytic/reapears/pkg/conversation"
	"github.com/sentialytic/reapears/pkg/model"
	"github.com/sentialytic/reapears/pkg/store"
)

// conversations serves GET /account/users/chat/direct_message: every
// conversation of the caller, most recent first.
func (s *server) conversations(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		jsonErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rows, err := s.store.FindAllForUser(r.Context(), user)
	if err != nil {
		slog.Error("api: load conversations", "user", user, "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to load conversations")
		return
	}
	jsonResp(w, http.StatusOK, conversation.Aggregate(user, rows))
}

// deleteMessage serves DELETE /account/users/chat/direct_message/{messageId}.
// With ?for_everyone=true the sender erases the message for both sides.
func (s *server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		jsonErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["messageId"])
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid message id")
		return
	}
	forEveryone := false
	if v := r.URL.Query().Get("for_everyone"); v != "" {
		if forEveryone, err = strconv.ParseBool(v); err != nil {
			jsonErr(w, http.StatusBadRequest, "for_everyone must be a boolean")
			return
		}
	}

	err = store.DeleteMessage(r.Context(), s.store, user, id, forEveryone, s.now())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, model.ErrForbidden):
		jsonErr(w, http.StatusForbidden, "not allowed to delete this message")
	case errors.Is(err, store.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "message not found")
	default:
		slog.Error("api: delete message", "user", user, "message", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to delete message")
	}
}

package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"group-quiz-hub/internal/app"
	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/protocol"
)

// APIHandler serves the polling fallback used by clients whose websocket
// cannot be re-established. Bodies use the same envelopes as the socket.
type APIHandler struct {
	hub *app.Hub
}

func NewAPIHandler(hub *app.Hub) *APIHandler {
	return &APIHandler{hub: hub}
}

func (h *APIHandler) Ranking(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	ranking, err := h.hub.Ranking().Refresh(r.Context(), quizID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, protocol.NewRankingUpdate(ranking))
}

func (h *APIHandler) State(w http.ResponseWriter, r *http.Request) {
	key := sessionKey(r)
	if err := h.hub.CheckMember(r.Context(), key, r.URL.Query().Get("user_id")); err != nil {
		writeError(w, err)
		return
	}
	state, err := h.hub.State(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, state)
}

func (h *APIHandler) Submit(w http.ResponseWriter, r *http.Request) {
	key := sessionKey(r)
	userID := r.URL.Query().Get("user_id")
	if err := h.hub.CheckMember(r.Context(), key, userID); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.hub.Submit(r.Context(), key, domain.TriggerManual, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	msg := protocol.Submitted{Message: "Quiz submitted", RedirectURL: result.RedirectURL}
	if result.Trigger == domain.TriggerDeadline {
		msg.Message = "Time is up, quiz submitted automatically"
	}
	writeMessage(w, http.StatusOK, msg)
}

func sessionKey(r *http.Request) domain.SessionKey {
	return domain.SessionKey{QuizID: chi.URLParam(r, "quizID"), GroupID: chi.URLParam(r, "groupID")}
}

func writeMessage(w http.ResponseWriter, status int, msg protocol.ServerMessage) {
	data, err := protocol.Encode(msg)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrGroupNotFound), errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotMember), errors.Is(err, domain.ErrObserverReadOnly):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrSessionClosed):
		status = http.StatusConflict
	case domain.IsRetryable(err), errors.Is(err, domain.ErrRankingUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("api request failed")
	}
	writeMessage(w, status, errorMessage(err))
}

package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"dmchat/internal/middleware"
)

// Handler exposes the non-realtime chat operations: send a message, page
// through history, bootstrap a conversation.
type Handler struct {
	delivery *Delivery
	store    Store
	gateway  *Gateway
	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandler(delivery *Delivery, store Store, gateway *Gateway, v *validator.Validate, log zerolog.Logger) *Handler {
	return &Handler{delivery: delivery, store: store, gateway: gateway, validate: v, log: log}
}

type sendMessageRequest struct {
	RecipientID int    `json:"recipient_id" validate:"required,gt=0"`
	Body        string `json:"body" validate:"required"`
}

type startConversationRequest struct {
	PeerID int `json:"peer_id" validate:"required,gt=0"`
}

// ServeWS is the realtime endpoint, delegated to the gateway.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.gateway.ServeWS(w, r)
}

// SendMessage stores the message and pushes it to live sessions. A send
// either fully succeeds (stored; push best-effort) or fails with a reason —
// there is no partial state to report.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.delivery.SendMessage(r.Context(), senderID, req.RecipientID, req.Body)
	if err != nil {
		h.writeDeliveryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// History pages a conversation newest-first. The page itself is returned
// oldest-first so clients can prepend it; next_cursor is the before_id for
// the following page, absent when exhausted.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	me, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	peerID, err := strconv.Atoi(r.URL.Query().Get("peer_id"))
	if err != nil || peerID <= 0 {
		h.writeError(w, http.StatusBadRequest, "peer_id is required")
		return
	}

	var beforeID int64
	if raw := r.URL.Query().Get("before_id"); raw != "" {
		beforeID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || beforeID <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid before_id cursor")
			return
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := h.store.History(r.Context(), ConversationKeyFor(me, peerID), beforeID, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("history fetch failed")
		h.writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

// StartConversation resolves the canonical conversation key for a pair so
// the client can open the thread before any message exists.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	me, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]ConversationKey{
		"conversation_key": ConversationKeyFor(me, req.PeerID),
	})
}

func (h *Handler) writeDeliveryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyBody), errors.Is(err, ErrBodyTooLong):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error().Err(err).Msg("send message failed")
		h.writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry later")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Package api exposes the room over HTTP. Callers identify themselves with
// the User request header; request and response bodies are JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/metrics"
)

// UserHeader carries the caller's participant name.
const UserHeader = "User"

// maxBodyBytes bounds request bodies; the longest valid message is far smaller.
const maxBodyBytes = 64 << 10

// Participants is the registry behaviour the handlers need.
type Participants interface {
	Register(ctx context.Context, name string) (chat.Participant, error)
	List(ctx context.Context) ([]chat.Participant, error)
	Heartbeat(ctx context.Context, name string) error
}

// Messages is the message log behaviour the handlers need.
type Messages interface {
	Post(ctx context.Context, author string, body chat.MessageBody) (string, error)
	ListFor(ctx context.Context, viewer string, limit int) ([]chat.Message, error)
	Edit(ctx context.Context, actor, id string, body chat.MessageBody) error
	Delete(ctx context.Context, actor, id string) error
}

// Handler serves the participant and message endpoints.
type Handler struct {
	participants Participants
	messages     Messages
	storeTimeout time.Duration
	log          *slog.Logger
}

// NewHandler creates a Handler. storeTimeout bounds the storage work of each
// request; zero leaves only the request's own deadline.
func NewHandler(participants Participants, messages Messages, storeTimeout time.Duration, log *slog.Logger) *Handler {
	return &Handler{
		participants: participants,
		messages:     messages,
		storeTimeout: storeTimeout,
		log:          log.With("component", "api"),
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	h.route(mux, "POST /participants", h.registerParticipant)
	h.route(mux, "GET /participants", h.listParticipants)
	h.route(mux, "POST /status", h.heartbeat)
	h.route(mux, "POST /messages", h.postMessage)
	h.route(mux, "GET /messages", h.listMessages)
	h.route(mux, "PUT /messages/{id}", h.editMessage)
	h.route(mux, "DELETE /messages/{id}", h.deleteMessage)
}

// route instruments fn and bounds its context with the store timeout.
func (h *Handler) route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		if h.storeTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), h.storeTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		fn(sw, r)

		metrics.HTTPRequestsTotal.WithLabelValues(pattern, strconv.Itoa(sw.code)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type registerRequest struct {
	Name string `json:"name"`
}

func (h *Handler) registerParticipant(w http.ResponseWriter, r *http.Request) {
	req := decodeBody[registerRequest](w, r)

	_, err := h.participants.Register(r.Context(), req.Name)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusCreated)
	case errors.Is(err, chat.ErrConflict):
		writeStatus(w, http.StatusConflict)
	default:
		writeStatus(w, http.StatusUnprocessableEntity)
	}
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.participants.List(r.Context())
	if err != nil {
		writeStatus(w, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, participants)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	err := h.participants.Heartbeat(r.Context(), r.Header.Get(UserHeader))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, chat.ErrNotFound):
		writeStatus(w, http.StatusNotFound)
	default:
		writeStatus(w, http.StatusInternalServerError)
	}
}

// postMessage answers every failure with 422, unknown senders included.
func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	body := decodeBody[chat.MessageBody](w, r)

	if _, err := h.messages.Post(r.Context(), r.Header.Get(UserHeader), body); err != nil {
		writeStatus(w, http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	viewer := r.Header.Get(UserHeader)
	if viewer == "" {
		writeStatus(w, http.StatusBadRequest)
		return
	}
	// A missing or non-numeric limit means no limit.
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := h.messages.ListFor(r.Context(), viewer, limit)
	if err != nil {
		writeStatus(w, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) editMessage(w http.ResponseWriter, r *http.Request) {
	body := decodeBody[chat.MessageBody](w, r)

	err := h.messages.Edit(r.Context(), r.Header.Get(UserHeader), r.PathValue("id"), body)
	writeMutation(w, err)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	err := h.messages.Delete(r.Context(), r.Header.Get(UserHeader), r.PathValue("id"))
	writeMutation(w, err)
}

func writeMutation(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, chat.ErrNotFound):
		writeStatus(w, http.StatusNotFound)
	case errors.Is(err, chat.ErrUnauthorized):
		writeStatus(w, http.StatusUnauthorized)
	case errors.Is(err, chat.ErrValidation):
		writeStatus(w, http.StatusUnprocessableEntity)
	default:
		writeStatus(w, http.StatusInternalServerError)
	}
}

// decodeBody reads a JSON request body. A missing or malformed body yields
// the zero value so that the operation's own checks decide the outcome.
func decodeBody[T any](w http.ResponseWriter, r *http.Request) T {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var zero T
		return zero
	}
	return v
}

// writeStatus replies with the status text only; error details stay in logs.
func writeStatus(w http.ResponseWriter, code int) {
	http.Error(w, http.StatusText(code), code)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("encode response", "err", err)
	}
}

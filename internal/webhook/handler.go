// Package webhook receives Bitrix24 bot events over HTTP and feeds chat
// messages to the dialog engine.
package webhook

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/pitabwire/util"

	"github.com/skyhighdo/skybot/pkg/dialog"
)

const maxRequestBodySize = 1 << 20 // 1 MiB

const (
	helloBody       = "¡Hola Ruta de prueba de servidor!"
	serverErrorBody = "Error interno del servidor"
)

// MessageHandler processes one inbound chat message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, in dialog.Inbound) error
}

// Config selects which events are handled and how they are authenticated.
type Config struct {
	// MessageEvent is the event name carrying new chat messages.
	MessageEvent string
	// AppToken, when set, must match auth[application_token] of every event.
	AppToken string
}

// Handler serves the bot's HTTP endpoints.
type Handler struct {
	engine MessageHandler
	cfg    Config
}

// NewHandler creates a webhook handler dispatching messages to engine.
func NewHandler(engine MessageHandler, cfg Config) *Handler {
	if cfg.MessageEvent == "" {
		cfg.MessageEvent = "ONIMBOTMESSAGEADD"
	}
	return &Handler{engine: engine, cfg: cfg}
}

// RegisterRoutes registers the webhook and probe routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Hello)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /webhook", h.Webhook)
}

// Hello handles GET /
func (h *Handler) Hello(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, helloBody)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "OK")
}

// Webhook handles POST /webhook
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	ctx := r.Context()

	ev, err := decodeEvent(r)
	if err != nil {
		slog.WarnContext(ctx, "malformed webhook payload", slog.String("error", err.Error()))
		writeText(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if h.cfg.AppToken != "" && !tokenMatches(h.cfg.AppToken, ev.Auth.ApplicationToken) {
		writeText(w, http.StatusUnauthorized, "invalid application token")
		return
	}

	if ev.Event != h.cfg.MessageEvent {
		slog.DebugContext(ctx, "ignoring webhook event", slog.String("event", ev.Event))
		writeText(w, http.StatusOK, "OK")
		return
	}

	in := ev.inbound()
	if in.DialogID == "" {
		slog.WarnContext(ctx, "malformed webhook payload", slog.String("error", errNoDialogID.Error()))
		writeText(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.HandleMessage(ctx, in); err != nil {
		util.Log(ctx).WithError(err).Error("handle message")
		writeText(w, http.StatusInternalServerError, serverErrorBody)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

func tokenMatches(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

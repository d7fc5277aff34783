package handler

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hackatlas/atlas/internal/auth"
	"github.com/hackatlas/atlas/internal/instalogin"
	"github.com/hackatlas/atlas/internal/session"
	"github.com/hackatlas/atlas/internal/store"
)

type InstaLoginHandler struct {
	sessions  *session.Manager
	users     *store.UserStore
	broker    *instalogin.Broker
	baseURL   string
	templates *template.Template
	logger    *slog.Logger
}

// NewInstaLoginHandler builds the QR login handler. baseURL is the external
// address of this deployment; when empty, login links are derived from the
// incoming request.
func NewInstaLoginHandler(sessions *session.Manager, users *store.UserStore, broker *instalogin.Broker, baseURL string, logger *slog.Logger) *InstaLoginHandler {
	return &InstaLoginHandler{
		sessions:  sessions,
		users:     users,
		broker:    broker,
		baseURL:   baseURL,
		templates: parseTemplates(),
		logger:    logger,
	}
}

// GenerateQR creates a single-use login session for the signed-in user and
// renders the page carrying the QR link.
func (h *InstaLoginHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	id, err := h.broker.Create(userID)
	if err != nil {
		h.logger.Error("create login session", "error", err, "user_id", userID)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	loginURL := h.externalURL(r) + "/instalogin?sessionId=" + id
	h.templates.ExecuteTemplate(w, "qr.html", map[string]any{"LoginURL": loginURL})
}

// InstaLogin consumes a QR login session and signs the scanning device in.
// Unknown, expired, and already-used sessions all get the same answer.
func (h *InstaLoginHandler) InstaLogin(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Missing session ID"})
		return
	}

	userID, ok := h.broker.Consume(id)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid or expired session"})
		return
	}

	user, err := h.users.GetByID(userID)
	if err != nil {
		h.logger.Error("load user", "error", err, "user_id", userID)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid or expired session"})
		return
	}

	td := user.TokenData()
	if td == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "User authentication required"})
		return
	}

	if err := h.sessions.Create(w, r, user.ID, *td, true); err != nil {
		h.logger.Error("create session", "error", err, "user_id", user.ID)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("instant login", "user_id", user.ID)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// ValidateQR reports whether a QR login session is still usable without
// consuming it. The QR page polls this to flip its UI once the session is
// claimed or expires.
func (h *InstaLoginHandler) ValidateQR(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Missing session ID"})
		return
	}

	if _, ok := h.broker.Validate(id); !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Invalid or expired session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *InstaLoginHandler) externalURL(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

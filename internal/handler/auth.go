package handler

import (
	"crypto/rand"
	"embed"
	"encoding/hex"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hackatlas/atlas/internal/hcb"
	"github.com/hackatlas/atlas/internal/session"
	"github.com/hackatlas/atlas/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

func parseTemplates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// loginErrors maps the error query param on the landing page to the banner
// shown to the user.
var loginErrors = map[string]string{
	"no_code":           "HCB didn't send back a login code. Please try again.",
	"auth_failed":       "We couldn't complete your HCB login. Please try again.",
	"user_fetch_failed": "We couldn't load your HCB profile. Please try again.",
	"unauthorized":      "Your HCB session has expired. Please log in again.",
}

type AuthHandler struct {
	sessions  *session.Manager
	users     *store.UserStore
	oauth     *hcb.OAuthClient
	templates *template.Template
	logger    *slog.Logger
}

func NewAuthHandler(sessions *session.Manager, users *store.UserStore, oauth *hcb.OAuthClient, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:  sessions,
		users:     users,
		oauth:     oauth,
		templates: parseTemplates(),
		logger:    logger,
	}
}

// LandingPage renders the login entry page, with a banner when the error
// query param carries a known code.
func (h *AuthHandler) LandingPage(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{}
	if msg, ok := loginErrors[r.URL.Query().Get("error")]; ok {
		data["Error"] = msg
	}
	h.templates.ExecuteTemplate(w, "landing.html", data)
}

// BeginLogin starts the OAuth flow: a fresh state value is remembered in
// the cookie session, then the browser is sent to HCB's authorize endpoint.
func (h *AuthHandler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		h.logger.Error("generate state", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if err := h.sessions.RememberState(w, r, state); err != nil {
		h.logger.Error("remember state", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, h.oauth.AuthorizeURL(state), http.StatusSeeOther)
}

// Callback is the OAuth redirect target. It exchanges the code, loads the
// HCB identity, upserts the local user, persists the tokens server-side,
// and issues the session cookie.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Redirect(w, r, "/?error=no_code", http.StatusSeeOther)
		return
	}

	// The state check only applies when this browser started the flow
	// through BeginLogin; HCB-initiated logins arrive without one.
	if expected, ok := h.sessions.State(r); ok {
		if got := r.URL.Query().Get("state"); got != expected {
			h.logger.Warn("oauth state mismatch")
			http.Redirect(w, r, "/?error=auth_failed", http.StatusSeeOther)
			return
		}
	}

	td, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth exchange", "error", err)
		http.Redirect(w, r, "/?error=auth_failed", http.StatusSeeOther)
		return
	}

	identity, err := h.oauth.FetchUser(r.Context(), td.AccessToken)
	if err != nil {
		h.logger.Error("fetch hcb user", "error", err)
		http.Redirect(w, r, "/?error=user_fetch_failed", http.StatusSeeOther)
		return
	}

	user, err := h.users.FindOrCreate(identity.ID, optional(identity.Name), optional(identity.Email))
	if err != nil {
		h.logger.Error("upsert user", "error", err, "hcb_user_id", identity.ID)
		http.Redirect(w, r, "/?error=user_fetch_failed", http.StatusSeeOther)
		return
	}

	if err := h.sessions.Create(w, r, user.ID, td, true); err != nil {
		h.logger.Error("create session", "error", err, "user_id", user.ID)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("login", "user_id", user.ID, "hcb_user_id", identity.ID)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// Logout destroys the session cookie. Stored tokens stay behind and expire
// on HCB's schedule.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Clear(w, r); err != nil {
		h.logger.Error("clear session", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package handler

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hackatlas/atlas/internal/auth"
	"github.com/hackatlas/atlas/internal/hcb"
	"github.com/hackatlas/atlas/internal/session"
	"github.com/hackatlas/atlas/internal/store"
)

type DashboardHandler struct {
	sessions  *session.Manager
	users     *store.UserStore
	hcb       *hcb.Client
	templates *template.Template
	logger    *slog.Logger
}

func NewDashboardHandler(sessions *session.Manager, users *store.UserStore, client *hcb.Client, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		sessions:  sessions,
		users:     users,
		hcb:       client,
		templates: parseTemplates(),
		logger:    logger,
	}
}

// Dashboard renders the signed-in landing page. Organization data loads
// client-side through the JSON endpoints below.
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	user, err := h.users.GetByID(userID)
	if err != nil {
		h.logger.Error("load user", "error", err, "user_id", userID)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		// Session refers to a row that no longer exists.
		h.sessions.Clear(w, r)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	data := map[string]any{
		"HCBUserID": user.HCBUserID,
	}
	if user.Name != nil {
		data["Name"] = *user.Name
	}
	h.templates.ExecuteTemplate(w, "dashboard.html", data)
}

// Profile returns the signed-in user's stored profile as JSON.
func (h *DashboardHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	user, err := h.users.GetByID(userID)
	if err != nil {
		h.logger.Error("load user", "error", err, "user_id", userID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Orgs returns the organizations the signed-in user belongs to.
func (h *DashboardHandler) Orgs(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	orgs, _, err := h.hcb.UserOrganizations(r.Context(), userID)
	if err != nil {
		h.writeAPIError(w, err, userID)
		return
	}
	if orgs == nil {
		orgs = []hcb.OrganizationSummary{}
	}
	writeJSON(w, http.StatusOK, orgs)
}

// OrgBalance returns the balance of a single organization identified by the
// orgId query param.
func (h *DashboardHandler) OrgBalance(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	orgID := r.URL.Query().Get("orgId")
	if orgID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing orgId"})
		return
	}

	org, _, err := h.hcb.Organization(r.Context(), userID, orgID)
	if err != nil {
		h.writeAPIError(w, err, userID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orgId":         org.ID,
		"name":          org.Name,
		"balance_cents": org.BalanceCents,
	})
}

// writeAPIError maps client errors onto JSON responses: missing or
// unrecoverable credentials become 401 so the frontend can restart login,
// upstream failures become 502.
func (h *DashboardHandler) writeAPIError(w http.ResponseWriter, err error, userID int64) {
	var apiErr *hcb.APIError
	switch {
	case errors.Is(err, hcb.ErrNotAuthenticated) || hcb.IsReauthRequired(err):
		h.logger.Warn("api auth failure", "error", err, "user_id", userID)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case errors.As(err, &apiErr):
		h.logger.Error("hcb request failed", "error", err, "user_id", userID, "status", apiErr.Status)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream request failed"})
	case errors.Is(err, hcb.ErrMalformedResponse):
		h.logger.Error("hcb response malformed", "error", err, "user_id", userID)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream request failed"})
	default:
		h.logger.Error("hcb request failed", "error", err, "user_id", userID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package middleware

import (
	"net/http"
	"net/url"

	"github.com/hackatlas/atlas/internal/auth"
	"github.com/hackatlas/atlas/internal/session"
)

// RequireAuth validates the session cookie and places the user id on the
// request context. Browsers without a valid session are sent to the login
// landing page with the requested path preserved as redirectTo.
func RequireAuth(sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := sessions.UserID(r)
			if !ok {
				redirectToLogin(w, r)
				return
			}

			ctx := auth.WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := "/?redirectTo=" + url.QueryEscape(r.URL.Path)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

package session

import (
	"crypto/sha256"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/hackatlas/atlas/internal/model"
	"github.com/hackatlas/atlas/internal/store"
)

const (
	cookieName = "__atlas_session"
	userIDKey  = "userId"
	stateKey   = "oauthState"

	// rememberMaxAge is the cookie lifetime when the user opts to stay
	// logged in.
	rememberMaxAge = 30 * 24 * 60 * 60
)

// Manager issues and validates the signed, encrypted session cookie. The
// cookie carries only the local user id; token material lives in the user
// store and never reaches the browser.
type Manager struct {
	store *sessions.CookieStore
	users *store.UserStore
}

func NewManager(secret string, users *store.UserStore) *Manager {
	// Derive a fixed-size encryption key from the configured secret; the
	// raw secret signs, the derived key encrypts.
	blockKey := sha256.Sum256([]byte(secret))

	cs := sessions.NewCookieStore([]byte(secret), blockKey[:])
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   rememberMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{store: cs, users: users}
}

// UserID reads the session cookie and returns the authenticated user id.
// Absent, expired, or tampered cookies all report false; this never fails
// a request.
func (m *Manager) UserID(r *http.Request) (int64, bool) {
	sess, err := m.store.Get(r, cookieName)
	if err != nil {
		return 0, false
	}
	id, ok := sess.Values[userIDKey].(int64)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}

// Create persists the token triple to the user store, then writes a session
// cookie containing only the user id. remember controls whether the cookie
// survives the browser session.
func (m *Manager) Create(w http.ResponseWriter, r *http.Request, userID int64, td model.TokenData, remember bool) error {
	if err := m.users.UpdateTokens(userID, td); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}

	sess, _ := m.store.Get(r, cookieName)
	sess.Values[userIDKey] = userID
	delete(sess.Values, stateKey)

	opts := *m.store.Options
	if !remember {
		opts.MaxAge = 0
	}
	sess.Options = &opts

	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear destroys the session cookie. Stored tokens are not revoked; they
// age out at the authorization server.
func (m *Manager) Clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := m.store.Get(r, cookieName)
	for k := range sess.Values {
		delete(sess.Values, k)
	}
	opts := *m.store.Options
	opts.MaxAge = -1
	sess.Options = &opts

	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// RememberState stashes the OAuth state parameter in the cookie session
// before redirecting to the authorization server.
func (m *Manager) RememberState(w http.ResponseWriter, r *http.Request, state string) error {
	sess, _ := m.store.Get(r, cookieName)
	sess.Values[stateKey] = state
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// State returns the OAuth state previously remembered for this browser, if
// any. The value is removed from the cookie when the session is next saved.
func (m *Manager) State(r *http.Request) (string, bool) {
	sess, err := m.store.Get(r, cookieName)
	if err != nil {
		return "", false
	}
	s, ok := sess.Values[stateKey].(string)
	return s, ok && s != ""
}

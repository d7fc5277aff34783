package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hackatlas/atlas/internal/config"
	"github.com/hackatlas/atlas/internal/handler"
	"github.com/hackatlas/atlas/internal/hcb"
	"github.com/hackatlas/atlas/internal/instalogin"
	"github.com/hackatlas/atlas/internal/middleware"
	"github.com/hackatlas/atlas/internal/session"
	"github.com/hackatlas/atlas/internal/store"
)

type Server struct {
	db          *sql.DB
	authH       *handler.AuthHandler
	dashboardH  *handler.DashboardHandler
	instaloginH *handler.InstaLoginHandler
	sessions    *session.Manager
	broker      *instalogin.Broker
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, cfg config.Config, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	sessions := session.NewManager(cfg.SessionSecret, userStore)
	broker := instalogin.NewBroker(instalogin.DefaultTTL, logger.With("component", "instalogin"))

	oauthCfg := hcb.Config{
		APIBase:     cfg.HCBAPIBase,
		ClientID:    cfg.HCBClientID,
		RedirectURI: cfg.HCBRedirectURI,
	}
	oauth := hcb.NewOAuthClient(oauthCfg, logger.With("component", "oauth"))
	client := hcb.NewClient(oauth, userStore, logger.With("component", "hcb"))

	return &Server{
		db:          db,
		authH:       handler.NewAuthHandler(sessions, userStore, oauth, logger.With("component", "auth")),
		dashboardH:  handler.NewDashboardHandler(sessions, userStore, client, logger.With("component", "dashboard")),
		instaloginH: handler.NewInstaLoginHandler(sessions, userStore, broker, cfg.BaseURL, logger.With("component", "instalogin_handler")),
		sessions:    sessions,
		broker:      broker,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// Broker returns the instant-login broker so main can run its sweeper.
func (s *Server) Broker() *instalogin.Broker {
	return s.broker
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /{$}", s.authH.LandingPage)
	outerMux.HandleFunc("POST /{$}", s.rateLimitedHandler(s.authH.BeginLogin))
	outerMux.HandleFunc("GET /callback", s.rateLimitedHandler(s.authH.Callback))
	outerMux.HandleFunc("GET /instalogin", s.rateLimitedHandler(s.instaloginH.InstaLogin))
	outerMux.HandleFunc("GET /api/validate-login-qr", s.instaloginH.ValidateQR)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes — wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessions)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /logout", s.authH.Logout)
	mux.HandleFunc("GET /dashboard", s.dashboardH.Dashboard)
	mux.HandleFunc("GET /generate-qr", s.instaloginH.GenerateQR)
	mux.HandleFunc("GET /api/profile", s.dashboardH.Profile)
	mux.HandleFunc("GET /api/orgs", s.dashboardH.Orgs)
	mux.HandleFunc("GET /api/org-balance", s.dashboardH.OrgBalance)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

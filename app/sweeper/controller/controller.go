package controller

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/gorilla/mux"

	"github.com/helix-wallet/sweeperd/app/sweeper/types"
	"github.com/helix-wallet/sweeperd/pkg/utils"
)

type Controller struct {
	App        *types.App
	AdminToken string
	AuthUser   string
	AuthHash   []byte
	JWTSecret  []byte
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	adminUser := utils.Env("ADMIN_USER", "admin")
	adminPass := utils.Env("ADMIN_PASSWORD", "admin")

	phash, _ := bcrypt.GenerateFromPassword([]byte(adminPass), bcrypt.DefaultCost)

	return &Controller{
		App:        app,
		AdminToken: app.AdminToken,
		AuthUser:   adminUser,
		AuthHash:   phash,
		JWTSecret:  app.JWTSecret,
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodDelete+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/api/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/login", c.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", c.HandleLogout).Methods(http.MethodPost)

	// Account lifecycle
	r.Handle("/api/accounts", c.RequireAuth(http.HandlerFunc(c.HandleAccountCreate))).Methods(http.MethodPost)
	r.Handle("/api/accounts/{id}", c.RequireAuth(http.HandlerFunc(c.HandleAccountDetail))).Methods(http.MethodGet)
	r.Handle("/api/accounts/{id}", c.RequireAuth(http.HandlerFunc(c.HandleAccountDelete))).Methods(http.MethodDelete)

	// Sweep control per (account, chain)
	r.Handle("/api/accounts/{id}/sweeps/{chain}/start", c.RequireAuth(http.HandlerFunc(c.HandleSweepStart))).Methods(http.MethodPost)
	r.Handle("/api/accounts/{id}/sweeps/{chain}/stop", c.RequireAuth(http.HandlerFunc(c.HandleSweepStop))).Methods(http.MethodPost)
	r.Handle("/api/accounts/{id}/sweeps/stopall", c.RequireAuth(http.HandlerFunc(c.HandleSweepStopAll))).Methods(http.MethodPost)
	r.Handle("/api/accounts/{id}/sweeps", c.RequireAuth(http.HandlerFunc(c.HandleSweepStatus))).Methods(http.MethodGet)

	r.Handle("/api/chains", c.RequireAuth(http.HandlerFunc(c.HandleChainsList))).Methods(http.MethodGet)
	r.Handle("/api/stats", c.RequireAuth(http.HandlerFunc(c.HandleStats))).Methods(http.MethodGet)

	// WebSocket endpoint for real-time sweep events. The stream exposes every
	// account's sweep activity, so it is gated like the rest of the data
	// routes; browser clients authenticate via the session cookie.
	r.Handle("/api/ws", c.RequireAuth(http.HandlerFunc(c.HandleWebSocket))).Methods(http.MethodGet)

	return r, nil
}

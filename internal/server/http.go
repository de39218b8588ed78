// Package server wires the HTTP router: public auth endpoints, the protected
// /me route, and liveness.
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	authhandler "session-control-plane/internal/auth/handler"
	"session-control-plane/internal/security"
	"session-control-plane/internal/server/middleware"
	"session-control-plane/internal/server/respond"
)

// NewRouter builds the HTTP router for the auth service.
func NewRouter(h *authhandler.Handler, tokens *security.TokenProvider) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.ClientIP)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond.OK(w, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1/auth").Subrouter()
	api.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	api.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	api.HandleFunc("/refresh", h.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)

	protected := middleware.RequireAuth(tokens)
	api.Handle("/me", protected(http.HandlerFunc(h.Me))).Methods(http.MethodGet)
	api.Handle("/history", protected(http.HandlerFunc(h.History))).Methods(http.MethodGet)
	api.Handle("/logout_all", protected(http.HandlerFunc(h.LogoutAll))).Methods(http.MethodPost)

	return r
}

package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter builds the observation API router.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(RecoveryMiddleware, LoggingMiddleware, CORSMiddleware)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/calls/current", h.CurrentCall).Methods(http.MethodGet)
	api.HandleFunc("/calls", h.ListCalls).Methods(http.MethodGet)
	api.HandleFunc("/calls/{id}/turns", h.ListTurns).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet)

	return r
}

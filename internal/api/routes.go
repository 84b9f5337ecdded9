package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func NewRouter(handler *Handler) *mux.Router {
	router := mux.NewRouter()

	router.Use(loggingMiddleware(handler.logger))
	router.Use(corsMiddleware)

	SetupRoutes(router, handler)
	return router
}

func SetupRoutes(router *mux.Router, handler *Handler) {
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", handler.HealthCheck).Methods(http.MethodGet)
	v1.HandleFunc("/jobs", handler.ListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", handler.GetJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/run", handler.RunJob).Methods(http.MethodPost)
	v1.HandleFunc("/lifecycle/background", handler.EnterBackground).Methods(http.MethodPost)
	v1.HandleFunc("/lifecycle/active", handler.BecomeActive).Methods(http.MethodPost)
	v1.HandleFunc("/cache", handler.GetCache).Methods(http.MethodGet)
	v1.HandleFunc("/cache", handler.ClearCache).Methods(http.MethodDelete)

	if handler.metrics != nil {
		router.Handle("/metrics", handler.metrics).Methods(http.MethodGet)
	}
}

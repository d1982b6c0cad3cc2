package api

import (
	"github.com/gorilla/mux"
	"github.com/ruminate-app/backend/internal/config"
	"github.com/ruminate-app/backend/internal/db"
	"github.com/ruminate-app/backend/internal/queue"
	"github.com/ruminate-app/backend/internal/repository/sqlite"
)

func SetupRoutes(cfg *config.Config, version, buildTime string, database *db.DB, enq *queue.Enqueuer, rev *queue.Reverter) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)

	// Repository
	repo := sqlite.New(database)

	// Create handlers
	systemHandler := &SystemHandler{}
	authHandler := NewAuthHandler(repo, repo, cfg.JWTSecret, cfg.TokenDuration)
	thoughtsHandler := NewThoughtsHandler(repo, repo, enq)
	queueHandler := NewQueueHandler(enq, rev, repo, repo, repo)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	r.HandleFunc("/v1/auth/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/v1/auth/signin", authHandler.Signin).Methods("POST")
	r.HandleFunc("/v1/auth/anonymous", authHandler.Anonymous).Methods("POST")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))

	// Auth endpoints
	authV1 := apiV1.PathPrefix("/auth").Subrouter()
	authV1.HandleFunc("/signout", authHandler.Signout).Methods("POST")

	// Thoughts endpoints
	apiV1.HandleFunc("/thoughts", thoughtsHandler.CreateThought).Methods("POST")
	apiV1.HandleFunc("/thoughts", thoughtsHandler.ListThoughts).Methods("GET")
	apiV1.HandleFunc("/thoughts/{id}", thoughtsHandler.GetThought).Methods("GET")
	apiV1.HandleFunc("/thoughts/{id}/history", thoughtsHandler.GetHistory).Methods("GET")

	// Processing endpoints
	apiV1.HandleFunc("/thoughts/{id}/process", queueHandler.Process).Methods("POST")
	apiV1.HandleFunc("/thoughts/{id}/reprocess", queueHandler.Reprocess).Methods("POST")
	apiV1.HandleFunc("/thoughts/{id}/revert", queueHandler.Revert).Methods("POST")
	apiV1.HandleFunc("/jobs/{id}", queueHandler.GetJob).Methods("GET")
	apiV1.HandleFunc("/tools/enrollment", queueHandler.ListEnrollment).Methods("GET")
	apiV1.HandleFunc("/tools/enrollment", queueHandler.Enroll).Methods("POST")
	apiV1.HandleFunc("/ai/calls", queueHandler.ListCallLogs).Methods("GET")

	return r
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mjnet/mjnet/internal/api/handlers"
	"github.com/mjnet/mjnet/internal/api/middleware"
	"github.com/mjnet/mjnet/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Metrics)
	r.Use(middleware.ActorExtractor(cfg.Agent.UserID))
	r.Use(middleware.Telemetry)
	r.Use(middleware.NewAPIKeyAuth().Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-MJ-User-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Discovery & presence
		r.Route("/discovery", func(r chi.Router) {
			r.Get("/whoami", h.WhoAmI)
			r.Get("/peers", h.ListPeers)
			r.Get("/peers/{agentId}", h.GetPeer)
			r.Post("/scan", h.Discover)
		})

		// Friend requests
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.SendFriendRequest)
			r.Get("/pending", h.ListPendingRequests)
			r.Get("/sent", h.ListSentRequests)
			r.Route("/{requestId}", func(r chi.Router) {
				r.Post("/accept", h.AcceptFriendRequest)
				r.Post("/reject", h.RejectFriendRequest)
				r.Post("/cancel", h.CancelFriendRequest)
			})
		})

		// Friends & relationships
		r.Route("/friends", func(r chi.Router) {
			r.Get("/", h.ListFriends)
			r.Route("/{userId}", func(r chi.Router) {
				r.Delete("/", h.RemoveFriend)
				r.Get("/status", h.RelationshipStatus)
				r.Put("/type", h.UpdateRelationshipType)
				r.Put("/privacy", h.UpdatePrivacySettings)
				r.Put("/trust", h.AdjustTrust)
				r.Post("/block", h.BlockUser)
				r.Post("/unblock", h.UnblockUser)
				r.Get("/history", h.ConversationHistory)
			})
		})

		// Conversation sessions
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.ProposeSession)
			r.Route("/{sessionId}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/approve", h.ApproveSession)
				r.Post("/reject", h.RejectSession)
				r.Post("/advance", h.AdvanceSessionTurn)
				r.Post("/draft", h.DraftSessionTurn)
				r.Get("/messages", h.ListSessionMessages)
			})
		})

		// Messages
		r.Route("/messages", func(r chi.Router) {
			r.Post("/status", h.SendStatusUpdate)
			r.Post("/checkin", h.SendCheckIn)
			r.Post("/flush", h.FlushPending)
			r.Post("/{messageId}/approve", h.ApproveDraft)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "mjnet-server",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
		})
	}
}

// Package rest hosts the HTTP surface around the collaboration channel:
// health, metrics, the WebSocket upgrade endpoint, and a small room
// admin API.
package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"flowsync/application/session"
	"flowsync/interfaces/http/rest/middleware"
	"flowsync/pkg/auth"
	apperrors "flowsync/pkg/errors"
)

// Router creates and configures the HTTP router.
type Router struct {
	manager *session.Manager
	ws      http.HandlerFunc
	metrics http.Handler
	jwt     *auth.JWTService
	logger  *zap.Logger

	enableCORS bool
}

// NewRouter creates a new router instance. metrics may be nil when the
// metrics endpoint is disabled; jwt may be nil to run the admin API
// unauthenticated (development mode).
func NewRouter(manager *session.Manager, ws http.HandlerFunc, metrics http.Handler, jwt *auth.JWTService, enableCORS bool, logger *zap.Logger) *Router {
	return &Router{
		manager:    manager,
		ws:         ws,
		metrics:    metrics,
		jwt:        jwt,
		logger:     logger,
		enableCORS: enableCORS,
	}
}

// Setup configures all routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	if rt.enableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:3000"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/healthz", rt.healthCheck)
	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.metrics)
	}

	// The collaboration channel itself.
	router.Get("/ws", rt.ws)

	// Room administration.
	router.Route("/api/rooms", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.jwt))
		r.Delete("/{roomID}", rt.closeRoom)
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// closeRoom flushes a room durably and removes its cached state.
func (rt *Router) closeRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		writeError(w, apperrors.NewValidationError("roomID is required"))
		return
	}
	if err := rt.manager.CloseRoom(r.Context(), roomID); err != nil {
		rt.logger.Error("room close failed", zap.String("roomId", roomID), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "roomId": roomID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	if appErr := apperrors.GetAppError(err); appErr != nil {
		status = appErr.HTTPStatus
		message = appErr.Message
	}
	writeJSON(w, status, map[string]string{"error": message})
}

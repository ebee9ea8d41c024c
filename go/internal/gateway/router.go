package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the REST API, the WebSocket endpoints and the health
// check on one chi router.
func NewRouter(api *API, ws *WebSocketHandler, health http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	if health != nil {
		r.Method(http.MethodGet, "/health", health)
	}
	api.RegisterRoutes(r)
	ws.RegisterRoutes(r)
	return r
}

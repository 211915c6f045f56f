package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter builds the local API. Checkout is outside the request timeout; the
// payment orchestrator bounds it.
func NewRouter(h *Handler, hub *Hub, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDHeader)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Post("/session", h.CreateSession)
			r.Get("/session", h.GetSession)
			r.Delete("/session", h.DeleteSession)
			r.Post("/session/resume", h.ResumeSession)
			r.Post("/pair", h.Pair)
			r.Get("/cart", h.GetCart)
			r.Post("/cart/items", h.AddItem)
			r.Put("/cart/items/{itemID}", h.SetQuantity)
			r.Delete("/cart/items/{itemID}", h.RemoveItem)
		})
		r.Post("/checkout", h.Checkout)
		r.Get("/events", hub.ServeWS)
	})

	return otelhttp.NewHandler(r, "scancart")
}

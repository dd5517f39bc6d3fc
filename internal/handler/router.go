package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	custommiddleware "github.com/ecoplate/ecoplate-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса экоплейт.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.corsOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/products", h.CreateProduct)
			r.Get("/products", h.GetProducts)
			r.Post("/products/{id}/consume", h.RecordInteraction)

			r.Get("/points/balance", h.GetBalance)

			r.Get("/rewards", h.GetRewards)
			r.Post("/rewards/{id}/redeem", h.Redeem)
			r.Get("/rewards/my-redemptions", h.GetMyRedemptions)
			r.Post("/redemptions/{code}/collect", h.CollectRedemption)

			r.Get("/badges", h.GetBadges)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/ittrkart-backend/internal/middleware"
)

// SetupRouter настраивает маршруты API и возвращает корневой роутер.
func (h *Handler) SetupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/signup", h.SignUp)
			r.Post("/signin", h.SignIn)
			r.Post("/forget-password", h.ForgetPassword)
			r.Post("/reset-password", h.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)
				r.Put("/profile", h.UpdateProfile)

				r.Group(func(r chi.Router) {
					r.Use(h.authMiddleware.RequireAdmin)
					r.Get("/", h.ListUsers)
					r.Get("/{id}", h.GetUser)
					r.Put("/{id}", h.UpdateUser)
					r.Delete("/{id}", h.DeleteUser)
				})
			})
		})

		r.Route("/orders", func(r chi.Router) {
			// Сессия оплаты создаётся до появления учётной записи в запросе,
			// поэтому маршрут открыт.
			r.Post("/create-checkout-session", h.CreateCheckoutSession)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)
				r.Post("/", h.CreateOrder)
				r.Get("/mine", h.ListMyOrders)
				r.Get("/{id}", h.GetOrder)
				r.Put("/{id}/deliver", h.MarkDelivered)
				r.Put("/{id}/pay", h.MarkPaid)

				r.Group(func(r chi.Router) {
					r.Use(h.authMiddleware.RequireAdmin)
					r.Get("/", h.ListOrders)
					r.Get("/summary", h.Summary)
					r.Delete("/{id}", h.DeleteOrder)
				})
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware, h.authMiddleware.RequireVendor)
			r.Post("/upload", h.Upload)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeMessage(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeMessage(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	return r
}

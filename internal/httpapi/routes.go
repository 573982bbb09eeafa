package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DoyleJ11/pet-battle-backend/internal/ws"
)

func SetupRoutes(a *API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(a.hub, a.log))

	r.Route("/battles", func(r chi.Router) {
		r.Use(requireActor)
		r.Post("/", a.CreateBattle)

		r.Route("/{code}", func(r chi.Router) {
			r.Use(a.loadBattle)
			r.Get("/", a.GetBattle)
			r.Post("/registration", a.OpenRegistration)
			r.Post("/players", a.Register)
			r.Post("/start", a.StartBattle)
			r.Post("/admins", a.AddAdmin)
			r.Post("/pairs/{pairID}/moves", a.SubmitMove)
			r.Post("/pairs/{pairID}/timeout", a.ResolveTimeout)
		})
	})
	return r
}

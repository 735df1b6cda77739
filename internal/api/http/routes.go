package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pulseoracle/internal/api/http/mw"
	"pulseoracle/internal/metrics"
)

func BuildRouter(
	api *API,
	logMW *mw.LoggingMiddleware,
	rateLimitMW *mw.RateLimitMiddleware,
	jwtMW *mw.JWTMiddleware,
	corsMW *mw.CORSMiddleware,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if logMW != nil {
		r.Use(logMW.Handler)
	}
	if corsMW != nil {
		r.Use(corsMW.Handler())
	}

	// tech endpoint not auth
	r.Get("/healthz", api.Healthz)
	r.Get("/readiness", api.Readiness)
	r.Mount("/metrics", metrics.Handler())

	// event stream; auth happens at upgrade time like any other request
	r.Get("/ws", api.WS)

	// rest endpoint with rate limit and jwt
	r.Group(func(protected chi.Router) {
		if rateLimitMW != nil {
			protected.Use(rateLimitMW.Handler)
		}
		if jwtMW != nil {
			protected.Use(jwtMW.Handler)
		}

		protected.Route("/api", func(apiR chi.Router) {
			apiR.Get("/assets", api.Assets)
			apiR.Route("/assets/{symbol}", func(ar chi.Router) {
				ar.Get("/twap", api.AssetTwap)
				ar.Get("/preview", api.AssetPreview)
			})
		})
	})

	return r
}

package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"transcription/internal/http/handlers"
	"transcription/internal/middleware"
)

type Options struct {
	Logger         zerolog.Logger
	CallbackSecret string
	// OperatorToken guards submission, purge and queries.
	OperatorToken string
	// RateLimitPerMinute applies per client IP to every route but health.
	RateLimitPerMinute int
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(opts.Logger))

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1/transcriptions", func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMinute))
		r.Group(func(r chi.Router) {
			r.Use(middleware.VerifySignature(opts.CallbackSecret))
			r.Post("/callbacks/done", app.CallbackDone)
			r.Post("/callbacks/error", app.CallbackError)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator(opts.OperatorToken))
			r.Post("/", app.StartTranscription)

			r.Get("/jobs/{job_id}", app.GetJob)
			r.Delete("/jobs/{job_id}", app.PurgeJob)

			r.Get("/mediapackages/{mp_id}", app.MediaPackage)
			r.Get("/mediapackages/{mp_id}/result", app.Result)
			r.Get("/mediapackages/{mp_id}/captions", app.Captions)
		})
	})

	return r
}

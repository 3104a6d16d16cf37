package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"eic-pathway/internal/auth"
	"eic-pathway/internal/guard"
	"eic-pathway/internal/maintenance"
	"eic-pathway/internal/phases"
	"eic-pathway/internal/response"
	"eic-pathway/internal/tokens"
)

type routes struct {
	auth    *auth.Handler
	phases  *phases.Handler
	tokens  *tokens.Service
	cleanup *maintenance.CleanupHandler
	health  http.HandlerFunc

	loginLimit    *guard.RateLimiter
	registerLimit *guard.RateLimiter
	verifyLimit   *guard.RateLimiter

	allowedOrigins []string
}

func newRouter(rt routes) chi.Router {
	origins := rt.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, response.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/health", rt.health)

	r.Route("/auth", func(r chi.Router) {
		r.With(rt.verifyLimit.Middleware).Post("/send-verification", rt.auth.SendVerification)
		r.Post("/verify-code", rt.auth.VerifyCode)
		r.With(rt.verifyLimit.Middleware).Post("/check-email", rt.auth.CheckEmail)
		r.With(rt.registerLimit.Middleware).Post("/register", rt.auth.Register)
		r.With(rt.loginLimit.Middleware).Post("/login", rt.auth.Login)
		r.Post("/refresh", rt.auth.Refresh)
		r.Post("/logout", rt.auth.Logout)
	})

	r.Get("/phases", rt.phases.ListPhases)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAccess(rt.tokens))

		r.Get("/users/{id}", rt.auth.GetUser)
		r.Put("/users/me/assessment", rt.auth.SetAssessment)
		r.Put("/users/me/phase", rt.phases.SetCurrentPhase)
		r.Get("/users/me/progress", rt.phases.GetProgress)

		r.Post("/phases/{phase}/complete", rt.phases.Complete)
		r.Post("/phases/{phase}/unlock", rt.phases.SubmitCode)
	})

	r.Get("/internal/maintenance/cleanup", rt.cleanup.Handle)
	r.Post("/internal/maintenance/cleanup", rt.cleanup.Handle)

	return r
}

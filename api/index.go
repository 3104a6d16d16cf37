package api

import (
	"net/http"
	"sync"

	"eic-pathway/internal/app"
	"eic-pathway/internal/config"
	"eic-pathway/internal/response"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		apiRuntime, initErr = app.Build(app.Options{
			LoadDotEnv:    false,
			RunMigrations: config.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),

			// The platform edge appends the caller address.
			TrustForwardedFor: true,
		})
	})

	if initErr != nil {
		response.Error(w, http.StatusInternalServerError, response.StatusInternal, "application bootstrap failed")
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}

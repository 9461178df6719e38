package api

import (
	"context"
	"net/http"
	"runtime/debug"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	apiContext "github.com/tconn93/TRFBWebhook/internal/api/context"
	"github.com/tconn93/TRFBWebhook/internal/api/handlers"
	"github.com/tconn93/TRFBWebhook/internal/api/middleware"
	"github.com/tconn93/TRFBWebhook/internal/pkg/errors"
	"github.com/tconn93/TRFBWebhook/internal/platform/config"
)

type Dependencies struct {
	WebhookHandler      *handlers.WebhookHandler
	AuthHandler         *handlers.AuthHandler
	TargetHandler       *handlers.TargetHandler
	FacebookHandler     *handlers.FacebookHandler
	DataDeletionHandler *handlers.DataDeletionHandler
	HealthHandler       *handlers.HealthHandler
	MetricsHandler      *handlers.MetricsHandler
	AuthMiddleware      *middleware.AuthMiddleware
	RateLimiter         *middleware.RateLimiter
	RateLimits          config.RateLimitConfig
	CORS                config.CORSConfig
	Logger              zerolog.Logger
}

// NewRouter registers every route and wraps the router with CORS and access
// logging.
func NewRouter(deps *Dependencies) http.Handler {
	router := httprouter.New()

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Route not found", nil)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusMethodNotAllowed, errors.ErrCodeInvalidInput, "Method not allowed", nil)
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, rec interface{}) {
		hlog.FromRequest(r).Error().
			Interface("panic", rec).
			Bytes("stack", debug.Stack()).
			Msg("handler panic")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
	}

	authMid := deps.AuthMiddleware
	authLimit := deps.RateLimiter.Limit("auth", deps.RateLimits.AuthPerMinute)
	testLimit := deps.RateLimiter.Limit("test", deps.RateLimits.TestPerMinute)

	// Operational
	router.GET("/health", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Facebook webhook
	router.GET("/webhook", wrap(deps.WebhookHandler.Verify))
	router.POST("/webhook", wrap(deps.WebhookHandler.Receive))

	// Authentication
	router.POST("/api/auth/register", chain(deps.AuthHandler.Register, authLimit))
	router.POST("/api/auth/login", chain(deps.AuthHandler.Login, authLimit))
	router.GET("/api/auth/me", chain(deps.AuthHandler.Me, authMid.Handle))
	router.POST("/api/auth/logout", wrap(deps.AuthHandler.Logout))

	// Targets
	router.GET("/api/targets", chain(deps.TargetHandler.List, authMid.Handle))
	router.POST("/api/targets", chain(deps.TargetHandler.Create, authMid.Handle))
	router.GET("/api/targets/:id", chain(deps.TargetHandler.Get, authMid.Handle))
	router.PUT("/api/targets/:id", chain(deps.TargetHandler.Update, authMid.Handle))
	router.DELETE("/api/targets/:id", chain(deps.TargetHandler.Delete, authMid.Handle))
	router.POST("/api/targets/:id/test", chain(deps.TargetHandler.Test, authMid.Handle, testLimit))

	// Facebook account linking
	router.GET("/api/facebook/status", chain(deps.FacebookHandler.Status, authMid.Handle))
	router.GET("/api/facebook/auth-url", chain(deps.FacebookHandler.AuthURL, authMid.Handle))
	router.GET("/api/facebook/callback", wrap(deps.FacebookHandler.Callback))
	router.POST("/api/facebook/disconnect", chain(deps.FacebookHandler.Disconnect, authMid.Handle))

	// Data deletion
	router.GET("/data-deletion", wrap(deps.DataDeletionHandler.Instructions))
	router.POST("/data-deletion", wrap(deps.DataDeletionHandler.Callback))
	router.GET("/data-deletion/status/:code", wrap(deps.DataDeletionHandler.Status))
	router.DELETE("/data-deletion/account", chain(deps.DataDeletionHandler.DeleteAccount, authMid.Handle))

	c := cors.New(cors.Options{
		AllowedOrigins: deps.CORS.AllowedOrigins,
		AllowedMethods: deps.CORS.AllowedMethods,
		AllowedHeaders: deps.CORS.AllowedHeaders,
		MaxAge:         deps.CORS.MaxAge,
	})

	return middleware.AccessLog(deps.Logger)(c.Handler(router))
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

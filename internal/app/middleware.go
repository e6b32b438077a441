package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/vantage-c2/vantage/internal/identity"
	"github.com/vantage-c2/vantage/internal/observability"
	"github.com/vantage-c2/vantage/internal/platform/httpx"
	"github.com/vantage-c2/vantage/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger   *slog.Logger
	Config   *Config
	Resolver *identity.Resolver
	Metrics  *observability.Metrics
}

// MiddlewareStack installs the outer middleware chain: security headers,
// rate limiting and request logging. Credential resolution is applied per
// API subtree via Authenticate.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		ReferrerPolicy:     "no-referrer",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	perMinute := 300
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		perMinute = cfg.Config.RateLimitPerMinute
	}

	requestLogger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			cfg.Logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("took", time.Since(start)))
		})
	}

	stack := []func(http.Handler) http.Handler{
		secureMiddleware.Handler,
		httprate.LimitByIP(perMinute, time.Minute),
		requestLogger,
	}
	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.Middleware)
	}
	return stack
}

// Authenticate resolves the request credential into an AuthContext and
// stores it in the request context. Credentials are HTTP Basic
// (username+password) or the X-Api-Key header; administrators may
// impersonate with the user_context query parameter or X-User-Context
// header.
func Authenticate(resolver *identity.Resolver, logger *slog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := identity.Credential{APIKey: r.Header.Get("X-Api-Key")}
			if cred.APIKey == "" {
				username, password, ok := r.BasicAuth()
				if !ok {
					metrics.RecordAuthFailure()
					httpx.RespondError(w, fmt.Errorf("%w: no credential supplied", shared.ErrAuthenticationFailed))
					return
				}
				cred.Username = identity.NormalizeUsername(username)
				cred.Password = password
			}

			userContext := r.Header.Get("X-User-Context")
			if userContext == "" {
				userContext = r.URL.Query().Get("user_context")
			}
			if userContext != "" {
				userContext = identity.NormalizeUsername(userContext)
			}

			actx, err := resolver.Resolve(r.Context(), cred, userContext)
			if err != nil {
				metrics.RecordAuthFailure()
				logger.Info("authentication rejected",
					slog.String("path", r.URL.Path),
					slog.String("kind", shared.ErrorKind(err)))
				httpx.RespondError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.ContextWithAuth(r.Context(), actx)))
		})
	}
}

// RequireCapability gates a route behind the capability matching its
// operation name. Administrators pass every gate.
func RequireCapability(op string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actx, ok := identity.AuthFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrAuthenticationFailed)
				return
			}
			if !actx.Allows(op) {
				httpx.RespondError(w, fmt.Errorf("%w: %s requires the %q capability", shared.ErrPermissionDenied, r.URL.Path, op))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

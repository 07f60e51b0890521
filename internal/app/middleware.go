package app

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/stratafin/stratafin/internal/observability"
	"github.com/stratafin/stratafin/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	Audit   *shared.AuditLogger
}

// MiddlewareStack installs the default middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	rateLimit := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		rateLimit = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		ActorMiddleware,
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	if cfg.Audit != nil {
		middlewares = append(middlewares, AuditMiddleware(cfg.Audit, cfg.Logger))
	}
	return middlewares
}

// AuditMiddleware records every successful mutating request into audit_logs.
// The write happens after the response and never blocks or fails it.
func AuditMiddleware(audit *shared.AuditLogger, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() >= http.StatusBadRequest {
				return
			}

			actor := shared.ActorFromContext(r.Context())
			entry := shared.AuditLog{
				ActorID:  actor.UserID,
				SiteID:   actor.SiteID,
				Action:   r.Method,
				Entity:   "http_request",
				EntityID: r.URL.Path,
				Meta:     map[string]any{"status": ww.Status()},
				At:       time.Now(),
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := audit.Record(ctx, entry); err != nil {
					logger.Warn("audit record failed", slog.Any("error", err))
				}
			}()
		})
	}
}

// ActorMiddleware lifts the authenticated caller's identity, resolved by the
// gateway in front of this service, out of trusted headers and into context
// for audit stamping and site scoping.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := shared.Actor{}
		if v := r.Header.Get("X-User-ID"); v != "" {
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				actor.UserID = id
			}
		}
		if v := r.Header.Get("X-Site-ID"); v != "" {
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				actor.SiteID = id
			}
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

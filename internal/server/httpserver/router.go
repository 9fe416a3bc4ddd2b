package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/dtnmesh-go/internal/core/service"
	"github.com/yndnr/dtnmesh-go/internal/server/httpserver/handler"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Engine *service.Engine
	Logger *slog.Logger

	// AdminToken is required as a bearer token on /admin and /metrics when
	// set.
	AdminToken string

	// AllowList is the IP/CIDR allowlist for the admin API (empty = no restriction).
	AllowList []string

	// RateLimit is requests per second per client IP; 0 disables it.
	RateLimit float64
	RateBurst int

	// EnableAudit enables audit logging for all requests.
	EnableAudit bool
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		RateLimit:   50,
		RateBurst:   20,
		EnableAudit: true,
	}
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	h := handler.New(cfg.Engine, logger)

	mux := http.NewServeMux()

	// Health endpoints - no authentication required
	mux.Handle("GET /health", h)
	mux.Handle("GET /ready", h)

	mux.Handle("GET /metrics", Chain(cfg.Engine.Metrics().Handler(), AdminAuth(cfg.AdminToken)))

	admin := []Middleware{NetworkACL(cfg.AllowList, logger)}
	if cfg.RateLimit > 0 {
		admin = append(admin, RateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	admin = append(admin, AdminAuth(cfg.AdminToken))
	mux.Handle("/admin/", Chain(h, admin...))

	outer := []Middleware{Recover(logger), RequestID()}
	if cfg.EnableAudit {
		outer = append(outer, Audit(logger, cfg.Engine.Metrics()))
	}
	return Chain(mux, outer...)
}

package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/instant-chat/instant/internal/bus"
	"github.com/instant-chat/instant/internal/config"
	"github.com/instant-chat/instant/internal/cookiecodec"
	"github.com/instant-chat/instant/internal/distributor"
	"github.com/instant-chat/instant/internal/health"
	"github.com/instant-chat/instant/internal/hooks"
	"github.com/instant-chat/instant/internal/idallocator"
	"github.com/instant-chat/instant/internal/middleware"
	"github.com/instant-chat/instant/internal/ratelimit"
	"github.com/instant-chat/instant/internal/room"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// Server bundles the gin engine (request pipeline) with the
// Hub that performs WebSocket upgrades, so main can drive the HTTP listener
// and the graceful-shutdown broadcast from one place.
type Server struct {
	Engine *gin.Engine
	Hub    *Hub
}

// Deps collects the already-constructed process singletons a Server is
// assembled from.
type Deps struct {
	Config       *config.Config
	Codec        *cookiecodec.Codec
	Group        *room.Group
	Distributor  *distributor.Distributor
	Allocator    *idallocator.Allocator
	RateLimiter  *ratelimit.RateLimiter
	RedisService *bus.Service
	TracerName   string
	AccessLogger *zap.Logger
}

// New assembles the full request pipeline: middleware stack, hook registry,
// and ambient endpoints (/metrics, /healthz,
// /readyz).
func New(d Deps) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	origins := dedupedOrigins(d.Config.AllowedOrigins)
	if len(origins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	corsCfg.AllowCredentials = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "X-Correlation-ID")
	corsCfg.AllowWebSockets = true
	engine.Use(cors.New(corsCfg))

	engine.Use(middleware.CorrelationID())

	if d.AccessLogger != nil {
		engine.Use(middleware.AccessLog(d.AccessLogger))
	}

	if d.TracerName != "" {
		engine.Use(otelgin.Middleware(d.TracerName))
	}

	engine.Use(IdentityCookie(d.Codec, d.Config.CookiesInsecure))

	hub := NewHub(d.Group, d.Distributor, d.Allocator, d.RateLimiter, origins)

	registry := buildRegistry(d.Config, hub)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(d.RedisService)
	engine.GET("/healthz", healthHandler.Liveness)
	engine.GET("/readyz", healthHandler.Readiness)

	engine.NoRoute(func(c *gin.Context) {
		registry.Dispatch(c)
	})

	return &Server{Engine: engine, Hub: hub}
}

// buildRegistry wires the hook chain in the default order:
// static-file/alias hook → redirect hook → API-WS hook → room-WS hook → 404.
func buildRegistry(cfg *config.Config, hub *Hub) *hooks.Registry {
	cacheTTL := time.Duration(cfg.ProducerCacheTTL) * time.Second
	pipeline := buildProducerPipeline(cfg.Webroot, cacheTTL)

	redirects := []hooks.RedirectRule{
		{Pattern: roomBareRule, Template: `/room/\1/`, Code: http.StatusMovedPermanently},
	}

	return hooks.NewRegistry(
		&hooks.StaticFileHook{Pipeline: pipeline},
		&hooks.RedirectHook{Rules: redirects},
		&hooks.WSAPIHook{Hub: hub},
		&hooks.WSRoomHook{Hub: hub},
		hooks.NotFoundHook{},
	)
}

// dedupedOrigins parses a comma-separated origin list into a deduplicated,
// order-stable slice; an empty input means "no restriction" (CORS/WS origin
// checks both treat that as allow-all).
func dedupedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	seen := set.New[string]()
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen.Has(p) {
			continue
		}
		seen.Insert(p)
		out = append(out, p)
	}
	return out
}

// Shutdown performs the ordered graceful shutdown: stop
// accepting new connections is the caller's job (http.Server.Shutdown),
// this broadcasts close(1001) to every live client and waits up to grace.
func (s *Server) Shutdown(ctx context.Context, grace time.Duration) {
	_ = ctx
	s.Hub.Shutdown(grace)
}

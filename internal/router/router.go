package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/barrysci/stationtest-backend/internal/config"
	"github.com/barrysci/stationtest-backend/internal/handler"
	"github.com/barrysci/stationtest-backend/internal/identity"
	"github.com/barrysci/stationtest-backend/internal/middleware"
	"github.com/barrysci/stationtest-backend/internal/response"
)

// Handlers groups all handler instances for route setup. Results is nil when
// the journal database is not configured; its routes are skipped then.
type Handlers struct {
	Catalog *handler.CatalogHandler
	Session *handler.SessionHandler
	Image   *handler.ImageHandler
	Results *handler.ResultsHandler
	WS      *handler.WSHandler
	Health  *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	resolver *identity.Resolver,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", handlers.Health.Health)

	resolve := middleware.ResolveIdentity(resolver)

	// Begin is rate limited: it fans out up to MaxStations upstream probes
	// per call.
	beginLimiter := middleware.NewRateLimiter(10, time.Minute)

	// ─── 1. Catalog + Session (REST) ───────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(resolve)
	{
		api.GET("/tests", handlers.Catalog.ListTests)
		api.GET("/tests/:test/stations/:station", handlers.Catalog.GetStation)

		api.POST("/session/begin", beginLimiter.Middleware(), handlers.Session.Begin)

		api.GET("/tests/:test/session", handlers.Session.State)
		api.PUT("/tests/:test/session/answers", handlers.Session.Answer)
		api.POST("/tests/:test/session/marks", handlers.Session.ToggleMark)
		api.POST("/tests/:test/session/visits", handlers.Session.Visit)
		api.POST("/tests/:test/session/visibility", handlers.Session.Visibility)
		api.POST("/tests/:test/session/advance", handlers.Session.Advance)

		if handlers.Results != nil {
			api.GET("/tests/:test/results", handlers.Results.ListByTest)
		}
	}

	// ─── 2. Image proxy (rate limited, cacheable) ──────────────────────
	imageLimiter := middleware.NewRateLimiter(60, time.Minute)
	images := router.Group("/api/v1/image")
	images.Use(imageLimiter.Middleware(), middleware.CacheControl(86400))
	{
		images.GET("", handlers.Image.Fetch)
	}

	// ─── 3. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(resolve)
	{
		ws.GET("/tests/:test/stream", handlers.WS.SessionStream)
	}

	return router
}

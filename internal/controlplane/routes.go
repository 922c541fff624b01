package controlplane

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sloggin "github.com/samber/slog-gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"

	"github.com/pixrelay/pixrelay/internal/version"
)

type RouteConfig struct {
	Auth        TokenAuthConfig
	Metrics     bool
	CORSOrigins []string
}

func SetupRoutes(services *Services, routeConfig *RouteConfig) http.Handler {
	r := gin.New()

	// Progress pollers and the TUI burst well above human request
	// rates, so the window is generous. It exists to stop runaway
	// scripts, not to meter clients.
	rateLimitStore := memory.NewStore()
	rateLimiter := limiter.New(rateLimitStore, limiter.Rate{
		Period: 1 * time.Second,
		Limit:  50,
	})

	statusH := NewStatusHandler(services)
	backendsH := NewBackendsHandler(services)
	uploadsH := NewUploadsHandler(services)
	eventsH := NewEventsHandler(services)
	logsH := NewLogsHandler(services.LogPath)

	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(CORS(routeConfig.CORSOrigins))
	r.Use(Gzip())
	r.Use(mgin.NewMiddleware(rateLimiter))

	r.GET("/", IndexHandler)

	if routeConfig.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.Use(TokenAuth(routeConfig.Auth))
	{
		v1.GET("/status", statusH.Status)

		v1Backends := v1.Group("/backends")
		{
			v1Backends.GET("", backendsH.List)
			v1Backends.POST("/:id/test", backendsH.Test)
		}

		v1Uploads := v1.Group("/uploads")
		{
			v1Uploads.GET("", uploadsH.List)
			v1Uploads.POST("", uploadsH.Create)
			v1Uploads.GET("/:id", uploadsH.Get)
			v1Uploads.POST("/:id/retry", uploadsH.RetryAll)
			v1Uploads.POST("/:id/retry/:backend", uploadsH.RetryOne)
		}

		v1.GET("/events", eventsH.Stream)
		v1.GET("/logs", logsH.List)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":     version.AppName,
		"version": version.Detailed(),
	})
}

// RequestLogger routes gin access logs through slog so they land in the
// same stream as the rest of the daemon. The events socket is skipped,
// a long-lived stream would log once at close with a misleading
// duration.
func RequestLogger() gin.HandlerFunc {
	httpLogger := slog.Default().WithGroup("http")
	return sloggin.NewWithConfig(httpLogger, sloggin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		Filters: []sloggin.Filter{
			sloggin.IgnorePath("/v1/events"),
		},
	})
}

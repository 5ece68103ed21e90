package endpoints

import (
	"errors"
	"net/http"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/endpoints/admin"
	"git.sr.ht/~aondrejcak/panel-credits/endpoints/payments"
	"git.sr.ht/~aondrejcak/panel-credits/kernel"
	"git.sr.ht/~aondrejcak/panel-credits/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter builds the HTTP surface: reseller payment routes behind
// X-Api-Key and admin recovery routes behind JWT.
func NewRouter(art *kernel.AppRuntime) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies([]string{}); err != nil {
		return nil, err
	}

	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("request panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "a panic occurred, request aborted",
		})
	}))

	if len(art.CorsAllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     art.CorsAllowOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization", "X-Api-Key"},
			ExposeHeaders:    []string{"Content-Length", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           7 * time.Hour * 24,
		}))
	}

	r.Use(otelgin.Middleware(art.ServiceName))
	r.Use(middleware.TracerMiddleware(art))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, &gin.Error{
			Err: errors.New("route not found"),
		})
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authorized := r.Group("/")
	authorized.Use(middleware.ApiKeyMiddleware())
	{
		payments.RegisterController(authorized)
	}

	admin.RegisterController(r, art)

	return r, nil
}

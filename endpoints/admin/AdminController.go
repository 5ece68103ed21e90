package admin

import (
	"git.sr.ht/~aondrejcak/panel-credits/kernel"
	"github.com/gin-gonic/gin"
)

func RegisterController(rg *gin.Engine, art *kernel.AppRuntime) {
	g := rg.Group("/admin")
	g.POST("/login", art.JWT.LoginHandler)
	g.GET("/refresh_token", art.JWT.RefreshHandler)

	auth := g.Group("")
	auth.Use(art.JWT.MiddlewareFunc())
	{
		auth.POST("/payments/retry", RetryBatch)
		auth.POST("/payments/:id/retry", RetryPayment)
	}
}

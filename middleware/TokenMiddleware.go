package middleware

import (
	"errors"
	"net/http"

	"git.sr.ht/~aondrejcak/panel-credits/kernel"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"github.com/gin-gonic/gin"
)

// ApiKeyMiddleware authenticates resellers by their X-Api-Key.
func ApiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rt := c.MustGet("rt").(*kernel.RequestRuntime)

		rt.StepInto("middleware.api_key")

		apiKey := c.GetHeader("X-Api-Key")
		if apiKey == "" {
			rt.Ef(http.StatusUnauthorized, "unauthorized: no api key")
			return
		}

		reseller, err := rt.Store.ResellerByApiKeyHash(rt.Context(), kernel.ApiKeyHash(apiKey))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				rt.Ef(http.StatusUnauthorized, "unauthorized: invalid api key")
				return
			}

			rt.Ef(http.StatusInternalServerError, "failed to authorize reseller: could not query store: %s", err)
			return
		}

		rt.Reseller = reseller

		rt.End()
		c.Next()
	}
}

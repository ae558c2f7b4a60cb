package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sudooom.storefront/internal/health"
)

// SetupRouter 设置路由
func SetupRouter(mode string, checker *health.Checker, handler *Handler) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", gin.WrapH(checker))
	r.GET("/ready", func(c *gin.Context) {
		if checker.IsHealthy(c.Request.Context()) {
			c.String(http.StatusOK, "OK")
			return
		}
		c.String(http.StatusServiceUnavailable, "Not Ready")
	})

	v1 := r.Group("/v1")
	{
		v1.GET("/cart", handler.GetCart)
		v1.POST("/cart/reload", handler.ReloadCart)
		v1.GET("/conversations", handler.GetConversations)
		v1.GET("/thread", handler.GetThread)
		v1.GET("/badges", handler.GetBadges)
	}

	return r
}

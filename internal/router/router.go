package router

import (
	"context"
	"net/http"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker 依赖健康状态
type HealthChecker interface {
	GetHealthStatus(ctx context.Context) map[string]interface{}
}

func Setup(campaignHandler *handler.CampaignHandler, ledger HealthChecker) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "crowdfund-server",
			"solana":  ledger.GetHealthStatus(ctx),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API版本组
	v1 := r.Group("/api/v1")
	{
		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("", campaignHandler.CreateCampaign)
			campaigns.GET("/:id", campaignHandler.GetCampaign)
			campaigns.POST("/:id/contributions", campaignHandler.Contribute)
			campaigns.POST("/:id/launch", campaignHandler.Launch)
			campaigns.POST("/:id/transfer", campaignHandler.TransferAsset)
		}

		v1.POST("/contributors", campaignHandler.RegisterContributor)
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, "+handler.WalletHeader+", "+handler.SignatureHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

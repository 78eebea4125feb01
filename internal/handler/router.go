package handler

import (
	"cardpay/internal/acquirer"
	"cardpay/internal/gateway"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(orchestrator *gateway.Orchestrator, vault *gateway.Vault, processor *acquirer.Processor, webhooks *gateway.Dispatcher) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(orchestrator, vault, processor, webhooks)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 令牌相关
		api.POST("/tokens", h.CreateToken)

		// 支付单相关
		charges := api.Group("/charges")
		{
			charges.POST("", h.CreateCharge)
			charges.GET("", h.ListCharges)
			charges.GET("/:id", h.GetCharge)
		}

		// 授权相关
		authorizations := api.Group("/authorizations")
		{
			authorizations.GET("/:id", h.GetAuthorization)
			authorizations.POST("/:id/capture", h.CaptureAuthorization)
			authorizations.POST("/:id/void", h.VoidAuthorization)
		}

		// 商户相关
		merchants := api.Group("/merchants")
		{
			merchants.POST("", h.CreateMerchant)
			merchants.GET("/:id/balance", h.GetMerchantBalance)
		}

		// 清算相关
		api.POST("/settlement/batches", h.CreateSettlementBatch)

		// 回调端点相关
		api.POST("/webhooks/endpoints", h.RegisterWebhookEndpoint)
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}

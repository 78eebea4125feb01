package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cardpay/internal/acquirer"
	"cardpay/internal/config"
	"cardpay/internal/gateway"
	"cardpay/internal/handler"
	"cardpay/internal/idempotency"
	"cardpay/internal/issuer"
	"cardpay/internal/network"
	"cardpay/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	gen, err := idgen.NewSnowflake(1)
	if err != nil {
		log.Fatalf("ID 生成器初始化失败: %v", err)
	}

	// 发卡行账本 + 测试卡组合
	ledger := issuer.NewLedger(cfg.Issuer.BankName, cfg.Issuer)
	issuer.SeedTestAccounts(ledger)

	// 每个卡组织一个路由实例，费率按网络独立配置，发卡行注册到各网络
	networks := make(map[string]*network.Router)
	for networkType, netCfg := range cfg.Networks {
		router := network.NewRouter(networkType, netCfg, gen)
		router.RegisterIssuer(cfg.Issuer.BankName, ledger)
		networks[networkType] = router
	}

	// 收单行 + 演示商户
	processor := acquirer.NewProcessor(cfg.Acquirer.BankName, cfg.Acquirer, gen, networks)
	demoMerchant := processor.CreateMerchant("Demo Online Store", "5999")
	log.Printf("演示商户已创建: %s", demoMerchant.MerchantID)

	// 幂等执行器
	store := idempotency.NewStore(time.Duration(cfg.Idempotency.TTLHours) * time.Hour)
	guard := idempotency.NewGuard(store, time.Duration(cfg.Idempotency.WaitTimeoutSecs)*time.Second)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 令牌金库、风控、webhook 投递
	vault := gateway.NewVault(cfg.Payment, gen)
	fraud := gateway.NewDetector()
	webhooks := gateway.NewDispatcher(cfg.Webhook)
	webhooks.Start(ctx)

	// 支付编排器
	orchestrator := gateway.NewOrchestrator(cfg.Payment, gen, vault, fraud, processor, guard, webhooks)

	// 设置路由
	router := handler.SetupRouter(orchestrator, vault, processor, webhooks)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止 webhook 投递 worker
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}

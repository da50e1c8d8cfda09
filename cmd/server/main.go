package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/crowdfundme/crowdfund-server/internal/chain"
	"github.com/crowdfundme/crowdfund-server/internal/config"
	"github.com/crowdfundme/crowdfund-server/internal/handler"
	"github.com/crowdfundme/crowdfund-server/internal/issuance"
	"github.com/crowdfundme/crowdfund-server/internal/launch"
	"github.com/crowdfundme/crowdfund-server/internal/lock"
	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/crowdfundme/crowdfund-server/internal/logic"
	"github.com/crowdfundme/crowdfund-server/internal/queue"
	"github.com/crowdfundme/crowdfund-server/internal/repository"
	"github.com/crowdfundme/crowdfund-server/internal/retry"
	"github.com/crowdfundme/crowdfund-server/internal/router"
	"github.com/crowdfundme/crowdfund-server/internal/task"
	"github.com/crowdfundme/crowdfund-server/internal/verifier"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 加载配置
	cfg := config.Load()
	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatal("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储
	store, err := repository.Open(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 初始化Solana客户端
	ledger, err := chain.NewClient(cfg.Solana)
	if err != nil {
		logger.Fatal("Failed to initialize solana client: %v", err)
	}
	treasury, err := chain.ParsePrivateKey(cfg.Solana.TreasuryKey)
	if err != nil {
		logger.Fatal("Invalid solana.treasury_key: %v", err)
	}
	reserve := chain.NewReserveEstimator(ledger, cfg.Solana.FeeMultiplier, cfg.Solana.FallbackReserve)
	payments := verifier.New(ledger, retry.Fixed(cfg.Solana.VerifyAttempts, config.Millis(cfg.Solana.VerifyInterval)))

	// 准入队列
	admission, err := queue.New(cfg.Queue.Size)
	if err != nil {
		logger.Fatal("Failed to create admission queue: %v", err)
	}

	// 活动锁，启用 redis 时跨实例生效
	var (
		locker      lock.Locker = lock.NewLocal()
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = lock.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect redis: %v", err)
		}
		locker = lock.NewRedis(redisClient, config.Seconds(cfg.Redis.LockTTL))
	}

	// 发币流程
	launchSettings, err := launch.SettingsFromConfig(cfg)
	if err != nil {
		logger.Fatal("Invalid launch config: %v", err)
	}
	orchestrator := launch.New(store.Campaigns, ledger, issuance.New(cfg.Issuance), reserve, treasury.PublicKey(), launchSettings)

	campaignSettings, err := logic.SettingsFromConfig(cfg)
	if err != nil {
		logger.Fatal("Invalid campaign config: %v", err)
	}
	campaignLogic := logic.NewCampaignLogic(logic.Deps{
		Store:    store,
		Ledger:   ledger,
		Verifier: payments,
		Queue:    admission,
		Locker:   locker,
		Reserve:  reserve,
		Launcher: orchestrator,
		Treasury: treasury,
	}, campaignSettings)

	// 启动定时任务
	tasks, err := task.NewManager(store.Campaigns, orchestrator, campaignLogic, cfg)
	if err != nil {
		logger.Fatal("Failed to create scheduler: %v", err)
	}
	tasks.Start()

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(handler.NewCampaignHandler(campaignLogic), ledger)
	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: r}

	// 启动服务器
	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	timeout := config.Seconds(cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown: %v", err)
	}
	tasks.Stop(timeout)
	if err := admission.Shutdown(timeout); err != nil {
		logger.Error("Admission queue shutdown: %v", err)
	}
	// 中断的发币保持 pending，重启后由巡检任务继续
	if err := orchestrator.Stop(timeout); err != nil {
		logger.Error("%v", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close: %v", err)
		}
	}
	if err := ledger.Close(); err != nil {
		logger.Error("Solana client close: %v", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("Database close: %v", err)
	}
	logger.Info("Server exited")
}

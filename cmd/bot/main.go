package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/opentrade/opentrade/internal/agents"
	"github.com/opentrade/opentrade/internal/audit"
	"github.com/opentrade/opentrade/internal/coordinator"
	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/internal/events"
	"github.com/opentrade/opentrade/internal/exchange"
	"github.com/opentrade/opentrade/internal/execution"
	"github.com/opentrade/opentrade/internal/ledger"
	"github.com/opentrade/opentrade/internal/marketdata"
	"github.com/opentrade/opentrade/internal/ops"
	"github.com/opentrade/opentrade/internal/risk"
	"github.com/opentrade/opentrade/internal/services"
	"github.com/opentrade/opentrade/pkg/config"
	"github.com/opentrade/opentrade/pkg/logger"
	"github.com/opentrade/opentrade/pkg/persistence"
	"github.com/opentrade/opentrade/pkg/shutdown"
	"github.com/opentrade/opentrade/pkg/syncgroup"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（YAML，留空使用内置默认值）")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}
	logrus.Infof("🤖 opentrade 启动 symbol=%s venue=%s", cfg.Symbol, cfg.Exchange.Venue)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	equity := decimal.NewFromFloat(cfg.InitialEquity)
	bus := events.NewBus()
	book := domain.NewPositionBook(equity)

	// 熔断状态跨重启持久化，进程拉起后冻结/熔断不会凭空消失
	persistSvc := persistence.NewJSONFileService(cfg.Breaker.StateDir)
	breaker, err := risk.NewBreaker(cfg.Breaker, cfg.Risk.MaxDailyLossPct, equity, persistSvc, bus)
	if err != nil {
		logrus.Fatalf("创建熔断器失败: %v", err)
	}
	if tier := breaker.Tier(); tier != risk.TierNormal {
		logrus.Warnf("⚠️ 熔断器从快照恢复为 %s，需人工确认后解除", tier)
	}

	md := marketdata.NewService(cfg.Symbol)
	registry := agents.NewRegistry(
		agents.NewMarketAgent(),
		agents.NewStrategyAgent(nil),
		agents.NewRiskAgent(cfg.Risk, book),
		agents.NewOnChainAgent(),
		agents.NewSentimentAgent(),
		agents.NewMacroAgent(),
	)
	coord := coordinator.New(cfg.Coordinator, cfg.Symbol, cfg.StrategyID, registry, md, bus)
	gate := risk.NewGate(cfg.Risk)

	orderLedger, err := ledger.OpenBadger(cfg.LedgerDir)
	if err != nil {
		logrus.Fatalf("打开订单台账失败: %v", err)
	}

	venue, err := exchange.New(cfg.Exchange)
	if err != nil {
		logrus.Fatalf("初始化交易所失败: %v", err)
	}

	engine := execution.NewEngine(cfg.Execution, cfg.AccountID, venue, orderLedger, book, breaker, bus)
	reconciler := execution.NewReconciler(cfg.Execution, venue, orderLedger, book, breaker, bus)

	// 崩溃恢复：台账里的未终态订单逐一接管，以交易所状态为准
	if open, err := orderLedger.Open(); err != nil {
		logrus.Errorf("扫描台账失败: %v", err)
	} else {
		for _, o := range open {
			logrus.Warnf("🔁 接管未终态订单 %s (%s)", o.ClientOrderID, o.Status)
			if _, err := engine.Resume(ctx, o); err != nil {
				logrus.Errorf("接管订单 %s 失败: %v", o.ClientOrderID, err)
			}
		}
	}

	auditLog, err := audit.Open(cfg.AuditDB)
	if err != nil {
		logrus.Fatalf("打开审计库失败: %v", err)
	}

	opsServer := ops.NewServer(breaker, book, bus, auditLog)
	if err := opsServer.Start(cfg.OpsListen); err != nil {
		logrus.Fatalf("启动运维服务失败: %v", err)
	}

	controller := services.NewController(cfg, coord, gate, breaker, engine, book, md, auditLog, bus)

	sg := syncgroup.NewSyncGroup()
	if cfg.MarketData.WSURL != "" {
		feed := marketdata.NewFeed(cfg.MarketData.WSURL, md)
		sg.Add(func() { feed.Run(ctx) })
	} else {
		logrus.Warn("未配置行情 ws_url，依赖外部喂入 K 线")
	}
	sg.Add(func() { reconciler.Run(ctx) })
	sg.Add(func() { controller.Run(ctx) })
	sg.Run()

	// wg.Done() 由 Manager 统一处理，回调里不要再调
	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
		if err := opsServer.Stop(ctx); err != nil {
			logrus.Errorf("停止运维服务失败: %v", err)
		}
	})
	mgr.OnShutdown(func(_ context.Context, _ *sync.WaitGroup) {
		if err := auditLog.Close(); err != nil {
			logrus.Errorf("关闭审计库失败: %v", err)
		}
	})
	mgr.OnShutdown(func(_ context.Context, _ *sync.WaitGroup) {
		if err := orderLedger.Close(); err != nil {
			logrus.Errorf("关闭订单台账失败: %v", err)
		}
	})

	<-ctx.Done()
	logrus.Info("收到退出信号，开始优雅关闭")

	sg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)
	logrus.Info("👋 opentrade 已退出")
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AgentWeights 各分析 Agent 的投票权重
// 权重不要求归一化，融合时按胜出方向的聚合权重再归一。
type AgentWeights struct {
	Market    float64 `yaml:"market"`
	Strategy  float64 `yaml:"strategy"`
	Risk      float64 `yaml:"risk"`
	OnChain   float64 `yaml:"onchain"`
	Sentiment float64 `yaml:"sentiment"`
	Macro     float64 `yaml:"macro"`
}

// CoordinatorConfig 决策协调器配置
type CoordinatorConfig struct {
	IntervalSec     int          `yaml:"interval_sec"`      // 评估周期（秒），默认60
	CycleTimeoutSec int          `yaml:"cycle_timeout_sec"` // 单轮评估总超时（秒），默认5
	AgentTimeoutSec int          `yaml:"agent_timeout_sec"` // 单个 Agent 超时（秒），默认3
	Weights         AgentWeights `yaml:"weights"`
}

// RiskConfig 风控硬边界配置（进程生命周期内不可变）
type RiskConfig struct {
	MaxPositionPct   float64 `yaml:"max_position_pct"`   // 单笔最大仓位占比，默认0.10
	MaxLeverage      float64 `yaml:"max_leverage"`       // 最大杠杆，默认3.0
	MaxDailyLossPct  float64 `yaml:"max_daily_loss_pct"` // 账户单日最大亏损占比，默认0.05
	MaxOpenPositions int     `yaml:"max_open_positions"` // 最大持仓数，默认3
	StopLossPct      float64 `yaml:"stop_loss_pct"`      // 止损比例，默认0.02
	TakeProfitPct    float64 `yaml:"take_profit_pct"`    // 止盈比例，默认0.04
}

// BreakerConfig 熔断配置
type BreakerConfig struct {
	StrategyMaxDailyLossPct float64 `yaml:"strategy_max_daily_loss_pct"` // 单策略单日最大亏损占比，默认0.05
	MaxConsecutiveLosses    int     `yaml:"max_consecutive_losses"`      // 单策略最大连续亏损次数，默认5
	VolatilityHaltPct       float64 `yaml:"volatility_halt_pct"`         // 市场波动率系统熔断阈值，默认0.20
	Timezone                string  `yaml:"timezone"`                    // 交易日边界时区，默认UTC
	StateDir                string  `yaml:"state_dir"`                   // 熔断状态快照目录
}

// ExecutionConfig 执行引擎配置
type ExecutionConfig struct {
	SubmitTimeoutSec  int `yaml:"submit_timeout_sec"`  // 单次提交超时（秒），默认30
	MaxAttempts       int `yaml:"max_attempts"`        // 提交最大尝试次数，默认3
	BackoffBaseMs     int `yaml:"backoff_base_ms"`     // 重试退避基数（毫秒），默认500
	PollIntervalMs    int `yaml:"poll_interval_ms"`    // 订单状态轮询间隔（毫秒），默认1000
	PollTimeoutSec    int `yaml:"poll_timeout_sec"`    // 轮询放弃时间（秒），默认60，超时交给对账
	ReconcileSec      int `yaml:"reconcile_sec"`       // 对账周期（秒），默认30
	ReconcileGraceSec int `yaml:"reconcile_grace_sec"` // 对账宽限窗口（秒），默认60
}

// ExchangeConfig 交易所接入配置
type ExchangeConfig struct {
	Venue     string `yaml:"venue"`      // paper / rest
	BaseURL   string `yaml:"base_url"`   // rest venue 的 API 地址
	APIKey    string `yaml:"api_key"`    // 可用环境变量 OPENTRADE_API_KEY 覆盖
	APISecret string `yaml:"api_secret"` // 可用环境变量 OPENTRADE_API_SECRET 覆盖
	RateLimit int    `yaml:"rate_limit"` // 每秒请求上限，默认8
}

// MarketDataConfig 行情接入配置
type MarketDataConfig struct {
	WSURL string `yaml:"ws_url"` // 行情 WebSocket 地址（可选，空则不启动行情流）
}

// Config 应用配置
type Config struct {
	Symbol        string            `yaml:"symbol"`         // 交易标的，例如 BTC/USDT
	AccountID     string            `yaml:"account_id"`     // 账户标识（执行串行化的粒度）
	StrategyID    string            `yaml:"strategy_id"`    // 策略标识（策略级熔断的粒度）
	InitialEquity float64           `yaml:"initial_equity"` // 账户初始权益（记账与熔断基线）
	Coordinator   CoordinatorConfig `yaml:"coordinator"`
	Risk          RiskConfig        `yaml:"risk"`
	Breaker       BreakerConfig     `yaml:"breaker"`
	Execution     ExecutionConfig   `yaml:"execution"`
	Exchange      ExchangeConfig    `yaml:"exchange"`
	MarketData    MarketDataConfig  `yaml:"marketdata"`
	LedgerDir     string            `yaml:"ledger_dir"` // 订单台账（badger）目录
	AuditDB       string            `yaml:"audit_db"`   // 风控审计库（sqlite）路径
	OpsListen     string            `yaml:"ops_listen"` // 运维服务监听地址，默认 :8391
	LogLevel      string            `yaml:"log_level"`
	LogFile       string            `yaml:"log_file"`
}

// Load 从 YAML 文件加载配置，并用 .env / 环境变量覆盖敏感项
func Load(path string) (*Config, error) {
	// .env 不存在不算错误（生产环境直接用环境变量）
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", path, err)
		}
	}

	if v := os.Getenv("OPENTRADE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("OPENTRADE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Symbol:        "BTC/USDT",
		AccountID:     "main",
		StrategyID:    "coordinator",
		InitialEquity: 10000,
		Coordinator: CoordinatorConfig{
			IntervalSec:     60,
			CycleTimeoutSec: 5,
			AgentTimeoutSec: 3,
			// 权重沿用协调器的默认分配：行情与风控各占大头
			Weights: AgentWeights{
				Market:    0.25,
				Strategy:  0.20,
				Risk:      0.25,
				OnChain:   0.10,
				Sentiment: 0.10,
				Macro:     0.10,
			},
		},
		Risk: RiskConfig{
			MaxPositionPct:   0.10,
			MaxLeverage:      3.0,
			MaxDailyLossPct:  0.05,
			MaxOpenPositions: 3,
			StopLossPct:      0.02,
			TakeProfitPct:    0.04,
		},
		Breaker: BreakerConfig{
			StrategyMaxDailyLossPct: 0.05,
			MaxConsecutiveLosses:    5,
			VolatilityHaltPct:       0.20,
			Timezone:                "UTC",
			StateDir:                "data/state",
		},
		Execution: ExecutionConfig{
			SubmitTimeoutSec:  30,
			MaxAttempts:       3,
			BackoffBaseMs:     500,
			PollIntervalMs:    1000,
			PollTimeoutSec:    60,
			ReconcileSec:      30,
			ReconcileGraceSec: 60,
		},
		Exchange: ExchangeConfig{
			Venue:     "paper",
			RateLimit: 8,
		},
		LedgerDir: "data/ledger",
		AuditDB:   "data/audit.db",
		OpsListen: ":8391",
		LogLevel:  "info",
		LogFile:   "logs/opentrade.log",
	}
}

func (c *Config) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	if c.AccountID == "" {
		return fmt.Errorf("account_id 不能为空")
	}
	if c.InitialEquity <= 0 {
		return fmt.Errorf("initial_equity 必须为正数: %v", c.InitialEquity)
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		return fmt.Errorf("max_position_pct 必须在 (0,1] 区间: %v", c.Risk.MaxPositionPct)
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 1 {
		return fmt.Errorf("max_daily_loss_pct 必须在 (0,1] 区间: %v", c.Risk.MaxDailyLossPct)
	}
	if c.Exchange.Venue != "paper" && c.Exchange.Venue != "rest" {
		return fmt.Errorf("不支持的 venue: %s", c.Exchange.Venue)
	}
	if c.Exchange.Venue == "rest" && c.Exchange.BaseURL == "" {
		return fmt.Errorf("rest venue 需要配置 base_url")
	}
	if _, err := time.LoadLocation(c.Breaker.Timezone); err != nil {
		return fmt.Errorf("无效的时区 %s: %w", c.Breaker.Timezone, err)
	}
	return nil
}

// Interval 评估周期
func (c *CoordinatorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// CycleTimeout 单轮评估总超时
func (c *CoordinatorConfig) CycleTimeout() time.Duration {
	return time.Duration(c.CycleTimeoutSec) * time.Second
}

// AgentTimeout 单个 Agent 超时
func (c *CoordinatorConfig) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSec) * time.Second
}

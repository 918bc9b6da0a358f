package risk

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/opentrade/opentrade/internal/events"
	"github.com/opentrade/opentrade/pkg/config"
	"github.com/opentrade/opentrade/pkg/logger"
	"github.com/opentrade/opentrade/pkg/persistence"
)

// Tier 熔断层级
type Tier string

const (
	TierNormal         Tier = "normal"
	TierStrategyPaused Tier = "strategy_paused" // 有策略被暂停，账户仍可交易
	TierAccountFrozen  Tier = "account_frozen"  // 账户冻结，仅限手动恢复
	TierSystemHalted   Tier = "system_halted"   // 全局熔断，仅限手动恢复
)

// tierRank 层级严重程度，自动转换只升不降
func tierRank(t Tier) int {
	switch t {
	case TierNormal:
		return 0
	case TierStrategyPaused:
		return 1
	case TierAccountFrozen:
		return 2
	case TierSystemHalted:
		return 3
	}
	return 0
}

// BreakerView 熔断状态的只读视图，供风控闸门校验
type BreakerView struct {
	Tier             Tier
	PausedStrategies map[string]bool
}

// Paused 指定策略是否被暂停
func (v BreakerView) Paused(strategyID string) bool {
	return v.PausedStrategies[strategyID]
}

// ErrManualOnly 自动路径尝试解除需要人工确认的层级
var ErrManualOnly = errors.New("该层级只能由运维手动解除")

// breakerSnapshot 落盘的熔断状态
type breakerSnapshot struct {
	Tier           Tier                       `json:"tier"`
	DayKey         string                     `json:"day_key"`
	DayStartEquity decimal.Decimal            `json:"day_start_equity"`
	AccountPnL     decimal.Decimal            `json:"account_pnl"`
	StrategyPnL    map[string]decimal.Decimal `json:"strategy_pnl"`
	ConsecLosses   map[string]int             `json:"consec_losses"`
	Paused         map[string]string          `json:"paused"`
	HaltReason     string                     `json:"halt_reason,omitempty"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// Breaker 多级熔断状态机
//
// 层级递进：Normal → StrategyPaused → AccountFrozen → SystemHalted。
// 收紧是自动的，放松不是：AccountFrozen 和 SystemHalted 只能由
// 运维手动解除；StrategyPaused 在交易日切换时自动清除。
// 所有转换在锁内完成，两笔并发结算不会各自读到过期层级。
type Breaker struct {
	cfg             config.BreakerConfig
	maxDailyLossPct float64 // 账户级日亏上限
	loc             *time.Location
	store           persistence.Store
	bus             *events.Bus
	log             *logrus.Entry

	mu             sync.Mutex
	tier           Tier
	dayKey         string
	dayStartEquity decimal.Decimal
	accountPnL     decimal.Decimal
	strategyPnL    map[string]decimal.Decimal
	consecLosses   map[string]int
	paused         map[string]string // strategyID -> 暂停原因
	haltReason     string

	now func() time.Time // 测试注入
}

// NewBreaker 创建熔断状态机
// 启动时尝试恢复上次落盘的状态（冻结/熔断跨重启保持）。
func NewBreaker(cfg config.BreakerConfig, maxDailyLossPct float64, dayStartEquity decimal.Decimal, svc persistence.Service, bus *events.Bus) (*Breaker, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	b := &Breaker{
		cfg:             cfg,
		maxDailyLossPct: maxDailyLossPct,
		loc:             loc,
		bus:             bus,
		log:             logger.WithField("module", "breaker"),
		tier:            TierNormal,
		dayStartEquity:  dayStartEquity,
		strategyPnL:     make(map[string]decimal.Decimal),
		consecLosses:    make(map[string]int),
		paused:          make(map[string]string),
		now:             time.Now,
	}
	if svc != nil {
		b.store = svc.NewStore("state", "risk", "circuit_breaker")
		b.restore()
	}
	b.mu.Lock()
	b.rollDayLocked()
	b.mu.Unlock()
	return b, nil
}

func (b *Breaker) restore() {
	var snap breakerSnapshot
	if err := b.store.Load(&snap); err != nil {
		if !errors.Is(err, persistence.ErrNotExists) {
			b.log.Warnf("⚠️ 熔断状态恢复失败: %v", err)
		}
		return
	}
	b.tier = snap.Tier
	b.dayKey = snap.DayKey
	if snap.DayStartEquity.IsPositive() {
		b.dayStartEquity = snap.DayStartEquity
	}
	b.accountPnL = snap.AccountPnL
	if snap.StrategyPnL != nil {
		b.strategyPnL = snap.StrategyPnL
	}
	if snap.ConsecLosses != nil {
		b.consecLosses = snap.ConsecLosses
	}
	if snap.Paused != nil {
		b.paused = snap.Paused
	}
	b.haltReason = snap.HaltReason
	b.log.Infof("♻️ 熔断状态已恢复: tier=%s day=%s", b.tier, b.dayKey)
}

func (b *Breaker) persistLocked() {
	if b.store == nil {
		return
	}
	snap := breakerSnapshot{
		Tier:           b.tier,
		DayKey:         b.dayKey,
		DayStartEquity: b.dayStartEquity,
		AccountPnL:     b.accountPnL,
		StrategyPnL:    b.strategyPnL,
		ConsecLosses:   b.consecLosses,
		Paused:         b.paused,
		HaltReason:     b.haltReason,
		UpdatedAt:      b.now(),
	}
	if err := b.store.Save(snap); err != nil {
		b.log.Errorf("熔断状态落盘失败: %v", err)
	}
}

// rollDayLocked 交易日切换：清零当日统计，自动解除策略暂停。
// 冻结和系统熔断跨日保持，只认手动解除。
func (b *Breaker) rollDayLocked() {
	key := b.now().In(b.loc).Format("20060102")
	if key == b.dayKey {
		return
	}
	if b.dayKey != "" {
		b.log.Infof("📅 交易日切换 %s → %s，当日统计清零", b.dayKey, key)
	}
	b.dayKey = key
	// 权益基线滚动：把昨日盈亏并入
	b.dayStartEquity = b.dayStartEquity.Add(b.accountPnL)
	b.accountPnL = decimal.Zero
	b.strategyPnL = make(map[string]decimal.Decimal)
	b.consecLosses = make(map[string]int)
	if len(b.paused) > 0 {
		b.paused = make(map[string]string)
		if b.tier == TierStrategyPaused {
			b.setTierLocked(TierNormal, "交易日切换，策略暂停自动解除")
		}
	}
	b.persistLocked()
}

func (b *Breaker) setTierLocked(next Tier, reason string) {
	if next == b.tier {
		return
	}
	prev := b.tier
	b.tier = next
	if next == TierSystemHalted || next == TierAccountFrozen {
		b.haltReason = reason
	}
	b.log.Warnf("🚨 熔断层级 %s → %s: %s", prev, next, reason)
	if b.bus != nil {
		b.bus.Publish(events.Event{
			Type:     events.TypeTierChange,
			Tier:     string(next),
			PrevTier: string(prev),
			Detail:   reason,
		})
	}
}

// escalateLocked 自动转换只升不降
func (b *Breaker) escalateLocked(next Tier, reason string) {
	if tierRank(next) > tierRank(b.tier) {
		b.setTierLocked(next, reason)
	}
}

// ReportTrade 结算一笔已平仓交易（实现 ports.TradeReporter）
// pnl 为实现盈亏，亏损为负。转换在锁内原子完成。
func (b *Breaker) ReportTrade(strategyID string, pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()

	delta := decimal.NewFromFloat(pnl)
	b.accountPnL = b.accountPnL.Add(delta)
	b.strategyPnL[strategyID] = b.strategyPnL[strategyID].Add(delta)

	if pnl < 0 {
		b.consecLosses[strategyID]++
	} else if pnl > 0 {
		b.consecLosses[strategyID] = 0
	}

	b.evaluateLocked(strategyID)
	b.persistLocked()
}

// ReportFailure 记录一次非亏损失败（交易所拒单等）
// 与亏损交易区分开：不计入盈亏，也不计入连亏次数。
func (b *Breaker) ReportFailure(strategyID, reason string) {
	b.log.Warnf("⚠️ 策略 %s 非亏损失败: %s", strategyID, reason)
}

// ReportVolatility 波动率监控回报
// 达到系统级阈值时进入 SystemHalted，全策略全标的停止。
func (b *Breaker) ReportVolatility(pct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()

	if pct >= b.cfg.VolatilityHaltPct {
		b.escalateLocked(TierSystemHalted, "市场波动率超限")
		b.persistLocked()
	}
}

// evaluateLocked 按当日统计重算层级（只升不降）
func (b *Breaker) evaluateLocked(strategyID string) {
	if !b.dayStartEquity.IsPositive() {
		return
	}

	// 账户级日亏（恰好触及限额即冻结，边界算触发）
	lossPct, _ := b.accountPnL.Div(b.dayStartEquity).Float64()
	if lossPct <= -b.maxDailyLossPct {
		b.escalateLocked(TierAccountFrozen, "账户日亏触及限额")
		return
	}

	// 策略级：日亏或连亏
	strategyLossPct, _ := b.strategyPnL[strategyID].Div(b.dayStartEquity).Float64()
	if strategyLossPct <= -b.cfg.StrategyMaxDailyLossPct {
		b.pauseLocked(strategyID, "策略日亏触及限额")
		return
	}
	if b.consecLosses[strategyID] >= b.cfg.MaxConsecutiveLosses {
		b.pauseLocked(strategyID, "连续亏损达到上限")
	}
}

func (b *Breaker) pauseLocked(strategyID, reason string) {
	if _, ok := b.paused[strategyID]; ok {
		return
	}
	b.paused[strategyID] = reason
	b.log.Warnf("⏸️ 策略 %s 暂停: %s", strategyID, reason)
	b.escalateLocked(TierStrategyPaused, reason)
}

// View 当前状态只读视图（快照，不随后续转换变化）
func (b *Breaker) View() BreakerView {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()

	paused := make(map[string]bool, len(b.paused))
	for k := range b.paused {
		paused[k] = true
	}
	return BreakerView{Tier: b.tier, PausedStrategies: paused}
}

// Tier 当前层级
func (b *Breaker) Tier() Tier {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()
	return b.tier
}

// ResumeStrategy 手动恢复被暂停的策略
func (b *Breaker) ResumeStrategy(strategyID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.paused, strategyID)
	b.consecLosses[strategyID] = 0
	if len(b.paused) == 0 && b.tier == TierStrategyPaused {
		b.setTierLocked(TierNormal, "运维手动恢复策略")
	}
	b.persistLocked()
}

// Unfreeze 运维手动解除账户冻结
func (b *Breaker) Unfreeze() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tier != TierAccountFrozen {
		return errors.New("当前不处于账户冻结状态")
	}
	next := TierNormal
	if len(b.paused) > 0 {
		next = TierStrategyPaused
	}
	b.haltReason = ""
	b.setTierLocked(next, "运维手动解除账户冻结")
	b.persistLocked()
	return nil
}

// LiftHalt 运维手动解除系统熔断
func (b *Breaker) LiftHalt() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tier != TierSystemHalted {
		return errors.New("当前不处于系统熔断状态")
	}
	next := TierNormal
	if len(b.paused) > 0 {
		next = TierStrategyPaused
	}
	b.haltReason = ""
	b.setTierLocked(next, "运维手动解除系统熔断")
	b.persistLocked()
	return nil
}

// Halt 运维手动触发系统熔断（紧急停止）
func (b *Breaker) Halt(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.escalateLocked(TierSystemHalted, reason)
	b.persistLocked()
}

// HaltReason 当前冻结/熔断原因
func (b *Breaker) HaltReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.haltReason
}

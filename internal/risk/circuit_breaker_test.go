package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opentrade/opentrade/internal/events"
	"github.com/opentrade/opentrade/pkg/config"
)

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		StrategyMaxDailyLossPct: 0.05,
		MaxConsecutiveLosses:    5,
		VolatilityHaltPct:       0.20,
		Timezone:                "UTC",
	}
}

func newTestBreaker(t *testing.T) *Breaker {
	t.Helper()
	b, err := NewBreaker(testBreakerConfig(), 0.05, decimal.NewFromInt(10000), nil, events.NewBus())
	if err != nil {
		t.Fatalf("创建熔断器失败: %v", err)
	}
	return b
}

func TestBreakerAccountFrozenOnExactBoundary(t *testing.T) {
	b := newTestBreaker(t)

	// 日亏恰好 5%（500 / 10000），边界必须触发冻结
	b.ReportTrade("s1", -500)

	if got := b.Tier(); got != TierAccountFrozen {
		t.Fatalf("日亏恰好触及限额应冻结账户，实际 %s", got)
	}
}

func TestBreakerStrategyPausedOnConsecutiveLosses(t *testing.T) {
	b := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.ReportTrade("s1", -10)
	}

	view := b.View()
	if !view.Paused("s1") {
		t.Fatalf("连亏 5 次应暂停策略")
	}
	if view.Tier != TierStrategyPaused {
		t.Fatalf("层级应为 strategy_paused，实际 %s", view.Tier)
	}
	// 其他策略不受影响
	if view.Paused("s2") {
		t.Fatalf("未触发的策略不应被暂停")
	}
}

func TestBreakerWinResetsLossStreak(t *testing.T) {
	b := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		b.ReportTrade("s1", -10)
	}
	b.ReportTrade("s1", 30) // 盈利重置连亏
	b.ReportTrade("s1", -10)

	if b.View().Paused("s1") {
		t.Fatalf("盈利后连亏计数应重置，策略不应被暂停")
	}
}

func TestBreakerStrategyDailyLoss(t *testing.T) {
	b := newTestBreaker(t)

	// 单策略日亏 4%，账户限额未到，策略限额（5%）也未到
	b.ReportTrade("s1", -400)
	if b.View().Paused("s1") {
		t.Fatalf("4%% 日亏不应暂停策略")
	}
	// 再亏到 4.9%：仍未到
	b.ReportTrade("s1", -90)
	if b.View().Paused("s1") {
		t.Fatalf("4.9%% 日亏不应暂停策略")
	}
}

func TestBreakerVolatilityHalt(t *testing.T) {
	b := newTestBreaker(t)

	b.ReportVolatility(0.15)
	if got := b.Tier(); got != TierNormal {
		t.Fatalf("未超阈值不应熔断，实际 %s", got)
	}

	b.ReportVolatility(0.20)
	if got := b.Tier(); got != TierSystemHalted {
		t.Fatalf("波动率触及阈值应系统熔断，实际 %s", got)
	}
}

func TestBreakerManualRecoveryOnly(t *testing.T) {
	b := newTestBreaker(t)

	b.ReportTrade("s1", -500)
	if b.Tier() != TierAccountFrozen {
		t.Fatalf("前置条件失败")
	}

	// 后续盈利不会自动解冻
	b.ReportTrade("s1", 2000)
	if b.Tier() != TierAccountFrozen {
		t.Fatalf("盈利不应自动解冻账户")
	}

	if err := b.Unfreeze(); err != nil {
		t.Fatalf("手动解冻失败: %v", err)
	}
	if b.Tier() == TierAccountFrozen {
		t.Fatalf("手动解冻后不应仍处于冻结")
	}
}

func TestBreakerLiftHaltRequiresHalted(t *testing.T) {
	b := newTestBreaker(t)

	if err := b.LiftHalt(); err == nil {
		t.Fatalf("未熔断时解除应报错")
	}

	b.Halt("演练")
	if b.Tier() != TierSystemHalted {
		t.Fatalf("手动熔断失败")
	}
	if err := b.LiftHalt(); err != nil {
		t.Fatalf("手动解除熔断失败: %v", err)
	}
	if b.Tier() != TierNormal {
		t.Fatalf("解除后应回到 normal，实际 %s", b.Tier())
	}
}

// 两笔并发亏损结算不能各自读到过期层级：
// 转换在锁内完成，最终层级必须反映两笔的累计效果。
func TestBreakerConcurrentSettlement(t *testing.T) {
	b := newTestBreaker(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.ReportTrade("s1", -60) // 合计 -600，超过 5%
		}()
	}
	wg.Wait()

	if got := b.Tier(); got != TierAccountFrozen {
		t.Fatalf("并发结算累计超限应冻结，实际 %s", got)
	}
}

func TestBreakerDayRolloverClearsPause(t *testing.T) {
	b := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.ReportTrade("s1", -10)
	}
	if !b.View().Paused("s1") {
		t.Fatalf("前置条件失败")
	}

	// 模拟时钟跨过交易日边界
	b.mu.Lock()
	b.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	b.mu.Unlock()

	view := b.View()
	if view.Paused("s1") {
		t.Fatalf("交易日切换应自动解除策略暂停")
	}
	if view.Tier != TierNormal {
		t.Fatalf("切日后层级应回到 normal，实际 %s", view.Tier)
	}
}

func TestBreakerFrozenSurvivesRollover(t *testing.T) {
	b := newTestBreaker(t)

	b.ReportTrade("s1", -500)
	b.mu.Lock()
	b.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	b.mu.Unlock()

	// 冻结跨日保持，只认手动解除
	if got := b.Tier(); got != TierAccountFrozen {
		t.Fatalf("账户冻结不应随切日自动解除，实际 %s", got)
	}
}

func TestBreakerTierChangeEvents(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(8)
	b, err := NewBreaker(testBreakerConfig(), 0.05, decimal.NewFromInt(10000), nil, bus)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	b.ReportVolatility(0.25)

	select {
	case e := <-sub:
		if e.Type != events.TypeTierChange || e.Tier != string(TierSystemHalted) {
			t.Fatalf("应收到熔断事件，实际 %+v", e)
		}
	default:
		t.Fatalf("层级变化应发布事件")
	}
}

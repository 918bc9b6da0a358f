package risk

import (
	"testing"
	"testing/quick"

	"github.com/shopspring/decimal"

	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/pkg/config"
)

func testLimits() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPct:   0.10,
		MaxLeverage:      3.0,
		MaxDailyLossPct:  0.05,
		MaxOpenPositions: 3,
		StopLossPct:      0.02,
		TakeProfitPct:    0.04,
	}
}

func normalView() BreakerView {
	return BreakerView{Tier: TierNormal, PausedStrategies: map[string]bool{}}
}

func longDecision(size float64) *domain.Decision {
	return &domain.Decision{
		ID:         "d-1",
		Symbol:     "BTC/USDT",
		StrategyID: "s1",
		Direction:  domain.DirectionLong,
		Size:       size,
		Status:     domain.DecisionProposed,
	}
}

func TestGatePositionLimit(t *testing.T) {
	g := NewGate(testLimits())
	state := domain.AccountState{Equity: decimal.NewFromInt(10000)}
	price := decimal.NewFromInt(65000)

	// 0.15 超过 0.10 上限
	v := g.Validate(longDecision(0.15), state, normalView(), price)
	if v.Approved {
		t.Fatalf("仓位超限应拒绝")
	}
	if v.Reason != domain.RejectPositionLimit {
		t.Fatalf("拒绝原因应为 position_limit，实际 %s", v.Reason)
	}

	// 恰好 0.10 放行
	v = g.Validate(longDecision(0.10), state, normalView(), price)
	if !v.Approved {
		t.Fatalf("恰好触及上限应放行，实际拒绝: %s", v.Reason)
	}
	if !v.ApprovedSize.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("放行金额应为 1000，实际 %s", v.ApprovedSize)
	}
}

func TestGateCircuitOpenBlocksEverything(t *testing.T) {
	g := NewGate(testLimits())
	state := domain.AccountState{Equity: decimal.NewFromInt(10000)}
	price := decimal.NewFromInt(65000)

	for _, tier := range []Tier{TierAccountFrozen, TierSystemHalted} {
		view := BreakerView{Tier: tier, PausedStrategies: map[string]bool{}}
		v := g.Validate(longDecision(0.05), state, view, price)
		if v.Approved || v.Reason != domain.RejectCircuitOpen {
			t.Fatalf("tier=%s 应拒绝 circuit_open，实际 approved=%v reason=%s", tier, v.Approved, v.Reason)
		}
	}
}

func TestGateStrategyPaused(t *testing.T) {
	g := NewGate(testLimits())
	state := domain.AccountState{Equity: decimal.NewFromInt(10000)}
	view := BreakerView{Tier: TierStrategyPaused, PausedStrategies: map[string]bool{"s1": true}}

	v := g.Validate(longDecision(0.05), state, view, decimal.NewFromInt(65000))
	if v.Approved || v.Reason != domain.RejectStrategyPaused {
		t.Fatalf("被暂停策略应拒绝 strategy_paused，实际 %v/%s", v.Approved, v.Reason)
	}

	// 其他策略不受影响
	d := longDecision(0.05)
	d.StrategyID = "s2"
	v = g.Validate(d, state, view, decimal.NewFromInt(65000))
	if !v.Approved {
		t.Fatalf("未暂停的策略应放行，实际拒绝: %s", v.Reason)
	}
}

func TestGateLeverageLimit(t *testing.T) {
	g := NewGate(testLimits())
	// 已有敞口 2.95 倍权益，再加 0.10 会超过 3 倍
	state := domain.AccountState{
		Equity:   decimal.NewFromInt(10000),
		Exposure: decimal.NewFromInt(29500),
	}
	v := g.Validate(longDecision(0.10), state, normalView(), decimal.NewFromInt(65000))
	if v.Approved || v.Reason != domain.RejectLeverageLimit {
		t.Fatalf("隐含杠杆超限应拒绝 leverage_limit，实际 %v/%s", v.Approved, v.Reason)
	}
}

func TestGatePositionCount(t *testing.T) {
	g := NewGate(testLimits())
	state := domain.AccountState{
		Equity:        decimal.NewFromInt(10000),
		OpenPositions: 3,
	}
	v := g.Validate(longDecision(0.05), state, normalView(), decimal.NewFromInt(65000))
	if v.Approved || v.Reason != domain.RejectPositionCount {
		t.Fatalf("持仓数超限应拒绝 position_count，实际 %v/%s", v.Approved, v.Reason)
	}
}

func TestGateHoldAlwaysApproved(t *testing.T) {
	g := NewGate(testLimits())
	// 即使账户状态很差，hold 也放行（不下单）
	state := domain.AccountState{
		Equity:        decimal.NewFromInt(10000),
		Exposure:      decimal.NewFromInt(50000),
		OpenPositions: 5,
	}
	d := longDecision(0.5)
	d.Direction = domain.DirectionHold

	v := g.Validate(d, state, normalView(), decimal.NewFromInt(65000))
	if !v.Approved {
		t.Fatalf("hold 应放行，实际拒绝: %s", v.Reason)
	}
	if !v.ApprovedSize.IsZero() {
		t.Fatalf("hold 放行仓位应为 0，实际 %s", v.ApprovedSize)
	}
}

func TestGateStopsAttached(t *testing.T) {
	g := NewGate(testLimits())
	state := domain.AccountState{Equity: decimal.NewFromInt(10000)}
	price := decimal.NewFromInt(50000)

	v := g.Validate(longDecision(0.05), state, normalView(), price)
	if !v.Approved {
		t.Fatalf("应放行: %s", v.Reason)
	}
	// 多头：止损在下方，止盈在上方
	if !v.StopLoss.Equal(decimal.NewFromInt(49000)) {
		t.Fatalf("多头止损应为 49000，实际 %s", v.StopLoss)
	}
	if !v.TakeProfit.Equal(decimal.NewFromInt(52000)) {
		t.Fatalf("多头止盈应为 52000，实际 %s", v.TakeProfit)
	}

	d := longDecision(0.05)
	d.Direction = domain.DirectionShort
	v = g.Validate(d, state, normalView(), price)
	if !v.StopLoss.Equal(decimal.NewFromInt(51000)) {
		t.Fatalf("空头止损应为 51000，实际 %s", v.StopLoss)
	}
}

// 属性：相同输入永远得到相同裁决
func TestGateDeterminism(t *testing.T) {
	g := NewGate(testLimits())

	property := func(sizeMilli uint16, exposure uint32, positions uint8) bool {
		d := longDecision(float64(sizeMilli%1000) / 1000.0)
		state := domain.AccountState{
			Equity:        decimal.NewFromInt(10000),
			Exposure:      decimal.NewFromInt(int64(exposure % 100000)),
			OpenPositions: int(positions % 6),
		}
		price := decimal.NewFromInt(65000)

		first := g.Validate(d, state, normalView(), price)
		for i := 0; i < 3; i++ {
			again := g.Validate(d, state, normalView(), price)
			if again.Approved != first.Approved || again.Reason != first.Reason ||
				!again.ApprovedSize.Equal(first.ApprovedSize) {
				return false
			}
		}
		return true
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Fatalf("风控裁决不确定: %v", err)
	}
}

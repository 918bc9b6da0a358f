package risk

import (
	"github.com/shopspring/decimal"

	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/pkg/config"
)

// Gate 风控闸门
// Validate 是纯函数：相同输入必然得到相同裁决，便于审计重放。
type Gate struct {
	limits config.RiskConfig
}

// NewGate 创建风控闸门
func NewGate(limits config.RiskConfig) *Gate {
	return &Gate{limits: limits}
}

// Validate 校验决策
//
// 检查按固定顺序短路：熔断 → 策略暂停 → 仓位 → 杠杆 → 持仓数。
// 第一个触发的检查即为拒绝原因。hold 决策不产生订单，
// 在熔断检查之后直接放行（仓位 0）。
func (g *Gate) Validate(d *domain.Decision, state domain.AccountState, brk BreakerView, price decimal.Decimal) *domain.Verdict {
	// 1. 账户冻结 / 系统熔断挡住一切
	if brk.Tier == TierAccountFrozen || brk.Tier == TierSystemHalted {
		return &domain.Verdict{Reason: domain.RejectCircuitOpen}
	}

	// 2. 策略级暂停
	if brk.Paused(d.StrategyID) {
		return &domain.Verdict{Reason: domain.RejectStrategyPaused}
	}

	// hold 不下单，后续尺寸检查无意义
	if d.Direction == domain.DirectionHold {
		return &domain.Verdict{Approved: true, ApprovedSize: decimal.Zero}
	}

	equity := state.Equity
	requested := equity.Mul(decimal.NewFromFloat(d.Size))

	// 3. 单笔仓位上限
	maxPosition := equity.Mul(decimal.NewFromFloat(g.limits.MaxPositionPct))
	if requested.GreaterThan(maxPosition) {
		return &domain.Verdict{Reason: domain.RejectPositionLimit}
	}

	// 4. 隐含杠杆上限（现有敞口 + 新仓位）
	if equity.IsPositive() {
		implied := state.Exposure.Add(requested).Div(equity)
		if implied.GreaterThan(decimal.NewFromFloat(g.limits.MaxLeverage)) {
			return &domain.Verdict{Reason: domain.RejectLeverageLimit}
		}
	}

	// 5. 持仓数上限
	if state.OpenPositions+1 > g.limits.MaxOpenPositions {
		return &domain.Verdict{Reason: domain.RejectPositionCount}
	}

	v := &domain.Verdict{Approved: true, ApprovedSize: requested}
	g.attachStops(v, d.Direction, price)
	return v
}

// attachStops 放行的决策必须带止损止盈
func (g *Gate) attachStops(v *domain.Verdict, dir domain.Direction, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	sl := decimal.NewFromFloat(g.limits.StopLossPct)
	tp := decimal.NewFromFloat(g.limits.TakeProfitPct)
	one := decimal.NewFromInt(1)

	if dir == domain.DirectionShort {
		v.StopLoss = price.Mul(one.Add(sl))
		v.TakeProfit = price.Mul(one.Sub(tp))
		return
	}
	v.StopLoss = price.Mul(one.Sub(sl))
	v.TakeProfit = price.Mul(one.Add(tp))
}

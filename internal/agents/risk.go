package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/pkg/config"
)

// AccountProvider 提供风险评估所需的账户视图
type AccountProvider interface {
	State() domain.AccountState
}

// RiskAgent 风险评估 Agent
//
// 唯一持有否决权的 Agent：当风险等级过高或当日亏损
// 触及限额时，设置 Veto，本轮决策强制 hold。
type RiskAgent struct {
	limits  config.RiskConfig
	account AccountProvider
}

// NewRiskAgent 创建风险 Agent
func NewRiskAgent(limits config.RiskConfig, account AccountProvider) *RiskAgent {
	return &RiskAgent{limits: limits, account: account}
}

func (a *RiskAgent) Kind() domain.AgentKind {
	return domain.AgentRisk
}

func (a *RiskAgent) Analyze(_ context.Context, snap *domain.MarketSnapshot) (domain.Signal, error) {
	riskScore := 0.3 // 基础风险
	var reasons []string

	// 市场风险：波动率
	volatility := snap.ATRRatio()
	if volatility > 0.05 {
		riskScore += 0.2
		reasons = append(reasons, fmt.Sprintf("高波动: %.2f%%", volatility*100))
	} else if volatility > 0.03 {
		riskScore += 0.1
		reasons = append(reasons, fmt.Sprintf("中等波动: %.2f%%", volatility*100))
	}

	// 资金费率极端
	if math.Abs(snap.FundingRate) > 0.1 {
		riskScore += 0.1
		reasons = append(reasons, fmt.Sprintf("资金费率极端: %.4f", snap.FundingRate))
	}

	// 市场情绪极端
	if snap.FearGreedIndex < 20 || snap.FearGreedIndex > 80 {
		riskScore += 0.1
		reasons = append(reasons, fmt.Sprintf("情绪极端: %d", snap.FearGreedIndex))
	}

	// 持仓风险
	state := a.account.State()
	if state.OpenPositions >= a.limits.MaxOpenPositions {
		riskScore += 0.3
		reasons = append(reasons, fmt.Sprintf("持仓已达上限: %d", state.OpenPositions))
	}
	if state.Equity.IsPositive() {
		exposureRatio, _ := state.Exposure.Div(state.Equity).Float64()
		if exposureRatio > 0.5 {
			riskScore += 0.2
			reasons = append(reasons, fmt.Sprintf("总敞口过高: %.1f%%", exposureRatio*100))
		}
		unrealized, _ := state.UnrealizedPnL.Div(state.Equity).Float64()
		if unrealized < -0.03 {
			riskScore += 0.2
			reasons = append(reasons, fmt.Sprintf("未实现亏损: %.2f%%", -unrealized*100))
		}
	}

	// 日内亏损风险
	dailyLossPct := a.dailyLossPct(state)
	if dailyLossPct < -0.02 {
		riskScore += 0.1
		reasons = append(reasons, fmt.Sprintf("日内亏损: %.2f%%", dailyLossPct*100))
	}
	if dailyLossPct < -a.limits.MaxDailyLossPct {
		riskScore += 0.3
		reasons = append(reasons, "接近每日止损")
	}

	// 风险等级 high/extreme 或触及日亏限额时否决
	veto := riskScore >= 0.5
	if dailyLossPct <= -a.limits.MaxDailyLossPct {
		veto = true
		reasons = append(reasons, "达到每日止损限额，暂停交易")
	}

	// 风险越高，信号越负
	sig := newSignal(domain.AgentRisk, clamp(-riskScore), 0.8, reasons, map[string]any{
		"risk_score":     riskScore,
		"risk_level":     riskLevel(riskScore),
		"volatility":     volatility,
		"daily_loss_pct": dailyLossPct,
	})
	sig.Veto = veto
	return sig, nil
}

func (a *RiskAgent) dailyLossPct(state domain.AccountState) float64 {
	if !state.Equity.IsPositive() {
		return 0
	}
	pct, _ := state.DailyRealizedPnL.Div(state.Equity).Float64()
	return pct
}

func riskLevel(score float64) string {
	switch {
	case score < 0.3:
		return "low"
	case score < 0.5:
		return "medium"
	case score < 0.7:
		return "high"
	}
	return "extreme"
}

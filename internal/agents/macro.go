package agents

import (
	"context"
	"fmt"

	"github.com/opentrade/opentrade/internal/domain"
)

// MacroAgent 宏观分析 Agent
// 解读美元指数、美股、美债收益率对加密市场的影响。
type MacroAgent struct{}

// NewMacroAgent 创建宏观 Agent
func NewMacroAgent() *MacroAgent {
	return &MacroAgent{}
}

func (a *MacroAgent) Kind() domain.AgentKind {
	return domain.AgentMacro
}

func (a *MacroAgent) Analyze(_ context.Context, snap *domain.MarketSnapshot) (domain.Signal, error) {
	score := 0.0
	var reasons []string
	var riskEvents []string

	// 美元指数
	switch {
	case snap.DXYIndex > 107:
		score -= 0.2
		reasons = append(reasons, fmt.Sprintf("美元强势 DXY: %.1f", snap.DXYIndex))
		riskEvents = append(riskEvents, "美元超涨")
	case snap.DXYIndex > 105:
		score -= 0.1
		reasons = append(reasons, fmt.Sprintf("美元偏强 DXY: %.1f", snap.DXYIndex))
	case snap.DXYIndex < 100 && snap.DXYIndex > 0:
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("美元弱势 DXY: %.1f", snap.DXYIndex))
	}

	// 美股风险情绪
	if snap.SP500Change > 0.02 {
		score += 0.1
		reasons = append(reasons, fmt.Sprintf("风险情绪回暖 S&P: %+.2f%%", snap.SP500Change*100))
	} else if snap.SP500Change < -0.02 {
		score -= 0.15
		reasons = append(reasons, fmt.Sprintf("风险情绪恶化 S&P: %+.2f%%", snap.SP500Change*100))
		riskEvents = append(riskEvents, "股市下跌")
	}

	// 黄金避险
	if snap.GoldPrice > 0 && (snap.GoldPrice-2000)/2000 > 0.1 {
		score += 0.1
		reasons = append(reasons, "黄金上涨避险")
	}

	// 美债收益率
	if snap.BondYield10Y > 4.5 {
		score -= 0.15
		reasons = append(reasons, fmt.Sprintf("高收益率 %.2f%% 压力", snap.BondYield10Y))
		riskEvents = append(riskEvents, "收益率飙升")
	} else if snap.BondYield10Y > 0 && snap.BondYield10Y < 3.5 {
		score += 0.05
	}

	// VIX
	if snap.VIXIndex > 25 {
		score -= 0.15
		reasons = append(reasons, fmt.Sprintf("市场恐慌 VIX: %.1f", snap.VIXIndex))
		riskEvents = append(riskEvents, "波动率飙升")
	} else if snap.VIXIndex < 15 && snap.VIXIndex > 0 {
		score += 0.05
	}

	// 风险事件累积惩罚
	if float64(len(riskEvents))*0.2 > 0.5 {
		score -= 0.2
		reasons = append(reasons, fmt.Sprintf("宏观风险累积: %d个事件", len(riskEvents)))
	}

	score = clamp(score / 4)

	return newSignal(domain.AgentMacro, score, 0.5, reasons, map[string]any{
		"dxy":         snap.DXYIndex,
		"sp500":       snap.SP500Change,
		"gold":        snap.GoldPrice,
		"bond_yield":  snap.BondYield10Y,
		"vix":         snap.VIXIndex,
		"risk_events": riskEvents,
	}), nil
}

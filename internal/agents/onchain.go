package agents

import (
	"context"
	"fmt"

	"github.com/opentrade/opentrade/internal/domain"
)

// OnChainAgent 链上数据 Agent
// 分析交易所净流入、巨鲸行为和稳定币数据。
type OnChainAgent struct{}

// NewOnChainAgent 创建链上 Agent
func NewOnChainAgent() *OnChainAgent {
	return &OnChainAgent{}
}

func (a *OnChainAgent) Kind() domain.AgentKind {
	return domain.AgentOnChain
}

func (a *OnChainAgent) Analyze(_ context.Context, snap *domain.MarketSnapshot) (domain.Signal, error) {
	score := 0.0
	var reasons []string

	// 交易所净流入
	if snap.ExchangeNetFlow > 0 {
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("资金净流入: %+.0f", snap.ExchangeNetFlow))
	} else if snap.ExchangeNetFlow < 0 {
		score -= 0.2
		reasons = append(reasons, fmt.Sprintf("资金净流出: %+.0f", snap.ExchangeNetFlow))
	}

	// 巨鲸交易
	if snap.WhaleTransactions > 10 {
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("巨鲸活跃: %d笔", snap.WhaleTransactions))
	} else if snap.WhaleTransactions > 5 {
		score += 0.05
	}

	// 稳定币净铸造
	if snap.StablecoinMint > 1e8 {
		score += 0.1
		reasons = append(reasons, fmt.Sprintf("稳定币大量铸造: $%.0fM", snap.StablecoinMint/1e6))
	} else if snap.StablecoinMint < -1e8 {
		score -= 0.1
		reasons = append(reasons, fmt.Sprintf("稳定币大量赎回: $%.0fM", -snap.StablecoinMint/1e6))
	}

	// 持仓量变化
	oi := snap.OpenInterestChange
	switch {
	case oi > 0.05:
		score += 0.1
		reasons = append(reasons, fmt.Sprintf("持仓增加: %.1f%%", oi*100))
	case oi > 0.02:
		score += 0.05
	case oi < -0.05:
		score -= 0.1
		reasons = append(reasons, fmt.Sprintf("持仓减少: %.1f%%", oi*100))
	}

	// 资金费率：极端值是反向信号
	if snap.FundingRate > 0.05 {
		score -= 0.1
		reasons = append(reasons, "高资金费率: 多头拥挤")
	} else if snap.FundingRate < -0.05 {
		score += 0.1
		reasons = append(reasons, "负资金费率: 空头拥挤")
	}

	score = clamp(score / 4)

	return newSignal(domain.AgentOnChain, score, 0.6, reasons, map[string]any{
		"net_flow":   snap.ExchangeNetFlow,
		"whale_tx":   snap.WhaleTransactions,
		"stablecoin": snap.StablecoinMint,
		"oi_change":  snap.OpenInterestChange,
		"funding":    snap.FundingRate,
	}), nil
}

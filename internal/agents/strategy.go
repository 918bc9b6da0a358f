package agents

import (
	"context"

	"github.com/opentrade/opentrade/internal/domain"
)

// StrategyStats 策略历史表现
// 由上层在成交回报后维护，分析时作为加分项。
type StrategyStats struct {
	WinRate      float64
	ProfitFactor float64
	SharpeRatio  float64
}

// StatsProvider 提供策略历史表现
type StatsProvider interface {
	Stats() StrategyStats
}

// StrategyAgent 策略规则 Agent
// 组合趋势、均线和突破三套规则信号，并参考策略历史表现。
type StrategyAgent struct {
	stats StatsProvider // 可为 nil
}

// NewStrategyAgent 创建策略 Agent
func NewStrategyAgent(stats StatsProvider) *StrategyAgent {
	return &StrategyAgent{stats: stats}
}

func (a *StrategyAgent) Kind() domain.AgentKind {
	return domain.AgentStrategy
}

func (a *StrategyAgent) Analyze(_ context.Context, snap *domain.MarketSnapshot) (domain.Signal, error) {
	score := 0.0
	confidence := 0.6
	var reasons []string

	// 趋势规则：价格与双 EMA 的相对位置
	if snap.Price > snap.EMASlow && snap.Price > snap.EMAFast {
		score += 0.2
	} else if snap.Price < snap.EMASlow && snap.Price < snap.EMAFast {
		score -= 0.2
	}

	// EMA 斜率（简化为快慢差值比）
	if snap.EMASlow > 0 {
		slope := (snap.EMAFast - snap.EMASlow) / snap.EMASlow
		if slope > 0.01 {
			score += 0.1
		} else if slope < -0.01 {
			score -= 0.1
		}
	}

	// 突破规则：布林带位置
	switch {
	case snap.Price > snap.BollingerUpper:
		score += 0.2
		reasons = append(reasons, "突破上轨")
	case snap.Price > snap.BollingerMiddle:
		score += 0.1
	case snap.Price < snap.BollingerLower:
		score -= 0.2
		reasons = append(reasons, "跌破下轨")
	case snap.Price < snap.BollingerMiddle:
		score -= 0.1
	}

	// 策略历史表现加成
	if a.stats != nil {
		st := a.stats.Stats()
		if st.WinRate > 0.6 {
			score += 0.15
			confidence += 0.1
			reasons = append(reasons, "历史高胜率")
		} else if st.WinRate > 0 && st.WinRate < 0.4 {
			score -= 0.15
			reasons = append(reasons, "历史低胜率")
		}
		if st.ProfitFactor > 1.5 {
			score += 0.1
		}
		if st.SharpeRatio > 1.5 {
			score += 0.1
		}
		if confidence > 0.95 {
			confidence = 0.95
		}
	}

	score = clamp(score / 3)

	return newSignal(domain.AgentStrategy, score, confidence, reasons, map[string]any{
		"ema_fast": snap.EMAFast,
		"ema_slow": snap.EMASlow,
		"price":    snap.Price,
	}), nil
}

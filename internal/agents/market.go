package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/opentrade/opentrade/internal/domain"
)

// MarketAgent 技术面分析 Agent
// 基于 EMA 趋势、RSI/MACD 动量和量能给出方向得分。
type MarketAgent struct{}

// NewMarketAgent 创建技术面 Agent
func NewMarketAgent() *MarketAgent {
	return &MarketAgent{}
}

func (a *MarketAgent) Kind() domain.AgentKind {
	return domain.AgentMarket
}

func (a *MarketAgent) Analyze(_ context.Context, snap *domain.MarketSnapshot) (domain.Signal, error) {
	score := 0.0
	var reasons []string

	// 趋势：EMA 交叉
	if snap.EMAFast > snap.EMASlow {
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("EMA金叉: 快速%.2f > 慢速%.2f", snap.EMAFast, snap.EMASlow))
	} else if snap.EMAFast < snap.EMASlow {
		score -= 0.2
		reasons = append(reasons, fmt.Sprintf("EMA死叉: 快速%.2f < 慢速%.2f", snap.EMAFast, snap.EMASlow))
	}

	// 价格相对布林中轨
	if snap.Price > snap.BollingerMiddle {
		score += 0.1
	} else {
		score -= 0.1
	}

	// 价格相对慢速 EMA
	if snap.Price > snap.EMASlow {
		score += 0.1
		reasons = append(reasons, "价格在慢速EMA上方")
	} else {
		score -= 0.1
		reasons = append(reasons, "价格在慢速EMA下方")
	}

	// 动量：RSI
	switch {
	case snap.RSI > 70:
		score -= 0.15
		reasons = append(reasons, fmt.Sprintf("RSI超买: %.1f", snap.RSI))
	case snap.RSI < 30:
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("RSI超卖: %.1f", snap.RSI))
	case snap.RSI > 55:
		score += 0.1
	case snap.RSI < 45:
		score -= 0.1
	}

	// 动量：MACD 柱状图
	if snap.MACDHist > 0 {
		score += 0.1
		reasons = append(reasons, "MACD柱状图为正")
	} else if snap.MACDHist < 0 {
		score -= 0.1
		reasons = append(reasons, "MACD柱状图为负")
	}

	// 量能
	ratio := snap.VolumeRatio()
	if ratio > 1.5 {
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("放量: 成交量比率 %.2f", ratio))
	} else if ratio > 1.2 {
		score += 0.1
	} else if ratio < 0.7 {
		score -= 0.1
		reasons = append(reasons, fmt.Sprintf("缩量: 成交量比率 %.2f", ratio))
	}

	score = clamp(score / 4)
	confidence := a.confidence(snap)

	return newSignal(domain.AgentMarket, score, confidence, reasons, map[string]any{
		"rsi":          snap.RSI,
		"macd_hist":    snap.MACDHist,
		"volume_ratio": ratio,
		"volatility":   a.volatilityLevel(snap),
	}), nil
}

// confidence 信号越强置信度越高，上限 0.95
func (a *MarketAgent) confidence(snap *domain.MarketSnapshot) float64 {
	sum := 0.0
	if math.Abs(snap.RSI-50) > 20 {
		sum += 0.1
	}
	if math.Abs(snap.MACDHist) > snap.Price*0.001 {
		sum += 0.1
	}
	if snap.EMASlow > 0 && math.Abs(snap.EMAFast-snap.EMASlow)/snap.EMASlow > 0.02 {
		sum += 0.1
	}
	return math.Min(sum*0.5+0.5, 0.95)
}

func (a *MarketAgent) volatilityLevel(snap *domain.MarketSnapshot) string {
	v := snap.ATRRatio()
	switch {
	case v > 0.05:
		return "high"
	case v < 0.02:
		return "low"
	}
	return "normal"
}

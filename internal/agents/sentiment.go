package agents

import (
	"context"
	"fmt"

	"github.com/opentrade/opentrade/internal/domain"
)

// SentimentAgent 情绪分析 Agent
// 恐惧贪婪指数为主，社交情绪和 VIX 为辅，整体逆向操作。
type SentimentAgent struct{}

// NewSentimentAgent 创建情绪 Agent
func NewSentimentAgent() *SentimentAgent {
	return &SentimentAgent{}
}

func (a *SentimentAgent) Kind() domain.AgentKind {
	return domain.AgentSentiment
}

func (a *SentimentAgent) Analyze(_ context.Context, snap *domain.MarketSnapshot) (domain.Signal, error) {
	score := 0.0
	var reasons []string
	isExtreme := false

	// 恐惧贪婪指数（逆向）
	fg := snap.FearGreedIndex
	switch {
	case fg <= 25:
		score += 0.3
		isExtreme = true
		reasons = append(reasons, fmt.Sprintf("极度恐惧: %d/100", fg))
	case fg <= 40:
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("恐惧: %d/100", fg))
	case fg >= 75:
		score -= 0.3
		isExtreme = true
		reasons = append(reasons, fmt.Sprintf("极度贪婪: %d/100", fg))
	case fg >= 60:
		score -= 0.15
		reasons = append(reasons, fmt.Sprintf("贪婪: %d/100", fg))
	default:
		score += 0.05 // 中性偏多
	}

	// 社交情绪（逆向）
	if snap.SocialSentiment > 0.3 {
		score -= 0.1
		reasons = append(reasons, "社交情绪偏多")
	} else if snap.SocialSentiment < -0.3 {
		score += 0.1
		reasons = append(reasons, "社交情绪偏空")
	}

	// 高讨论量 + 乐观 = 过热
	if snap.TwitterVolume > 50000 {
		if snap.SocialSentiment > 0.2 {
			score -= 0.1
			reasons = append(reasons, "高讨论 + 乐观情绪")
		} else {
			score += 0.05
		}
	}

	// VIX
	if snap.VIXIndex > 30 {
		score += 0.1
		reasons = append(reasons, fmt.Sprintf("VIX升高: %.1f (恐慌)", snap.VIXIndex))
	} else if snap.VIXIndex < 15 {
		score -= 0.1
		reasons = append(reasons, fmt.Sprintf("VIX低位: %.1f (自满)", snap.VIXIndex))
	}

	score = clamp(score / 4)

	return newSignal(domain.AgentSentiment, score, 0.55, reasons, map[string]any{
		"fear_greed":       fg,
		"social_sentiment": snap.SocialSentiment,
		"twitter_volume":   snap.TwitterVolume,
		"vix":              snap.VIXIndex,
		"is_extreme":       isExtreme,
	}), nil
}

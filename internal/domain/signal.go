package domain

import "time"

// AgentKind 分析 Agent 类型
type AgentKind string

const (
	AgentMarket    AgentKind = "market"    // 技术面分析
	AgentStrategy  AgentKind = "strategy"  // 策略规则分析
	AgentRisk      AgentKind = "risk"      // 风险评估（持有否决权）
	AgentOnChain   AgentKind = "onchain"   // 链上数据分析
	AgentSentiment AgentKind = "sentiment" // 市场情绪分析
	AgentMacro     AgentKind = "macro"     // 宏观环境分析
)

// Direction 交易方向
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionHold  Direction = "hold"
)

// Signal 单个 Agent 的分析结论
//
// Score 范围 [-1, 1]：正数看多，负数看空，绝对值越大信号越强。
// Veto 只有风险 Agent 会设置：一旦为 true，本轮决策强制 hold，
// 与其他 Agent 的得分无关。
type Signal struct {
	Agent       AgentKind      // 来源 Agent
	Direction   Direction      // 方向结论
	Score       float64        // 信号得分 [-1, 1]
	Confidence  float64        // 置信度 [0, 1]
	Veto        bool           // 风险否决（仅 risk agent）
	Reasons     []string       // 结论依据
	Indicators  map[string]any // 关键指标快照（审计用）
	GeneratedAt time.Time      // 生成时间
}

// DirectionFromScore 根据得分判定方向
// 得分绝对值低于 threshold 视为观望。
func DirectionFromScore(score, threshold float64) Direction {
	if score >= threshold {
		return DirectionLong
	}
	if score <= -threshold {
		return DirectionShort
	}
	return DirectionHold
}

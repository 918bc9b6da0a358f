package agents

import (
	"context"
	"time"

	"github.com/opentrade/opentrade/internal/domain"
)

// directionThreshold 得分绝对值低于此阈值视为观望
const directionThreshold = 0.1

// Agent 分析 Agent 接口
// 每个 Agent 独立分析同一份市场快照，互不通信。
type Agent interface {
	Kind() domain.AgentKind
	Analyze(ctx context.Context, snap *domain.MarketSnapshot) (domain.Signal, error)
}

// newSignal 构造带方向判定的信号
func newSignal(kind domain.AgentKind, score, confidence float64, reasons []string, indicators map[string]any) domain.Signal {
	return domain.Signal{
		Agent:       kind,
		Direction:   domain.DirectionFromScore(score, directionThreshold),
		Score:       score,
		Confidence:  confidence,
		Reasons:     reasons,
		Indicators:  indicators,
		GeneratedAt: time.Now(),
	}
}

// clamp 得分限幅到 [-1, 1]
func clamp(score float64) float64 {
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}

// Registry 全部启用的 Agent
// 顺序即信号列表的稳定顺序（日志和审计按此排列）。
type Registry struct {
	agents []Agent
}

// NewRegistry 创建 Agent 注册表
func NewRegistry(agents ...Agent) *Registry {
	return &Registry{agents: agents}
}

// All 返回全部 Agent
func (r *Registry) All() []Agent {
	return r.agents
}

// Len 返回 Agent 数量
func (r *Registry) Len() int {
	return len(r.agents)
}

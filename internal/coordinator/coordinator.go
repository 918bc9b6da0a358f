package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opentrade/opentrade/internal/agents"
	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/internal/events"
	"github.com/opentrade/opentrade/internal/ports"
	"github.com/opentrade/opentrade/pkg/config"
	"github.com/opentrade/opentrade/pkg/logger"
)

// Coordinator 决策协调器
//
// 每轮评估：取一份市场快照，并发分发给所有 Agent，
// 在超时预算内收集信号，加权融合成唯一决策。
// Agent 之间互不通信，失败或超时的 Agent 按零权重观望处理。
type Coordinator struct {
	cfg      config.CoordinatorConfig
	registry *agents.Registry
	provider ports.SnapshotProvider
	bus      *events.Bus
	log      *logrus.Entry

	symbol     string
	strategyID string
}

// New 创建协调器
func New(cfg config.CoordinatorConfig, symbol, strategyID string, registry *agents.Registry, provider ports.SnapshotProvider, bus *events.Bus) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		registry:   registry,
		provider:   provider,
		bus:        bus,
		log:        logger.WithField("module", "coordinator"),
		symbol:     symbol,
		strategyID: strategyID,
	}
}

// RunCycle 执行一轮评估，返回最终决策
func (c *Coordinator) RunCycle(ctx context.Context) (*domain.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CycleTimeout())
	defer cancel()

	snap, err := c.provider.Snapshot(ctx, c.symbol)
	if err != nil {
		return nil, err
	}

	signals := c.collect(ctx, snap)
	decision := c.Fuse(signals)

	c.log.Infof("🧭 决策完成: %s size=%.3f conf=%.2f vetoed=%v",
		decision.Direction, decision.Size, decision.Confidence, decision.Vetoed)
	if c.bus != nil {
		// 发快照：决策对象后续会被改状态，已发事件不能跟着变
		snapshot := *decision
		c.bus.Publish(events.Event{Type: events.TypeDecision, Decision: &snapshot})
	}
	return decision, nil
}

// collect 并发收集所有 Agent 的信号
// 每个 Agent 有独立超时，慢 Agent 不会拖垮整轮。
func (c *Coordinator) collect(ctx context.Context, snap *domain.MarketSnapshot) []domain.Signal {
	all := c.registry.All()
	results := make([]domain.Signal, len(all))

	type indexed struct {
		i   int
		sig domain.Signal
		err error
	}
	ch := make(chan indexed, len(all))

	for i, agent := range all {
		go func(i int, agent agents.Agent) {
			actx, acancel := context.WithTimeout(ctx, c.cfg.AgentTimeout())
			defer acancel()
			sig, err := agent.Analyze(actx, snap)
			ch <- indexed{i: i, sig: sig, err: err}
		}(i, agent)
	}

	for range all {
		select {
		case r := <-ch:
			if r.err != nil {
				// 失败的 Agent 按观望处理，零置信度
				c.log.Warnf("⚠️ agent %s 分析失败: %v", all[r.i].Kind(), r.err)
				results[r.i] = holdSignal(all[r.i].Kind())
				continue
			}
			results[r.i] = r.sig
		case <-ctx.Done():
			// 整轮超时：未返回的 Agent 全部按观望处理
			for i := range results {
				if results[i].Agent == "" {
					results[i] = holdSignal(all[i].Kind())
				}
			}
			return results
		}
	}
	return results
}

func holdSignal(kind domain.AgentKind) domain.Signal {
	return domain.Signal{
		Agent:       kind,
		Direction:   domain.DirectionHold,
		GeneratedAt: time.Now(),
	}
}

// Fuse 加权融合信号，生成最终决策
//
// 每票权重 = Agent 类型权重 × 置信度。规则（按优先级）：
//  1. 任一信号带否决 → 强制 hold；
//  2. 按方向聚合权重，long 与 short 打平 → hold；
//  3. 胜出方向的聚合权重归一化后即建议仓位占比。
func (c *Coordinator) Fuse(signals []domain.Signal) *domain.Decision {
	d := &domain.Decision{
		ID:         uuid.NewString(),
		Symbol:     c.symbol,
		StrategyID: c.strategyID,
		Direction:  domain.DirectionHold,
		Status:     domain.DecisionProposed,
		Signals:    signals,
		CreatedAt:  time.Now(),
	}

	var longW, shortW, totalW float64
	for _, sig := range signals {
		if sig.Veto {
			d.Vetoed = true
		}
		w := c.weightFor(sig.Agent) * sig.Confidence
		totalW += w
		switch sig.Direction {
		case domain.DirectionLong:
			longW += w
		case domain.DirectionShort:
			shortW += w
		}
	}

	d.Confidence = c.overallConfidence(signals)

	if d.Vetoed {
		c.log.Warn("🛑 风险否决，本轮强制观望")
		return d
	}

	// 打平观望；都为零也观望
	if longW == shortW {
		return d
	}

	winner := longW
	d.Direction = domain.DirectionLong
	if shortW > longW {
		winner = shortW
		d.Direction = domain.DirectionShort
	}

	if totalW > 0 {
		d.Size = winner / totalW
	}
	if d.Size > 1 {
		d.Size = 1
	}
	if d.Size < 0 {
		d.Size = 0
	}
	return d
}

func (c *Coordinator) weightFor(kind domain.AgentKind) float64 {
	w := c.cfg.Weights
	switch kind {
	case domain.AgentMarket:
		return w.Market
	case domain.AgentStrategy:
		return w.Strategy
	case domain.AgentRisk:
		return w.Risk
	case domain.AgentOnChain:
		return w.OnChain
	case domain.AgentSentiment:
		return w.Sentiment
	case domain.AgentMacro:
		return w.Macro
	}
	return 0
}

// overallConfidence 综合置信度
// 技术面 40% + 基本面（策略/宏观）35% + 情绪面（情绪/链上）25%
func (c *Coordinator) overallConfidence(signals []domain.Signal) float64 {
	byKind := make(map[domain.AgentKind]float64, len(signals))
	for _, sig := range signals {
		byKind[sig.Agent] = sig.Confidence
	}
	technical := byKind[domain.AgentMarket]
	fundamental := (byKind[domain.AgentStrategy] + byKind[domain.AgentMacro]) / 2
	sentiment := (byKind[domain.AgentSentiment] + byKind[domain.AgentOnChain]) / 2
	return technical*0.4 + fundamental*0.35 + sentiment*0.25
}

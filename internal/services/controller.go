package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/opentrade/opentrade/internal/coordinator"
	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/internal/events"
	"github.com/opentrade/opentrade/internal/execution"
	"github.com/opentrade/opentrade/internal/marketdata"
	"github.com/opentrade/opentrade/internal/ports"
	"github.com/opentrade/opentrade/internal/risk"
	"github.com/opentrade/opentrade/pkg/config"
	"github.com/opentrade/opentrade/pkg/logger"
)

// Controller 交易主循环
//
// 每个评估周期走完整条链路：
// 快照 → 协调器融合 → 风控闸门 → 执行引擎。
// 任何一环失败只影响本轮，不影响下一个周期。
type Controller struct {
	cfg         *config.Config
	coordinator *coordinator.Coordinator
	gate        *risk.Gate
	breaker     *risk.Breaker
	engine      *execution.Engine
	book        *domain.PositionBook
	md          *marketdata.Service
	audit       ports.AuditSink
	bus         *events.Bus
	log         *logrus.Entry

	loc     *time.Location
	lastDay string
}

// NewController 创建交易主循环
func NewController(
	cfg *config.Config,
	coord *coordinator.Coordinator,
	gate *risk.Gate,
	breaker *risk.Breaker,
	engine *execution.Engine,
	book *domain.PositionBook,
	md *marketdata.Service,
	auditSink ports.AuditSink,
	bus *events.Bus,
) *Controller {
	// 时区在配置加载时已校验过
	loc, err := time.LoadLocation(cfg.Breaker.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Controller{
		loc:         loc,
		cfg:         cfg,
		coordinator: coord,
		gate:        gate,
		breaker:     breaker,
		engine:      engine,
		book:        book,
		md:          md,
		audit:       auditSink,
		bus:         bus,
		log:         logger.WithField("module", "controller"),
	}
}

// Run 阻塞运行直到 ctx 取消
func (c *Controller) Run(ctx context.Context) {
	interval := c.cfg.Coordinator.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Infof("🚀 交易主循环启动，周期 %s", interval)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("交易主循环退出")
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一个完整评估周期
func (c *Controller) RunOnce(ctx context.Context) {
	// 交易日切换：持仓簿的当日已实现盈亏清零
	// （熔断器有自己的日界处理，这里只管账本）
	if day := time.Now().In(c.loc).Format("20060102"); day != c.lastDay {
		if c.lastDay != "" {
			c.book.ResetDaily()
		}
		c.lastDay = day
	}

	// 盯市 + 波动率上报（熔断的外部输入之一）
	price := c.md.LastPrice()
	if price > 0 {
		c.book.MarkPrice(c.cfg.Symbol, decimal.NewFromFloat(price))
	}
	if snap, err := c.md.Snapshot(ctx, c.cfg.Symbol); err == nil {
		c.breaker.ReportVolatility(snap.ATRRatio())
	}

	decision, err := c.coordinator.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, marketdata.ErrNotReady) {
			c.log.Debug("行情尚未热身，跳过本轮")
			return
		}
		c.log.Errorf("本轮评估失败: %v", err)
		return
	}

	verdict := c.gate.Validate(decision, c.book.State(), c.breaker.View(), decimal.NewFromFloat(price))
	c.recordVerdict(ctx, decision, verdict)

	if !verdict.Approved {
		// 拒绝必须留痕，绝不静默丢弃
		decision.Status = domain.DecisionRejected
		c.publishDecision(decision)
		c.log.Warnf("🚫 决策 %s 被风控拒绝: %s", decision.ID, verdict.Reason)
		return
	}

	decision.Status = domain.DecisionApproved
	c.publishDecision(decision)
	if decision.Direction == domain.DirectionHold || verdict.ApprovedSize.IsZero() {
		c.log.Debugf("决策 %s 观望，本轮不下单", decision.ID)
		return
	}

	order, err := c.engine.Execute(ctx, decision, verdict)
	if err != nil {
		decision.Status = domain.DecisionFailed
		c.publishDecision(decision)
		c.log.Errorf("决策 %s 执行失败: %v", decision.ID, err)
		return
	}
	decision.Status = domain.DecisionExecuted
	c.publishDecision(decision)
	c.log.Infof("📦 决策 %s 执行完成: 订单 %s (%s)", decision.ID, order.ClientOrderID, order.Status)
}

// publishDecision 决策生命周期事件
// 发快照：同一决策对象会继续改状态，已发事件不能跟着变。
func (c *Controller) publishDecision(d *domain.Decision) {
	if c.bus == nil {
		return
	}
	snapshot := *d
	c.bus.Publish(events.Event{Type: events.TypeDecision, Decision: &snapshot})
}

func (c *Controller) recordVerdict(ctx context.Context, d *domain.Decision, v *domain.Verdict) {
	if c.bus != nil {
		snapshot := *d
		c.bus.Publish(events.Event{Type: events.TypeVerdict, Decision: &snapshot, Verdict: v})
	}
	if c.audit == nil {
		return
	}
	if err := c.audit.RecordVerdict(ctx, d, v); err != nil {
		c.log.Errorf("审计落库失败: %v", err)
	}
}

package execution

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/internal/events"
	"github.com/opentrade/opentrade/internal/exchange"
	"github.com/opentrade/opentrade/internal/ledger"
	"github.com/opentrade/opentrade/internal/ports"
	"github.com/opentrade/opentrade/internal/risk"
	"github.com/opentrade/opentrade/pkg/config"
	"github.com/opentrade/opentrade/pkg/logger"
)

// Reconciler 对账器
//
// 独立于任何单笔决策运行：周期性扫描台账里超过宽限期的
// 非终态订单，向交易所查询真实状态并收口。台账与交易所
// 冲突时以交易所为准，差异记日志告警，不做静默修正。
type Reconciler struct {
	cfg     config.ExecutionConfig
	venue   ports.Venue
	ledger  ledger.Ledger
	book    *domain.PositionBook
	breaker *risk.Breaker
	bus     *events.Bus
	log     *logrus.Entry
}

// NewReconciler 创建对账器
func NewReconciler(cfg config.ExecutionConfig, venue ports.Venue, l ledger.Ledger, book *domain.PositionBook, breaker *risk.Breaker, bus *events.Bus) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		venue:   venue,
		ledger:  l,
		book:    book,
		breaker: breaker,
		bus:     bus,
		log:     logger.WithField("module", "reconciler"),
	}
}

// Run 周期运行直到 ctx 取消
func (r *Reconciler) Run(ctx context.Context) {
	interval := time.Duration(r.cfg.ReconcileSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Infof("🔄 对账器启动，周期 %s", interval)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("对账器退出")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep 执行一轮对账
func (r *Reconciler) Sweep(ctx context.Context) {
	open, err := r.ledger.Open()
	if err != nil {
		r.log.Errorf("扫描台账失败: %v", err)
		return
	}

	grace := time.Duration(r.cfg.ReconcileGraceSec) * time.Second
	cutoff := time.Now().Add(-grace)

	for _, order := range open {
		// 宽限期内的订单还在正常执行路径上，不碰
		if order.CreatedAt.After(cutoff) && order.Status != domain.OrderStatusTimedOut {
			continue
		}
		r.resolve(ctx, order)
	}
}

// resolve 以交易所状态为准收口一笔悬挂订单
func (r *Reconciler) resolve(ctx context.Context, order *domain.Order) {
	venueOrder, err := r.venue.QueryOrder(ctx, order.ClientOrderID)
	if err != nil {
		if errors.Is(err, exchange.ErrNotFound) {
			// 交易所没有这笔订单：提交从未生效，安全取消
			r.close(order, domain.OrderStatusCanceled, "对账: 交易所无此订单")
			return
		}
		r.log.Warnf("对账查询失败 %s: %v（下轮再试）", order.ClientOrderID, err)
		return
	}

	if venueOrder.Status != order.Status {
		// 台账与交易所不一致：告警并以交易所为准
		r.log.Warnf("⚠️ 对账差异 %s: 台账=%s 交易所=%s，以交易所为准",
			order.ClientOrderID, order.Status, venueOrder.Status)
	}

	switch venueOrder.Status {
	case domain.OrderStatusFilled:
		order.FilledSize = venueOrder.FilledSize
		order.AvgFillPrice = venueOrder.AvgFillPrice
		if venueOrder.VenueOrderID != "" {
			order.VenueOrderID = venueOrder.VenueOrderID
		}
		r.close(order, domain.OrderStatusFilled, "对账: 确认成交")
		pnl, closed := r.book.ApplyFill(order)
		if closed && r.breaker != nil {
			f, _ := pnl.Float64()
			r.breaker.ReportTrade(order.StrategyID, f)
		}
	case domain.OrderStatusRejected:
		r.close(order, domain.OrderStatusRejected, "对账: 交易所已拒绝")
	case domain.OrderStatusCanceled:
		r.close(order, domain.OrderStatusCanceled, "对账: 交易所已取消")
	default:
		// 仍在交易所挂着：修正本地状态，下轮继续
		if order.NeedsReconcile() {
			order.Status = domain.OrderStatusAcked
			if err := r.ledger.Update(order); err != nil {
				r.log.Errorf("对账更新失败 %s: %v", order.ClientOrderID, err)
			}
		}
	}
}

func (r *Reconciler) close(order *domain.Order, status domain.OrderStatus, detail string) {
	order.Status = status
	now := time.Now()
	order.ClosedAt = &now
	if err := r.ledger.Update(order); err != nil {
		r.log.Errorf("对账收口失败 %s: %v", order.ClientOrderID, err)
		return
	}
	if r.bus != nil {
		o := *order
		r.bus.Publish(events.Event{Type: events.TypeOrderUpdate, Order: &o, Detail: detail})
	}
	r.log.Infof("🔄 对账收口 %s → %s (%s)", order.ClientOrderID, status, detail)
}

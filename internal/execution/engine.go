package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/rand"
	"sync"
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

// DeriveClientOrderID 从决策 ID 确定性派生幂等键
// 同一决策不论何时何地重算，得到的都是同一个键。
func DeriveClientOrderID(decisionID string) string {
	sum := sha256.Sum256([]byte(decisionID))
	return "ot-" + hex.EncodeToString(sum[:])[:24]
}

// Engine 订单执行引擎
//
// 幂等保证：网络调用之前先落台账；同一决策重复执行时，
// 台账里已有非终态记录就接管续跑而不是重新提交。
// 提交按账户串行，两个并发决策不会同时认为自己还有额度。
type Engine struct {
	cfg     config.ExecutionConfig
	venue   ports.Venue
	ledger  ledger.Ledger
	book    *domain.PositionBook
	breaker *risk.Breaker
	bus     *events.Bus
	log     *logrus.Entry

	accountID string
	// 账户级提交临界区
	submitMu sync.Mutex
}

// NewEngine 创建执行引擎
func NewEngine(cfg config.ExecutionConfig, accountID string, venue ports.Venue, l ledger.Ledger, book *domain.PositionBook, breaker *risk.Breaker, bus *events.Bus) *Engine {
	return &Engine{
		cfg:       cfg,
		venue:     venue,
		ledger:    l,
		book:      book,
		breaker:   breaker,
		bus:       bus,
		log:       logger.WithField("module", "execution"),
		accountID: accountID,
	}
}

// Execute 执行一笔已放行的决策
//
// 同一个 decision ID 重复调用最多产生一个交易所订单。
// 返回的订单处于确定状态，或已标记为待对账（timed_out）。
func (e *Engine) Execute(ctx context.Context, d *domain.Decision, v *domain.Verdict) (*domain.Order, error) {
	order := &domain.Order{
		ClientOrderID: DeriveClientOrderID(d.ID),
		DecisionID:    d.ID,
		AccountID:     e.accountID,
		StrategyID:    d.StrategyID,
		Symbol:        d.Symbol,
		Side:          domain.SideFromDirection(d.Direction),
		Size:          v.ApprovedSize,
		StopLoss:      v.StopLoss,
		TakeProfit:    v.TakeProfit,
		Status:        domain.OrderStatusPending,
		CreatedAt:     time.Now(),
	}

	// 任何网络调用之前先落台账
	if err := e.ledger.Create(order); err != nil {
		if !errors.Is(err, ledger.ErrExists) {
			return nil, err
		}
		// 幂等命中：接管既有记录
		existing, err := e.ledger.Get(order.ClientOrderID)
		if err != nil {
			return nil, err
		}
		if existing.Status.IsTerminal() {
			e.log.Infof("♻️ 决策 %s 已有终态订单 %s (%s)，跳过提交", d.ID, existing.ClientOrderID, existing.Status)
			return existing, nil
		}
		e.log.Infof("♻️ 决策 %s 有在途订单 %s (%s)，续跑", d.ID, existing.ClientOrderID, existing.Status)
		return e.Resume(ctx, existing)
	}

	return e.submit(ctx, order)
}

// Resume 接管一笔非终态订单（幂等命中或崩溃重启后）
func (e *Engine) Resume(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	switch order.Status {
	case domain.OrderStatusPending:
		return e.submit(ctx, order)
	case domain.OrderStatusSubmitted, domain.OrderStatusTimedOut:
		// 提交结果不明，交给对账；这里只轮询一轮试试
		return e.poll(ctx, order)
	default: // acked / part_filled
		return e.poll(ctx, order)
	}
}

// submit 提交临界区：重试只发生在交易所确认之前
func (e *Engine) submit(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	e.submitMu.Lock()
	acked := false
	for order.CanRetry(e.cfg.MaxAttempts) && !acked {
		// 熔断中止：尚未确认的在途决策不再发往交易所
		if tier := e.breakerTier(); tier == risk.TierAccountFrozen || tier == risk.TierSystemHalted {
			e.submitMu.Unlock()
			return e.abortForBreaker(order, tier)
		}

		order.Attempts++
		now := time.Now()
		order.SubmittedAt = &now
		order.Status = domain.OrderStatusSubmitted
		if err := e.ledger.Update(order); err != nil {
			e.submitMu.Unlock()
			return nil, err
		}

		sctx, cancel := context.WithTimeout(ctx, e.submitTimeout())
		venueOrderID, err := e.venue.SubmitOrder(sctx, order)
		cancel()

		switch {
		case err == nil:
			acked = true
			order.VenueOrderID = venueOrderID
			order.Status = domain.OrderStatusAcked
			ackAt := time.Now()
			order.AckedAt = &ackAt
			if uerr := e.ledger.Update(order); uerr != nil {
				e.submitMu.Unlock()
				return nil, uerr
			}
			e.publishOrder(order, "")
			e.log.Infof("✅ 订单已确认 %s → %s (尝试 %d)", order.ClientOrderID, venueOrderID, order.Attempts)

		case errors.Is(err, exchange.ErrRejected):
			e.submitMu.Unlock()
			return e.markRejected(order, err)

		case errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded):
			// 提交超时：结果不明，标记后尝试撤单，撤不掉交给对账
			e.submitMu.Unlock()
			return e.markTimedOut(ctx, order, "提交超时")

		default:
			// 瞬时错误：指数退避后重试（仅限确认前）
			order.LastError = err.Error()
			e.log.Warnf("⚠️ 提交失败 (尝试 %d/%d): %v", order.Attempts, e.cfg.MaxAttempts, err)
			if order.Attempts < e.cfg.MaxAttempts {
				if werr := e.backoff(ctx, order.Attempts); werr != nil {
					e.submitMu.Unlock()
					return order, werr
				}
			}
		}
	}
	e.submitMu.Unlock()

	if !acked {
		// 重试耗尽：最后一次提交的结果不明，订单可能已在交易所
		// 生效。不能判死为 rejected（那会让台账终态、对账不再查它），
		// 按超时处理留给对账收口。rejected 只留给交易所明确拒单。
		return e.markTimedOut(ctx, order, "提交重试次数耗尽")
	}
	return e.poll(ctx, order)
}

// backoff 基数翻倍加抖动，总时长有闭式上界
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	base := time.Duration(e.cfg.BackoffBaseMs) * time.Millisecond
	d := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	t := time.NewTimer(d + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) submitTimeout() time.Duration {
	return time.Duration(e.cfg.SubmitTimeoutSec) * time.Second
}

// poll 轮询订单状态直到终态或轮询窗口耗尽
// 窗口耗尽不是错误：订单留在台账里等对账收口。
func (e *Engine) poll(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	deadline := time.Now().Add(time.Duration(e.cfg.PollTimeoutSec) * time.Second)
	interval := time.Duration(e.cfg.PollIntervalMs) * time.Millisecond

	for time.Now().Before(deadline) {
		venueOrder, err := e.venue.QueryOrder(ctx, order.ClientOrderID)
		if err == nil {
			if done, out, ferr := e.applyVenueState(order, venueOrder); done || ferr != nil {
				return out, ferr
			}
		} else if !errors.Is(err, exchange.ErrTransient) && !errors.Is(err, exchange.ErrNotFound) {
			return order, err
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return order, ctx.Err()
		case <-t.C:
		}
	}
	e.log.Warnf("⏳ 订单 %s 轮询窗口耗尽，交给对账", order.ClientOrderID)
	return order, nil
}

// applyVenueState 用交易所视图推进台账状态
func (e *Engine) applyVenueState(order *domain.Order, venueOrder *domain.Order) (bool, *domain.Order, error) {
	switch venueOrder.Status {
	case domain.OrderStatusFilled:
		return true, order, e.markFilled(order, venueOrder)
	case domain.OrderStatusRejected:
		out, err := e.markRejected(order, errors.New("交易所拒绝"))
		return true, out, err
	case domain.OrderStatusCanceled:
		order.Status = domain.OrderStatusCanceled
		now := time.Now()
		order.ClosedAt = &now
		if err := e.ledger.Update(order); err != nil {
			return true, order, err
		}
		e.publishOrder(order, "")
		return true, order, nil
	case domain.OrderStatusPartFilled:
		order.Status = domain.OrderStatusPartFilled
		order.FilledSize = venueOrder.FilledSize
		order.AvgFillPrice = venueOrder.AvgFillPrice
		_ = e.ledger.Update(order)
	}
	return false, order, nil
}

// markFilled 成交落账，更新持仓并上报熔断器
func (e *Engine) markFilled(order *domain.Order, venueOrder *domain.Order) error {
	order.Status = domain.OrderStatusFilled
	order.FilledSize = venueOrder.FilledSize
	order.AvgFillPrice = venueOrder.AvgFillPrice
	if venueOrder.VenueOrderID != "" {
		order.VenueOrderID = venueOrder.VenueOrderID
	}
	now := time.Now()
	order.ClosedAt = &now
	if err := e.ledger.Update(order); err != nil {
		return err
	}

	pnl, closed := e.book.ApplyFill(order)
	if closed {
		// 平仓交易的实现盈亏驱动熔断层级
		if e.breaker != nil {
			f, _ := pnl.Float64()
			e.breaker.ReportTrade(order.StrategyID, f)
		}
		e.publishTradeClosed(order)
	}
	e.publishOrder(order, "")
	e.log.Infof("💰 订单成交 %s size=%s @ %s", order.ClientOrderID, order.FilledSize, order.AvgFillPrice)
	return nil
}

// markRejected 终态拒绝：非亏损失败，与亏损交易区分上报
func (e *Engine) markRejected(order *domain.Order, cause error) (*domain.Order, error) {
	order.Status = domain.OrderStatusRejected
	order.LastError = cause.Error()
	now := time.Now()
	order.ClosedAt = &now
	if err := e.ledger.Update(order); err != nil {
		return order, err
	}
	if e.breaker != nil {
		e.breaker.ReportFailure(order.StrategyID, cause.Error())
	}
	e.publishOrder(order, cause.Error())
	e.log.Warnf("❌ 订单被拒 %s: %v", order.ClientOrderID, cause)
	return order, nil
}

// markTimedOut 提交结果不明：标记待对账后尝试撤单
// 撤单也失败就留给对账，绝不盲目重新提交。
func (e *Engine) markTimedOut(ctx context.Context, order *domain.Order, reason string) (*domain.Order, error) {
	order.Status = domain.OrderStatusTimedOut
	order.LastError = reason
	if err := e.ledger.Update(order); err != nil {
		return order, err
	}
	e.publishOrder(order, reason)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.venue.CancelOrder(cctx, order.ClientOrderID); err != nil {
		e.log.Warnf("⏳ 超时订单 %s 撤单失败，留给对账: %v", order.ClientOrderID, err)
		return order, nil
	}
	order.Status = domain.OrderStatusCanceled
	now := time.Now()
	order.ClosedAt = &now
	if err := e.ledger.Update(order); err != nil {
		return order, err
	}
	e.publishOrder(order, "超时撤单")
	return order, nil
}

// abortForBreaker 熔断中止一笔尚未确认的订单
// 从未发出过的直接取消；发出过但结果不明的留给对账。
func (e *Engine) abortForBreaker(order *domain.Order, tier risk.Tier) (*domain.Order, error) {
	if order.Attempts == 0 {
		order.Status = domain.OrderStatusCanceled
		order.LastError = "熔断中止: " + string(tier)
		now := time.Now()
		order.ClosedAt = &now
	} else {
		order.Status = domain.OrderStatusTimedOut
		order.LastError = "熔断中止（结果待对账）: " + string(tier)
	}
	if err := e.ledger.Update(order); err != nil {
		return order, err
	}
	e.publishOrder(order, order.LastError)
	e.log.Warnf("🛑 熔断中止订单 %s (tier=%s)", order.ClientOrderID, tier)
	return order, nil
}

func (e *Engine) breakerTier() risk.Tier {
	if e.breaker == nil {
		return risk.TierNormal
	}
	return e.breaker.Tier()
}

func (e *Engine) publishOrder(order *domain.Order, detail string) {
	if e.bus == nil {
		return
	}
	o := *order
	e.bus.Publish(events.Event{Type: events.TypeOrderUpdate, Order: &o, Detail: detail})
}

func (e *Engine) publishTradeClosed(order *domain.Order) {
	if e.bus == nil {
		return
	}
	o := *order
	e.bus.Publish(events.Event{Type: events.TypeTradeClosed, Order: &o})
}

package execution

import (
	"context"
	"fmt"
	"testing"
	"testing/quick"

	"github.com/shopspring/decimal"

	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/internal/events"
	"github.com/opentrade/opentrade/internal/exchange"
	"github.com/opentrade/opentrade/internal/ledger"
	"github.com/opentrade/opentrade/internal/risk"
	"github.com/opentrade/opentrade/pkg/config"
)

func fastExecConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		SubmitTimeoutSec:  5,
		MaxAttempts:       3,
		BackoffBaseMs:     1,
		PollIntervalMs:    1,
		PollTimeoutSec:    1,
		ReconcileSec:      1,
		ReconcileGraceSec: 0,
	}
}

func approvedDecision(id string) (*domain.Decision, *domain.Verdict) {
	d := &domain.Decision{
		ID:         id,
		Symbol:     "BTC/USDT",
		StrategyID: "s1",
		Direction:  domain.DirectionLong,
		Size:       0.05,
		Status:     domain.DecisionApproved,
	}
	v := &domain.Verdict{
		Approved:     true,
		ApprovedSize: decimal.NewFromInt(500),
		StopLoss:     decimal.NewFromInt(63700),
		TakeProfit:   decimal.NewFromInt(67600),
	}
	return d, v
}

func newTestEngine(venue *exchange.Paper) (*Engine, *ledger.Memory) {
	l := ledger.NewMemory()
	book := domain.NewPositionBook(decimal.NewFromInt(10000))
	return NewEngine(fastExecConfig(), "main", venue, l, book, nil, events.NewBus()), l
}

func TestDeriveClientOrderIDStable(t *testing.T) {
	a := DeriveClientOrderID("decision-1")
	b := DeriveClientOrderID("decision-1")
	if a != b {
		t.Fatalf("同一决策应派生同一幂等键: %s != %s", a, b)
	}
	if a == DeriveClientOrderID("decision-2") {
		t.Fatalf("不同决策不应派生同一幂等键")
	}
}

func TestExecuteFillsOrder(t *testing.T) {
	venue := exchange.NewPaper()
	e, l := newTestEngine(venue)

	d, v := approvedDecision("d-fill")
	order, err := e.Execute(context.Background(), d, v)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Fatalf("模拟盘应即时成交，实际 %s", order.Status)
	}

	// 台账与返回一致
	stored, err := l.Get(order.ClientOrderID)
	if err != nil {
		t.Fatalf("台账读取失败: %v", err)
	}
	if stored.Status != domain.OrderStatusFilled {
		t.Fatalf("台账状态应为 filled，实际 %s", stored.Status)
	}
}

func TestExecuteIdempotent(t *testing.T) {
	venue := exchange.NewPaper()
	e, _ := newTestEngine(venue)

	d, v := approvedDecision("d-dup")
	if _, err := e.Execute(context.Background(), d, v); err != nil {
		t.Fatalf("首次执行失败: %v", err)
	}
	if _, err := e.Execute(context.Background(), d, v); err != nil {
		t.Fatalf("重复执行失败: %v", err)
	}

	if n := venue.CreatedOrders(); n != 1 {
		t.Fatalf("同一决策最多产生一笔交易所订单，实际 %d", n)
	}
}

// 属性：任意决策序列里，每个唯一决策 ID 恰好对应一笔交易所订单
func TestExecuteIdempotentProperty(t *testing.T) {
	property := func(seed uint8, repeats uint8) bool {
		venue := exchange.NewPaper()
		e, _ := newTestEngine(venue)

		unique := int(seed%5) + 1
		times := int(repeats%3) + 2
		for i := 0; i < unique; i++ {
			d, v := approvedDecision(fmt.Sprintf("d-%d-%d", seed, i))
			for j := 0; j < times; j++ {
				if _, err := e.Execute(context.Background(), d, v); err != nil {
					return false
				}
			}
		}
		return venue.CreatedOrders() == unique
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 30}); err != nil {
		t.Fatalf("幂等性被破坏: %v", err)
	}
}

func TestRetryBoundedAndRecovers(t *testing.T) {
	venue := exchange.NewPaper()
	e, _ := newTestEngine(venue)

	// 2 次瞬时失败后第 3 次成功
	venue.InjectTransientFailures(2)
	d, v := approvedDecision("d-retry")
	order, err := e.Execute(context.Background(), d, v)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if order.Attempts != 3 {
		t.Fatalf("应在第 3 次尝试成功，实际 %d", order.Attempts)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Fatalf("恢复后应成交，实际 %s", order.Status)
	}
}

func TestRetryNeverExceedsMaxAttempts(t *testing.T) {
	venue := exchange.NewPaper()
	e, l := newTestEngine(venue)

	// 失败次数多于上限：重试必须止步于 MaxAttempts
	venue.InjectTransientFailures(10)
	d, v := approvedDecision("d-exhaust")
	order, err := e.Execute(context.Background(), d, v)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if order.Attempts != 3 {
		t.Fatalf("尝试次数应恰好 %d，实际 %d", 3, order.Attempts)
	}
	// 最后一次的结果不明，不能判死为 rejected，要留给对账
	if order.Status != domain.OrderStatusTimedOut {
		t.Fatalf("重试耗尽应标记 timed_out 待对账，实际 %s", order.Status)
	}
	if venue.CreatedOrders() != 0 {
		t.Fatalf("从未成功的提交不应建单，实际 %d", venue.CreatedOrders())
	}

	// 对账发现交易所确实没有这笔订单，才安全收口为 canceled
	open, err := l.Open()
	if err != nil || len(open) != 1 {
		t.Fatalf("悬挂订单应留在台账等对账，实际 %d (%v)", len(open), err)
	}
	book := domain.NewPositionBook(decimal.NewFromInt(10000))
	rec := NewReconciler(fastExecConfig(), venue, l, book, nil, events.NewBus())
	rec.Sweep(context.Background())

	stored, _ := l.Get(order.ClientOrderID)
	if stored.Status != domain.OrderStatusCanceled {
		t.Fatalf("对账后应收口为 canceled，实际 %s", stored.Status)
	}
}

// 最后一次尝试返回瞬时错误，但订单其实已在交易所生效：
// 台账必须保持非终态，让对账把真实成交找回来。
func TestAmbiguousFinalAttemptLeftForReconcile(t *testing.T) {
	venue := exchange.NewPaper()
	l := ledger.NewMemory()
	book := domain.NewPositionBook(decimal.NewFromInt(10000))
	e := NewEngine(fastExecConfig(), "main", venue, l, book, nil, events.NewBus())

	// 前两次网络抖动，第三次建单成功但 ack 丢失
	venue.InjectTransientFailures(2)
	venue.InjectDrop()
	d, v := approvedDecision("d-ambiguous")
	order, err := e.Execute(context.Background(), d, v)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if venue.CreatedOrders() != 1 {
		t.Fatalf("交易所侧应已建单，实际 %d", venue.CreatedOrders())
	}
	if order.Status != domain.OrderStatusTimedOut {
		t.Fatalf("结果不明应标记 timed_out，实际 %s", order.Status)
	}

	open, err := l.Open()
	if err != nil || len(open) != 1 {
		t.Fatalf("订单必须留在对账视野内，实际 %d (%v)", len(open), err)
	}

	// 对账以交易所为准，把成交找回来
	rec := NewReconciler(fastExecConfig(), venue, l, book, nil, events.NewBus())
	rec.Sweep(context.Background())

	stored, _ := l.Get(order.ClientOrderID)
	if stored.Status != domain.OrderStatusFilled {
		t.Fatalf("对账后应确认成交，实际 %s", stored.Status)
	}
	if book.State().OpenPositions != 1 {
		t.Fatalf("找回的成交应计入持仓")
	}
}

func TestVenueRejectionIsTerminal(t *testing.T) {
	venue := exchange.NewPaper()
	e, _ := newTestEngine(venue)

	venue.InjectRejection()
	d, v := approvedDecision("d-reject")
	order, err := e.Execute(context.Background(), d, v)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if order.Status != domain.OrderStatusRejected {
		t.Fatalf("拒单应标记 rejected，实际 %s", order.Status)
	}
	// 拒单不重试
	if order.Attempts != 1 {
		t.Fatalf("终态拒绝不应重试，实际尝试 %d 次", order.Attempts)
	}
}

func TestBreakerAbortsUnackedSubmission(t *testing.T) {
	bus := events.NewBus()
	brk, err := risk.NewBreaker(config.BreakerConfig{
		StrategyMaxDailyLossPct: 0.05,
		MaxConsecutiveLosses:    5,
		VolatilityHaltPct:       0.20,
		Timezone:                "UTC",
	}, 0.05, decimal.NewFromInt(10000), nil, bus)
	if err != nil {
		t.Fatalf("创建熔断器失败: %v", err)
	}
	brk.Halt("演练")

	venue := exchange.NewPaper()
	l := ledger.NewMemory()
	book := domain.NewPositionBook(decimal.NewFromInt(10000))
	e := NewEngine(fastExecConfig(), "main", venue, l, book, brk, bus)

	d, v := approvedDecision("d-halted")
	order, err := e.Execute(context.Background(), d, v)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	// 从未发出过的订单直接取消，绝不触达交易所
	if order.Status != domain.OrderStatusCanceled {
		t.Fatalf("熔断中止应取消订单，实际 %s", order.Status)
	}
	if venue.CreatedOrders() != 0 {
		t.Fatalf("熔断期间不应有订单到达交易所")
	}
}

func TestFillReportsLossToBreaker(t *testing.T) {
	bus := events.NewBus()
	brk, err := risk.NewBreaker(config.BreakerConfig{
		StrategyMaxDailyLossPct: 0.05,
		MaxConsecutiveLosses:    2,
		VolatilityHaltPct:       0.20,
		Timezone:                "UTC",
	}, 0.05, decimal.NewFromInt(10000), nil, bus)
	if err != nil {
		t.Fatalf("创建熔断器失败: %v", err)
	}

	venue := exchange.NewPaper()
	l := ledger.NewMemory()
	book := domain.NewPositionBook(decimal.NewFromInt(10000))
	e := NewEngine(fastExecConfig(), "main", venue, l, book, brk, bus)

	// 开多 @65000，再平仓 @60000：亏损应上报熔断器
	venue.SetPrice(decimal.NewFromInt(65000))
	d1, v1 := approvedDecision("d-open")
	if _, err := e.Execute(context.Background(), d1, v1); err != nil {
		t.Fatalf("开仓失败: %v", err)
	}

	venue.SetPrice(decimal.NewFromInt(60000))
	d2, v2 := approvedDecision("d-close")
	d2.Direction = domain.DirectionShort
	if _, err := e.Execute(context.Background(), d2, v2); err != nil {
		t.Fatalf("平仓失败: %v", err)
	}

	state := book.State()
	if !state.DailyRealizedPnL.IsNegative() {
		t.Fatalf("平仓应记录已实现亏损，实际 %s", state.DailyRealizedPnL)
	}
}

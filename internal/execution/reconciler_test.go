package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/internal/events"
	"github.com/opentrade/opentrade/internal/exchange"
	"github.com/opentrade/opentrade/internal/ledger"
)

func newTestReconciler(venue *exchange.Paper, l *ledger.Memory) (*Reconciler, *domain.PositionBook) {
	book := domain.NewPositionBook(decimal.NewFromInt(10000))
	return NewReconciler(fastExecConfig(), venue, l, book, nil, events.NewBus()), book
}

// 超时订单在一轮对账内按交易所真实状态收口
func TestReconcileTimedOutToVenueTruth(t *testing.T) {
	venue := exchange.NewPaper()
	l := ledger.NewMemory()
	r, book := newTestReconciler(venue, l)

	// 订单实际已到达交易所并成交，但本地只留下 timed_out
	order := &domain.Order{
		ClientOrderID: "ot-ambiguous",
		DecisionID:    "d-1",
		AccountID:     "main",
		StrategyID:    "s1",
		Symbol:        "BTC/USDT",
		Side:          domain.OrderSideBuy,
		Size:          decimal.NewFromInt(500),
		Status:        domain.OrderStatusPending,
		CreatedAt:     time.Now().Add(-5 * time.Minute),
	}
	if _, err := venue.SubmitOrder(context.Background(), order); err != nil {
		t.Fatalf("模拟建单失败: %v", err)
	}
	order.Status = domain.OrderStatusTimedOut
	if err := l.Create(order); err != nil {
		t.Fatalf("台账写入失败: %v", err)
	}

	r.Sweep(context.Background())

	stored, err := l.Get("ot-ambiguous")
	if err != nil {
		t.Fatalf("台账读取失败: %v", err)
	}
	if stored.Status != domain.OrderStatusFilled {
		t.Fatalf("对账应以交易所为准收口为 filled，实际 %s", stored.Status)
	}
	// 成交同步进持仓簿
	if _, ok := book.Get("BTC/USDT"); !ok {
		t.Fatalf("对账确认的成交应更新持仓")
	}
}

// 交易所查无此单：提交从未生效，安全取消
func TestReconcileUnknownOrderCanceled(t *testing.T) {
	venue := exchange.NewPaper()
	l := ledger.NewMemory()
	r, _ := newTestReconciler(venue, l)

	order := &domain.Order{
		ClientOrderID: "ot-never-sent",
		DecisionID:    "d-2",
		Symbol:        "BTC/USDT",
		Side:          domain.OrderSideBuy,
		Size:          decimal.NewFromInt(500),
		Status:        domain.OrderStatusTimedOut,
		CreatedAt:     time.Now().Add(-5 * time.Minute),
	}
	if err := l.Create(order); err != nil {
		t.Fatalf("台账写入失败: %v", err)
	}

	r.Sweep(context.Background())

	stored, _ := l.Get("ot-never-sent")
	if stored.Status != domain.OrderStatusCanceled {
		t.Fatalf("交易所查无此单应取消，实际 %s", stored.Status)
	}
}

// 宽限期内的新订单不应被对账打扰
func TestReconcileRespectsGraceWindow(t *testing.T) {
	venue := exchange.NewPaper()
	l := ledger.NewMemory()
	cfg := fastExecConfig()
	cfg.ReconcileGraceSec = 3600
	book := domain.NewPositionBook(decimal.NewFromInt(10000))
	r := NewReconciler(cfg, venue, l, book, nil, events.NewBus())

	order := &domain.Order{
		ClientOrderID: "ot-fresh",
		DecisionID:    "d-3",
		Symbol:        "BTC/USDT",
		Side:          domain.OrderSideBuy,
		Size:          decimal.NewFromInt(500),
		Status:        domain.OrderStatusSubmitted,
		CreatedAt:     time.Now(),
	}
	if err := l.Create(order); err != nil {
		t.Fatalf("台账写入失败: %v", err)
	}

	r.Sweep(context.Background())

	stored, _ := l.Get("ot-fresh")
	if stored.Status != domain.OrderStatusSubmitted {
		t.Fatalf("宽限期内订单不应被改动，实际 %s", stored.Status)
	}
}

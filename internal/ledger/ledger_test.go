package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opentrade/opentrade/internal/domain"
)

func newOrder(id string, status domain.OrderStatus) *domain.Order {
	return &domain.Order{
		ClientOrderID: id,
		DecisionID:    "d-" + id,
		AccountID:     "main",
		Symbol:        "BTC/USDT",
		Side:          domain.OrderSideBuy,
		Size:          decimal.NewFromInt(1000),
		Status:        status,
	}
}

// 台账实现共用的行为测试；badger 实现走同一套
func runLedgerSuite(t *testing.T, l Ledger) {
	t.Helper()

	// 幂等键冲突
	if err := l.Create(newOrder("c1", domain.OrderStatusPending)); err != nil {
		t.Fatalf("首次写入失败: %v", err)
	}
	if err := l.Create(newOrder("c1", domain.OrderStatusPending)); !errors.Is(err, ErrExists) {
		t.Fatalf("重复写入应返回 ErrExists，实际 %v", err)
	}

	got, err := l.Get("c1")
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if got.Status != domain.OrderStatusPending {
		t.Fatalf("状态不符: %s", got.Status)
	}

	// 正常推进
	got.Status = domain.OrderStatusFilled
	if err := l.Update(got); err != nil {
		t.Fatalf("更新失败: %v", err)
	}

	// 终态保护：filled 不能退回 submitted
	back := newOrder("c1", domain.OrderStatusSubmitted)
	if err := l.Update(back); !errors.Is(err, ErrTerminal) {
		t.Fatalf("终态回退应返回 ErrTerminal，实际 %v", err)
	}

	// 终态同状态重写允许（补充成交明细）
	refill := newOrder("c1", domain.OrderStatusFilled)
	refill.FilledSize = decimal.NewFromInt(1000)
	if err := l.Update(refill); err != nil {
		t.Fatalf("终态同状态重写应允许: %v", err)
	}

	// Open 只返回非终态
	if err := l.Create(newOrder("c2", domain.OrderStatusSubmitted)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := l.Create(newOrder("c3", domain.OrderStatusTimedOut)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	open, err := l.Open()
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("非终态订单应为 2 个（submitted/timed_out），实际 %d", len(open))
	}

	if _, err := l.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("不存在的键应返回 ErrNotFound，实际 %v", err)
	}
}

func TestMemoryLedger(t *testing.T) {
	runLedgerSuite(t, NewMemory())
}

func TestBadgerLedger(t *testing.T) {
	l, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("打开台账失败: %v", err)
	}
	defer l.Close()
	runLedgerSuite(t, l)
}

func TestBadgerLedgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	l, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("打开失败: %v", err)
	}
	if err := l.Create(newOrder("c1", domain.OrderStatusSubmitted)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}

	// 重启后非终态订单仍在，可被执行引擎接管
	l, err = OpenBadger(dir)
	if err != nil {
		t.Fatalf("重新打开失败: %v", err)
	}
	defer l.Close()
	open, err := l.Open()
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if len(open) != 1 || open[0].ClientOrderID != "c1" {
		t.Fatalf("重启后应找回悬挂订单，实际 %d", len(open))
	}
}

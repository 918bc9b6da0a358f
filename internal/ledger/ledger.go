package ledger

import (
	"errors"
	"sync"

	"github.com/opentrade/opentrade/internal/domain"
)

var (
	// ErrNotFound 订单不存在
	ErrNotFound = errors.New("order not found in ledger")
	// ErrExists 幂等键冲突：同一 client_order_id 已有记录
	ErrExists = errors.New("order already exists in ledger")
	// ErrTerminal 终态订单不允许被中间状态覆盖
	ErrTerminal = errors.New("order already in terminal status")
)

// Ledger 订单台账
//
// 台账是幂等执行的权威记录：任何网络调用之前先落台账，
// 重复执行同一决策时以台账里的既有记录为准。
type Ledger interface {
	// Create 写入新订单；幂等键已存在时返回 ErrExists。
	Create(order *domain.Order) error
	// Get 按幂等键读取。
	Get(clientOrderID string) (*domain.Order, error)
	// Update 覆盖写；不允许把终态改回中间状态。
	Update(order *domain.Order) error
	// Open 列出所有非终态订单（对账扫描用）。
	Open() ([]*domain.Order, error)
	Close() error
}

// guardTransition 终态保护
// 已进入终态的记录只能原状态重写（补充成交明细），
// 不能退回中间状态。
func guardTransition(existing, next *domain.Order) error {
	if existing.Status.IsTerminal() && existing.Status != next.Status {
		return ErrTerminal
	}
	return nil
}

// Memory 内存台账，测试和模拟盘用
type Memory struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewMemory 创建内存台账
func NewMemory() *Memory {
	return &Memory{orders: make(map[string]domain.Order)}
}

func (m *Memory) Create(order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ClientOrderID]; ok {
		return ErrExists
	}
	m.orders[order.ClientOrderID] = *order
	return nil
}

func (m *Memory) Get(clientOrderID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[clientOrderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *Memory) Update(order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.orders[order.ClientOrderID]
	if !ok {
		return ErrNotFound
	}
	if err := guardTransition(&existing, order); err != nil {
		return err
	}
	m.orders[order.ClientOrderID] = *order
	return nil
}

func (m *Memory) Open() ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			copied := o
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

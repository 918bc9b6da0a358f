package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/pkg/logger"
)

// Paper 模拟盘交易所
//
// 按 client_order_id 去重：同一个 id 重复提交返回同一个
// 交易所订单号，不会产生第二笔订单。支持注入瞬时失败 /
// 拒单 / 超时，执行引擎的重试和对账路径靠它验证。
type Paper struct {
	mu     sync.Mutex
	orders map[string]*paperOrder
	seq    int
	price  decimal.Decimal

	// 故障注入
	transientLeft int  // 接下来 N 次提交返回瞬时错误
	rejectNext    bool // 下一次提交直接拒单
	dropNext      bool // 下一次提交吞掉请求（订单已建但不返回 ack）
	created       int  // 实际建单次数（幂等断言用）
}

type paperOrder struct {
	venueOrderID string
	order        domain.Order
}

// NewPaper 创建模拟盘
func NewPaper() *Paper {
	return &Paper{
		orders: make(map[string]*paperOrder),
		price:  decimal.NewFromInt(65000),
	}
}

// SetPrice 设置模拟成交价
func (p *Paper) SetPrice(price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price = price
}

// InjectTransientFailures 注入 N 次瞬时失败
func (p *Paper) InjectTransientFailures(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transientLeft = n
}

// InjectRejection 注入一次拒单
func (p *Paper) InjectRejection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectNext = true
}

// InjectDrop 注入一次“订单已建但 ack 丢失”
// 模拟提交超时的歧义结果，留给对账解决。
func (p *Paper) InjectDrop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropNext = true
}

// CreatedOrders 实际建单次数
func (p *Paper) CreatedOrders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

func (p *Paper) SubmitOrder(_ context.Context, order *domain.Order) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 幂等：同一 client_order_id 返回既有订单号
	if existing, ok := p.orders[order.ClientOrderID]; ok {
		return existing.venueOrderID, nil
	}

	if p.transientLeft > 0 {
		p.transientLeft--
		return "", fmt.Errorf("%w: 模拟网络抖动", ErrTransient)
	}
	if p.rejectNext {
		p.rejectNext = false
		return "", fmt.Errorf("%w: 模拟拒单", ErrRejected)
	}

	p.seq++
	po := &paperOrder{
		venueOrderID: fmt.Sprintf("paper-%06d", p.seq),
		order:        *order,
	}
	// 模拟盘即时全部成交
	po.order.Status = domain.OrderStatusFilled
	po.order.FilledSize = order.Size
	po.order.AvgFillPrice = p.price
	p.orders[order.ClientOrderID] = po
	p.created++

	if p.dropNext {
		p.dropNext = false
		return "", fmt.Errorf("%w: 模拟 ack 丢失", ErrTransient)
	}

	logger.Debugf("[paper] 订单成交 %s @ %s", order.ClientOrderID, p.price)
	return po.venueOrderID, nil
}

func (p *Paper) CancelOrder(_ context.Context, clientOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[clientOrderID]
	if !ok {
		return ErrNotFound
	}
	if po.order.Status.IsTerminal() {
		// 已终态的订单无法取消，按交易所惯例报错
		return fmt.Errorf("%w: 订单已终态 %s", ErrRejected, po.order.Status)
	}
	po.order.Status = domain.OrderStatusCanceled
	return nil
}

func (p *Paper) QueryOrder(_ context.Context, clientOrderID string) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[clientOrderID]
	if !ok {
		return nil, ErrNotFound
	}
	o := po.order
	o.VenueOrderID = po.venueOrderID
	return &o, nil
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单生命周期状态
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"     // 已落台账，尚未发往交易所
	OrderStatusSubmitted  OrderStatus = "submitted"   // 已发出，等待交易所确认
	OrderStatusAcked      OrderStatus = "acked"       // 交易所已确认接收
	OrderStatusPartFilled OrderStatus = "part_filled" // 部分成交
	OrderStatusFilled     OrderStatus = "filled"      // 全部成交
	OrderStatusRejected   OrderStatus = "rejected"    // 交易所拒绝
	OrderStatusCanceled   OrderStatus = "canceled"    // 已取消
	OrderStatusTimedOut   OrderStatus = "timed_out"   // 提交超时，归属待对账确认
)

// IsTerminal 是否为终态
// 终态不可被任何中间状态覆盖，台账层会拒绝这样的写入。
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCanceled:
		return true
	}
	return false
}

// OrderSide 订单买卖方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SideFromDirection 决策方向换算为订单方向
func SideFromDirection(d Direction) OrderSide {
	if d == DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Order 订单台账记录
//
// ClientOrderID 由 DecisionID 确定性派生，是幂等的根基：
// 同一决策重复执行时派生出同一个 ClientOrderID，
// 交易所和台账都能据此去重。
type Order struct {
	ClientOrderID string          // 本地幂等键（由决策派生）
	VenueOrderID  string          // 交易所订单号（ack 后才有）
	DecisionID    string          // 来源决策
	AccountID     string          // 账户
	StrategyID    string          // 策略
	Symbol        string          // 标的
	Side          OrderSide       // 方向
	Size          decimal.Decimal // 委托金额（标的计价）
	FilledSize    decimal.Decimal // 已成交金额
	AvgFillPrice  decimal.Decimal // 平均成交价
	StopLoss      decimal.Decimal // 附带止损价
	TakeProfit    decimal.Decimal // 附带止盈价
	Status        OrderStatus     // 当前状态
	Attempts      int             // 已提交次数
	LastError     string          // 最近一次失败原因
	CreatedAt     time.Time       // 落台账时间
	SubmittedAt   *time.Time      // 最近一次发出时间
	AckedAt       *time.Time      // 交易所确认时间
	ClosedAt      *time.Time      // 进入终态时间
}

// IsFilled 是否已全部成交
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// NeedsReconcile 是否处于需要对账的悬挂状态
// submitted / timed_out 表示本地不确定交易所是否收到。
func (o *Order) NeedsReconcile() bool {
	return o.Status == OrderStatusSubmitted || o.Status == OrderStatusTimedOut
}

// CanRetry 是否还允许重试提交
// 只有尚未被交易所确认的订单才能重试，ack 之后重复提交
// 会产生双重下单。
func (o *Order) CanRetry(maxAttempts int) bool {
	if o.Status != OrderStatusPending && o.Status != OrderStatusSubmitted {
		return false
	}
	return o.Attempts < maxAttempts
}

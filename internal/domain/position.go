package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Position 持仓
type Position struct {
	Symbol        string
	Side          OrderSide       // 开仓方向
	Size          decimal.Decimal // 持仓金额（标的计价）
	EntryPrice    decimal.Decimal // 开仓均价
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	OpenedAt      time.Time
}

// PositionBook 持仓簿
// 执行引擎在成交回报到达时更新，风控在校验时读取。
type PositionBook struct {
	mu        sync.RWMutex
	equity    decimal.Decimal
	positions map[string]*Position
	dailyPnL  decimal.Decimal
}

// NewPositionBook 创建持仓簿
func NewPositionBook(equity decimal.Decimal) *PositionBook {
	return &PositionBook{
		equity:    equity,
		positions: make(map[string]*Position),
	}
}

// ApplyFill 应用成交回报
// 同标的反向成交视为平仓，实现盈亏计入当日累计。
// 平仓时返回 (已实现盈亏, true)，开仓/加仓返回 (0, false)。
func (b *PositionBook) ApplyFill(o *Order) (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.positions[o.Symbol]
	if ok && existing.Side != o.Side {
		// 平仓：按成交价与开仓价的差计算已实现盈亏
		pnl := o.AvgFillPrice.Sub(existing.EntryPrice).
			Div(existing.EntryPrice).
			Mul(existing.Size)
		if existing.Side == OrderSideSell {
			pnl = pnl.Neg()
		}
		b.dailyPnL = b.dailyPnL.Add(pnl)
		b.equity = b.equity.Add(pnl)
		delete(b.positions, o.Symbol)
		return pnl, true
	}

	if ok {
		// 同向加仓：均价加权
		total := existing.Size.Add(o.FilledSize)
		if total.IsPositive() {
			existing.EntryPrice = existing.EntryPrice.Mul(existing.Size).
				Add(o.AvgFillPrice.Mul(o.FilledSize)).
				Div(total)
		}
		existing.Size = total
		return decimal.Zero, false
	}

	b.positions[o.Symbol] = &Position{
		Symbol:     o.Symbol,
		Side:       o.Side,
		Size:       o.FilledSize,
		EntryPrice: o.AvgFillPrice,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		OpenedAt:   time.Now(),
	}
	return decimal.Zero, false
}

// MarkPrice 按最新价更新未实现盈亏
func (b *PositionBook) MarkPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok || p.EntryPrice.IsZero() {
		return
	}
	pnl := price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(p.Size)
	if p.Side == OrderSideSell {
		pnl = pnl.Neg()
	}
	p.UnrealizedPnL = pnl
}

// Get 读取某标的持仓（副本）
func (b *PositionBook) Get(symbol string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// State 生成风控校验用的账户视图
func (b *PositionBook) State() AccountState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	exposure := decimal.Zero
	unrealized := decimal.Zero
	for _, p := range b.positions {
		exposure = exposure.Add(p.Size)
		unrealized = unrealized.Add(p.UnrealizedPnL)
	}
	return AccountState{
		Equity:           b.equity,
		Exposure:         exposure,
		OpenPositions:    len(b.positions),
		DailyRealizedPnL: b.dailyPnL,
		UnrealizedPnL:    unrealized,
	}
}

// ResetDaily 交易日切换时清零当日已实现盈亏
func (b *PositionBook) ResetDaily() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dailyPnL = decimal.Zero
}

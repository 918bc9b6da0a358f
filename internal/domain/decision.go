package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecisionStatus 决策生命周期状态
type DecisionStatus string

const (
	DecisionProposed DecisionStatus = "proposed" // 协调器产出
	DecisionApproved DecisionStatus = "approved" // 风控放行
	DecisionRejected DecisionStatus = "rejected" // 风控拒绝
	DecisionExecuted DecisionStatus = "executed" // 执行完成
	DecisionFailed   DecisionStatus = "failed"   // 执行失败
)

// Decision 协调器融合所有 Agent 信号后的最终决策
//
// 决策是执行引擎的唯一输入：同一个 DecisionID 不论被提交
// 多少次，最多只会产生一个交易所订单（幂等）。
type Decision struct {
	ID         string         // 决策唯一标识（uuid）
	Symbol     string         // 交易标的
	StrategyID string         // 归属策略
	Direction  Direction      // 最终方向
	Size       float64        // 建议仓位占比 [0, 1]（账户权益的比例）
	Confidence float64        // 融合置信度 [0, 1]
	Vetoed     bool           // 是否因风险否决被强制 hold
	Status     DecisionStatus // 生命周期状态
	Signals    []Signal       // 本轮全部 Agent 信号（审计用）
	CreatedAt  time.Time      // 决策时间
}

// RejectReason 风控拒绝原因
// 校验按固定顺序短路，第一个触发的检查即为拒绝原因。
type RejectReason string

const (
	RejectCircuitOpen    RejectReason = "circuit_open"    // 熔断开启
	RejectStrategyPaused RejectReason = "strategy_paused" // 策略暂停
	RejectPositionLimit  RejectReason = "position_limit"  // 单笔仓位超限
	RejectLeverageLimit  RejectReason = "leverage_limit"  // 杠杆超限
	RejectPositionCount  RejectReason = "position_count"  // 持仓数超限
)

// Verdict 风控裁决结果
type Verdict struct {
	Approved     bool            // 是否放行
	Reason       RejectReason    // 拒绝原因（Approved 时为空）
	ApprovedSize decimal.Decimal // 放行的仓位金额（标的计价）
	StopLoss     decimal.Decimal // 附带止损价（0 表示不附带）
	TakeProfit   decimal.Decimal // 附带止盈价（0 表示不附带）
}

// AccountState 风控校验所需的账户视图
type AccountState struct {
	Equity           decimal.Decimal // 账户权益
	Exposure         decimal.Decimal // 当前总敞口（名义价值）
	OpenPositions    int             // 当前持仓数
	DailyRealizedPnL decimal.Decimal // 今日已实现盈亏（亏损为负）
	UnrealizedPnL    decimal.Decimal // 未实现盈亏
}

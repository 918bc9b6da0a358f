package events

import (
	"sync"
	"time"

	"github.com/opentrade/opentrade/internal/domain"
)

// Type 事件类型
type Type string

const (
	TypeDecision    Type = "decision"     // 协调器产出决策
	TypeVerdict     Type = "verdict"      // 风控裁决
	TypeOrderUpdate Type = "order_update" // 订单状态变化
	TypeTierChange  Type = "tier_change"  // 熔断层级变化
	TypeTradeClosed Type = "trade_closed" // 交易平仓
)

// Event 系统事件
type Event struct {
	Type      Type
	Timestamp time.Time

	Decision *domain.Decision // TypeDecision / TypeVerdict
	Verdict  *domain.Verdict  // TypeVerdict
	Order    *domain.Order    // TypeOrderUpdate / TypeTradeClosed
	Tier     string           // TypeTierChange：新层级
	PrevTier string           // TypeTierChange：旧层级
	Detail   string           // 附加说明
}

// Bus 进程内事件总线
//
// 发布永不阻塞：订阅者 channel 满了就丢弃（订阅者自己负责
// 及时消费）。同时维护一个环形缓冲，运维接口可以查最近事件。
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	recent []Event
	head   int
	size   int
}

const recentCapacity = 256

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		recent: make([]Event, recentCapacity),
	}
}

// Subscribe 订阅事件，返回只读 channel
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish 发布事件（非阻塞）
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.recent[b.head] = e
	b.head = (b.head + 1) % recentCapacity
	if b.size < recentCapacity {
		b.size++
	}
	subs := b.subs
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// 订阅者跟不上就丢弃，不能拖慢交易主流程
		}
	}
}

// Recent 返回最近的事件（按时间从旧到新）
func (b *Bus) Recent(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	start := (b.head - n + recentCapacity) % recentCapacity
	for i := 0; i < n; i++ {
		out = append(out, b.recent[(start+i)%recentCapacity])
	}
	return out
}

package exchange

import (
	"errors"
	"fmt"

	"github.com/opentrade/opentrade/internal/ports"
	"github.com/opentrade/opentrade/pkg/config"
)

// 错误分类决定执行引擎的处理路径：
// 瞬时错误走退避重试，终态拒绝直接标记 rejected。
var (
	// ErrTransient 瞬时错误（网络 / 5xx / 限流），可重试
	ErrTransient = errors.New("exchange transient error")
	// ErrRejected 交易所终态拒绝，不可重试
	ErrRejected = errors.New("exchange rejected order")
	// ErrNotFound 交易所查不到该订单
	ErrNotFound = errors.New("exchange order not found")
)

// New 按配置选择交易所接入
// 核心代码不感知具体 venue，差异全部封装在适配器内。
func New(cfg config.ExchangeConfig) (ports.Venue, error) {
	switch cfg.Venue {
	case "paper":
		return NewPaper(), nil
	case "rest":
		return NewREST(cfg)
	}
	return nil, fmt.Errorf("不支持的 venue: %s", cfg.Venue)
}

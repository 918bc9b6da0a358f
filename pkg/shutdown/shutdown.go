package shutdown

import (
	"context"
	"sync"

	"github.com/opentrade/opentrade/pkg/logger"
)

// Handler 退出清理回调
// wg.Done() 由 Manager 统一处理，回调只在自己另起 goroutine 时才需要碰 wg。
type Handler func(ctx context.Context, wg *sync.WaitGroup)

// Manager 收集进程退出时要执行的清理回调，统一并发执行。
// 运维服务、审计库、订单台账的关闭都走这里，主流程只等一个点。
type Manager struct {
	mu        sync.Mutex
	callbacks []Handler
}

// NewManager 创建关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册清理回调
func (m *Manager) OnShutdown(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, handler)
}

// Shutdown 并发执行全部回调，阻塞到完成或 ctx 超时
// ctx 必须带超时，交易进程退出不能被一个卡死的回调拖住。
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}
	logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	var wg sync.WaitGroup
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		go func(handler Handler) {
			defer wg.Done()
			handler(ctx, &wg)
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("所有关闭回调已完成")
	case <-ctx.Done():
		logger.Warnf("⚠️ 关闭超时: %v", ctx.Err())
	}
}

package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opentrade/opentrade/pkg/indicators"
	"github.com/opentrade/opentrade/pkg/logger"
)

const (
	readTimeout      = 60 * time.Second
	reconnectBackoff = 5 * time.Second
)

// klineMessage 行情推送的 K 线消息
type klineMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Ts     int64   `json:"ts"` // 毫秒
}

// Feed 行情 WebSocket 接入
// 断线自动重连，收到的收盘 K 线喂给行情服务。
type Feed struct {
	url string
	svc *Service
	log *logrus.Entry
}

// NewFeed 创建行情流
func NewFeed(url string, svc *Service) *Feed {
	return &Feed{
		url: url,
		svc: svc,
		log: logger.WithField("module", "marketdata"),
	}
}

// Run 阻塞运行直到 ctx 取消
func (f *Feed) Run(ctx context.Context) {
	for {
		if err := f.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				f.log.Info("行情流退出")
				return
			}
			f.log.Warnf("⚠️ 行情连接断开: %v，%s 后重连", err, reconnectBackoff)
		}

		t := time.NewTimer(reconnectBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			f.log.Info("行情流退出")
			return
		case <-t.C:
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	f.log.Infof("📡 行情已连接 %s", f.url)

	// ctx 取消时主动断开，解除 ReadMessage 阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg klineMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.log.Debugf("忽略无法解析的消息: %v", err)
			continue
		}
		if msg.Type != "kline" || msg.Close <= 0 {
			continue
		}

		f.svc.ApplyCandle(indicators.Candle{
			Open:   msg.Open,
			High:   msg.High,
			Low:    msg.Low,
			Close:  msg.Close,
			Volume: msg.Volume,
			Ts:     time.UnixMilli(msg.Ts),
		})
	}
}

package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opentrade/opentrade/pkg/indicators"
)

func TestSnapshotRequiresWarmup(t *testing.T) {
	svc := NewService("BTC/USDT")

	if _, err := svc.Snapshot(context.Background(), "BTC/USDT"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("热身前应返回 ErrNotReady，实际 %v", err)
	}

	for i := 0; i < 30; i++ {
		svc.ApplyCandle(indicators.Candle{
			Open: 100, High: 101, Low: 99, Close: 100 + float64(i), Volume: 100,
		})
	}

	snap, err := svc.Snapshot(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("热身后快照失败: %v", err)
	}
	if snap.Price != 129 {
		t.Fatalf("快照价格应为最新收盘价 129，实际 %.2f", snap.Price)
	}
	if snap.EMAFast <= snap.EMASlow {
		t.Fatalf("上涨序列快速 EMA 应大于慢速")
	}
}

func TestSnapshotCarriesAuxData(t *testing.T) {
	svc := NewService("BTC/USDT")
	for i := 0; i < 30; i++ {
		svc.ApplyCandle(indicators.Candle{Close: 100, High: 101, Low: 99, Volume: 100})
	}

	svc.SetAux(AuxData{
		FearGreedIndex:  20,
		FundingRate:     0.01,
		ExchangeNetFlow: 1e6,
	})

	snap, err := svc.Snapshot(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("快照失败: %v", err)
	}
	if snap.FearGreedIndex != 20 || snap.FundingRate != 0.01 || snap.ExchangeNetFlow != 1e6 {
		t.Fatalf("辅助数据未进入快照: %+v", snap)
	}
}

func TestFeedConsumesKlines(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 30; i++ {
			msg := `{"type":"kline","symbol":"BTC/USDT","open":100,"high":101,"low":99,"close":100,"volume":50,"ts":1700000000000}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// 保持连接，等客户端退出
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	svc := NewService("BTC/USDT")
	feed := NewFeed("ws"+strings.TrimPrefix(server.URL, "http"), svc)

	ctx, cancel := context.WithCancel(context.Background())
	go feed.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if svc.LastPrice() == 100 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if svc.LastPrice() != 100 {
		t.Fatalf("行情流应把 K 线喂进服务，最新价 %.2f", svc.LastPrice())
	}
}

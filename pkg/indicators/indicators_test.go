package indicators

import (
	"math"
	"testing"
)

func feed(t *Tracker, closes ...float64) {
	for _, c := range closes {
		t.Push(Candle{Open: c, High: c * 1.01, Low: c * 0.99, Close: c, Volume: 100})
	}
}

func TestTrackerWarmup(t *testing.T) {
	tr := NewTracker()
	if tr.Ready() {
		t.Fatalf("空跟踪器不应就绪")
	}
	for i := 0; i < 26; i++ {
		tr.Push(Candle{Close: 100, High: 101, Low: 99, Volume: 100})
	}
	if !tr.Ready() {
		t.Fatalf("26 根 K 线后应就绪")
	}
}

func TestEMAFollowsTrend(t *testing.T) {
	tr := NewTracker()
	// 持续上涨：快速 EMA 应在慢速上方
	for i := 0; i < 40; i++ {
		feed(tr, 100+float64(i))
	}
	if tr.EMAFast() <= tr.EMASlow() {
		t.Fatalf("上涨趋势中快速 EMA 应大于慢速: %.2f vs %.2f", tr.EMAFast(), tr.EMASlow())
	}
	_, _, hist := tr.MACD()
	if hist <= 0 {
		t.Fatalf("上涨趋势中 MACD 柱状图应为正: %.4f", hist)
	}
}

func TestRSIBounds(t *testing.T) {
	up := NewTracker()
	for i := 0; i < 30; i++ {
		feed(up, 100+float64(i)*2)
	}
	if rsi := up.RSI(); rsi < 70 || rsi > 100 {
		t.Fatalf("连续上涨 RSI 应处于超买区: %.2f", rsi)
	}

	down := NewTracker()
	for i := 0; i < 30; i++ {
		feed(down, 200-float64(i)*2)
	}
	if rsi := down.RSI(); rsi > 30 || rsi < 0 {
		t.Fatalf("连续下跌 RSI 应处于超卖区: %.2f", rsi)
	}
}

func TestBollingerSymmetry(t *testing.T) {
	tr := NewTracker()
	feed(tr, 100, 102, 98, 101, 99, 103, 97, 100, 101, 99,
		100, 102, 98, 101, 99, 103, 97, 100, 101, 99)

	upper, mid, lower := tr.Bollinger()
	if upper <= mid || mid <= lower {
		t.Fatalf("布林带顺序错误: %.2f / %.2f / %.2f", upper, mid, lower)
	}
	// 上下轨关于中轨对称
	if math.Abs((upper-mid)-(mid-lower)) > 1e-9 {
		t.Fatalf("上下轨应对称: %.6f vs %.6f", upper-mid, mid-lower)
	}
}

func TestATRPositive(t *testing.T) {
	tr := NewTracker()
	feed(tr, 100, 105, 95, 102, 98)
	if tr.ATR() <= 0 {
		t.Fatalf("有波动的序列 ATR 应为正: %.4f", tr.ATR())
	}
}

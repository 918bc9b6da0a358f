package indicators

import (
	"math"
	"time"
)

// Candle 一根 K 线
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Ts     time.Time
}

// 指标周期沿用常见参数：EMA12/26、RSI14、MACD(12,26,9)、BOLL(20,2)、ATR14
const (
	emaFastPeriod = 12
	emaSlowPeriod = 26
	rsiPeriod     = 14
	signalPeriod  = 9
	bollPeriod    = 20
	bollStdDev    = 2.0
	atrPeriod     = 14
	volMAPeriod   = 20
)

// Tracker 滚动技术指标
// 逐根 K 线喂入，增量更新，不保留完整历史。
type Tracker struct {
	count int

	emaFast float64
	emaSlow float64

	// RSI: Wilder 平滑
	avgGain   float64
	avgLoss   float64
	prevClose float64

	// MACD
	macd       float64
	macdSignal float64

	// ATR: Wilder 平滑
	atr float64

	// 布林带与均量需要窗口
	closes  []float64
	volumes []float64
}

// NewTracker 创建指标跟踪器
func NewTracker() *Tracker {
	return &Tracker{}
}

// Push 喂入一根收盘 K 线
func (t *Tracker) Push(c Candle) {
	t.count++

	// EMA
	if t.count == 1 {
		t.emaFast = c.Close
		t.emaSlow = c.Close
	} else {
		t.emaFast = ema(t.emaFast, c.Close, emaFastPeriod)
		t.emaSlow = ema(t.emaSlow, c.Close, emaSlowPeriod)
	}

	// RSI
	if t.count > 1 {
		change := c.Close - t.prevClose
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		if t.count <= rsiPeriod+1 {
			t.avgGain += gain / rsiPeriod
			t.avgLoss += loss / rsiPeriod
		} else {
			t.avgGain = (t.avgGain*(rsiPeriod-1) + gain) / rsiPeriod
			t.avgLoss = (t.avgLoss*(rsiPeriod-1) + loss) / rsiPeriod
		}
	}

	// MACD
	macd := t.emaFast - t.emaSlow
	if t.count == 1 {
		t.macdSignal = macd
	} else {
		t.macdSignal = ema(t.macdSignal, macd, signalPeriod)
	}
	t.macd = macd

	// ATR
	tr := c.High - c.Low
	if t.count > 1 {
		tr = math.Max(tr, math.Max(math.Abs(c.High-t.prevClose), math.Abs(c.Low-t.prevClose)))
	}
	if t.count == 1 {
		t.atr = tr
	} else {
		t.atr = (t.atr*(atrPeriod-1) + tr) / atrPeriod
	}

	t.prevClose = c.Close

	t.closes = append(t.closes, c.Close)
	if len(t.closes) > bollPeriod {
		t.closes = t.closes[1:]
	}
	t.volumes = append(t.volumes, c.Volume)
	if len(t.volumes) > volMAPeriod {
		t.volumes = t.volumes[1:]
	}
}

// Ready 指标是否已经热身完毕
func (t *Tracker) Ready() bool {
	return t.count >= emaSlowPeriod
}

// EMAFast 快速 EMA（12）
func (t *Tracker) EMAFast() float64 { return t.emaFast }

// EMASlow 慢速 EMA（26）
func (t *Tracker) EMASlow() float64 { return t.emaSlow }

// RSI 相对强弱指数（14，Wilder 平滑）
func (t *Tracker) RSI() float64 {
	if t.count <= rsiPeriod {
		return 50
	}
	if t.avgLoss == 0 {
		return 100
	}
	rs := t.avgGain / t.avgLoss
	return 100 - 100/(1+rs)
}

// MACD 返回 (macd, signal, histogram)
func (t *Tracker) MACD() (float64, float64, float64) {
	return t.macd, t.macdSignal, t.macd - t.macdSignal
}

// Bollinger 返回 (上轨, 中轨, 下轨)
func (t *Tracker) Bollinger() (float64, float64, float64) {
	n := len(t.closes)
	if n == 0 {
		return 0, 0, 0
	}
	sum := 0.0
	for _, v := range t.closes {
		sum += v
	}
	mid := sum / float64(n)

	variance := 0.0
	for _, v := range t.closes {
		variance += (v - mid) * (v - mid)
	}
	sd := math.Sqrt(variance / float64(n))
	return mid + bollStdDev*sd, mid, mid - bollStdDev*sd
}

// ATR 平均真实波幅（14，Wilder 平滑）
func (t *Tracker) ATR() float64 { return t.atr }

// VolumeMA 均量（20）
func (t *Tracker) VolumeMA() float64 {
	n := len(t.volumes)
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range t.volumes {
		sum += v
	}
	return sum / float64(n)
}

func ema(prev, value float64, period int) float64 {
	k := 2.0 / float64(period+1)
	return value*k + prev*(1-k)
}

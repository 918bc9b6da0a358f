package marketdata

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/pkg/indicators"
)

// ErrNotReady 指标尚未热身完毕，快照不可用
var ErrNotReady = errors.New("market snapshot not ready")

// AuxData 行情之外的辅助数据（链上 / 情绪 / 宏观）
// 由各自的采集器周期性刷新，缺失时保持零值。
type AuxData struct {
	FundingRate        float64
	OpenInterestChange float64
	ExchangeNetFlow    float64
	WhaleTransactions  int
	StablecoinMint     float64
	FearGreedIndex     int
	SocialSentiment    float64
	TwitterVolume      int
	VIXIndex           float64
	DXYIndex           float64
	SP500Change        float64
	GoldPrice          float64
	BondYield10Y       float64
}

// Service 行情快照服务
//
// K 线逐根喂入滚动指标，Snapshot 把指标与辅助数据拼成
// 一份不可变快照。一轮决策内所有 Agent 读到的是同一份。
type Service struct {
	symbol string

	mu      sync.RWMutex
	tracker *indicators.Tracker
	last    indicators.Candle
	aux     AuxData
}

// NewService 创建行情服务
func NewService(symbol string) *Service {
	return &Service{
		symbol:  symbol,
		tracker: indicators.NewTracker(),
	}
}

// ApplyCandle 喂入一根收盘 K 线
func (s *Service) ApplyCandle(c indicators.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.Push(c)
	s.last = c
}

// SetAux 刷新辅助数据
func (s *Service) SetAux(aux AuxData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aux = aux
}

// LastPrice 最新收盘价（0 表示还没有数据）
func (s *Service) LastPrice() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last.Close
}

// Snapshot 生成一份市场快照（实现 ports.SnapshotProvider）
func (s *Service) Snapshot(_ context.Context, symbol string) (*domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.tracker.Ready() {
		return nil, ErrNotReady
	}

	macd, signal, hist := s.tracker.MACD()
	upper, mid, lower := s.tracker.Bollinger()

	return &domain.MarketSnapshot{
		Symbol:    symbol,
		Timestamp: time.Now(),

		Price:           s.last.Close,
		EMAFast:         s.tracker.EMAFast(),
		EMASlow:         s.tracker.EMASlow(),
		RSI:             s.tracker.RSI(),
		MACD:            macd,
		MACDSignal:      signal,
		MACDHist:        hist,
		BollingerUpper:  upper,
		BollingerMiddle: mid,
		BollingerLower:  lower,
		ATR:             s.tracker.ATR(),
		Volume:          s.last.Volume,
		VolumeMA:        s.tracker.VolumeMA(),

		FundingRate:        s.aux.FundingRate,
		OpenInterestChange: s.aux.OpenInterestChange,
		ExchangeNetFlow:    s.aux.ExchangeNetFlow,
		WhaleTransactions:  s.aux.WhaleTransactions,
		StablecoinMint:     s.aux.StablecoinMint,
		FearGreedIndex:     s.aux.FearGreedIndex,
		SocialSentiment:    s.aux.SocialSentiment,
		TwitterVolume:      s.aux.TwitterVolume,
		VIXIndex:           s.aux.VIXIndex,
		DXYIndex:           s.aux.DXYIndex,
		SP500Change:        s.aux.SP500Change,
		GoldPrice:          s.aux.GoldPrice,
		BondYield10Y:       s.aux.BondYield10Y,
	}, nil
}

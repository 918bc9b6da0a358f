package domain

import "time"

// MarketSnapshot 单轮决策的市场快照
//
// 一轮评估内所有 Agent 读同一份快照，保证各自的结论
// 基于相同的输入。字段按来源分组：技术指标 / 衍生品 /
// 链上 / 情绪 / 宏观。
type MarketSnapshot struct {
	Symbol    string
	Timestamp time.Time

	// 价格与技术指标
	Price           float64
	EMAFast         float64 // EMA12
	EMASlow         float64 // EMA26
	RSI             float64
	MACD            float64
	MACDSignal      float64
	MACDHist        float64
	BollingerUpper  float64
	BollingerMiddle float64
	BollingerLower  float64
	ATR             float64
	Volume          float64
	VolumeMA        float64 // 20周期均量

	// 衍生品数据
	FundingRate        float64
	OpenInterestChange float64

	// 链上数据
	ExchangeNetFlow   float64 // 交易所净流入（正=流入）
	WhaleTransactions int     // 巨鲸大额交易笔数
	StablecoinMint    float64 // 稳定币净铸造（美元）

	// 情绪数据
	FearGreedIndex  int     // 恐惧贪婪指数 0-100
	SocialSentiment float64 // 社交情绪 [-1, 1]
	TwitterVolume   int     // 讨论量

	// 宏观数据
	VIXIndex     float64
	DXYIndex     float64
	SP500Change  float64
	GoldPrice    float64
	BondYield10Y float64
}

// VolumeRatio 当前成交量相对均量的倍数
func (s *MarketSnapshot) VolumeRatio() float64 {
	if s.VolumeMA <= 0 {
		return 1.0
	}
	return s.Volume / s.VolumeMA
}

// ATRRatio 波动率占价格的比例
func (s *MarketSnapshot) ATRRatio() float64 {
	if s.Price <= 0 {
		return 0
	}
	return s.ATR / s.Price
}

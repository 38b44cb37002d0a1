package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind 事件类型标签
type EventKind string

const (
	// KindTrade 逐笔成交（<symbol>@trade）
	KindTrade EventKind = "trade"
	// KindAggTrade 归集成交（<symbol>@aggTrade）
	KindAggTrade EventKind = "aggTrade"
	// KindTicker 行情快照（24hrTicker / bookTicker）
	KindTicker EventKind = "ticker"
	// KindKline K 线（<symbol>@kline_<interval>）
	KindKline EventKind = "kline"
)

// Event 统一行情事件
// 共享字段为 Symbol 与 EventTime；变体字段只有与 Kind 对应的那个指针非空。
// 每条入站消息构造一次，交给统计与用户回调后即丢弃，不被长期持有。
type Event struct {
	// Kind 事件类型
	Kind EventKind
	// Symbol 交易对（大写，如 BTCUSDT）
	Symbol string
	// EventTime 服务端事件时间（E 字段）；bookTicker 无此字段时为零值
	EventTime time.Time

	// Trade 逐笔成交负载
	Trade *Trade
	// AggTrade 归集成交负载
	AggTrade *AggTrade
	// Ticker 行情快照负载
	Ticker *Ticker
	// Kline K 线负载
	Kline *Kline
}

// Trade 逐笔成交
type Trade struct {
	TradeID  int64
	Price    decimal.Decimal
	Quantity decimal.Decimal
	// BuyerOrderID 买方订单 ID（部分推送不含该字段，缺省为 0）
	BuyerOrderID int64
	// SellerOrderID 卖方订单 ID（同上）
	SellerOrderID int64
	TradeTime     time.Time
	// BuyerIsMaker 买方是否为 maker
	BuyerIsMaker bool
}

// AggTrade 归集成交
type AggTrade struct {
	AggTradeID   int64
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	FirstTradeID int64
	LastTradeID  int64
	TradeTime    time.Time
	BuyerIsMaker bool
}

// Ticker 行情快照
// 24hrTicker 填充全部字段；bookTicker 仅含最优买卖档。
type Ticker struct {
	PriceChange        decimal.Decimal
	PriceChangePercent decimal.Decimal
	WeightedAvgPrice   decimal.Decimal
	LastPrice          decimal.Decimal
	LastQty            decimal.Decimal
	BestBid            decimal.Decimal
	BestBidQty         decimal.Decimal
	BestAsk            decimal.Decimal
	BestAskQty         decimal.Decimal
	Open               decimal.Decimal
	High               decimal.Decimal
	Low                decimal.Decimal
	// Volume 成交量（基础资产）
	Volume decimal.Decimal
	// QuoteVolume 成交额（计价资产）
	QuoteVolume  decimal.Decimal
	OpenTime     time.Time
	CloseTime    time.Time
	FirstTradeID int64
	LastTradeID  int64
	TradeCount   int64
	// UpdateID bookTicker 的 u 字段
	UpdateID int64
}

// Kline K 线
type Kline struct {
	// Interval 周期，如 1m、1h
	Interval     string
	StartTime    time.Time
	CloseTime    time.Time
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       decimal.Decimal
	QuoteVolume  decimal.Decimal
	TradeCount   int64
	FirstTradeID int64
	LastTradeID  int64
	// Closed 该 K 线是否已收盘
	Closed bool
}

// NewTradeEvent 构造逐笔成交事件
func NewTradeEvent(symbol string, eventTime time.Time, t Trade) Event {
	return Event{Kind: KindTrade, Symbol: symbol, EventTime: eventTime, Trade: &t}
}

// NewAggTradeEvent 构造归集成交事件
func NewAggTradeEvent(symbol string, eventTime time.Time, t AggTrade) Event {
	return Event{Kind: KindAggTrade, Symbol: symbol, EventTime: eventTime, AggTrade: &t}
}

// NewTickerEvent 构造行情快照事件
func NewTickerEvent(symbol string, eventTime time.Time, t Ticker) Event {
	return Event{Kind: KindTicker, Symbol: symbol, EventTime: eventTime, Ticker: &t}
}

// NewKlineEvent 构造 K 线事件
func NewKlineEvent(symbol string, eventTime time.Time, k Kline) Event {
	return Event{Kind: KindKline, Symbol: symbol, EventTime: eventTime, Kline: &k}
}

// Valid 检查标签与负载是否一致：恰好一个负载非空且与 Kind 匹配
func (e *Event) Valid() bool {
	n := 0
	if e.Trade != nil {
		n++
	}
	if e.AggTrade != nil {
		n++
	}
	if e.Ticker != nil {
		n++
	}
	if e.Kline != nil {
		n++
	}
	if n != 1 {
		return false
	}
	switch e.Kind {
	case KindTrade:
		return e.Trade != nil
	case KindAggTrade:
		return e.AggTrade != nil
	case KindTicker:
		return e.Ticker != nil
	case KindKline:
		return e.Kline != nil
	}
	return false
}

// Price 返回事件的代表价格
// Trade/AggTrade 为成交价，Ticker 为最新价（bookTicker 取买一），Kline 为收盘价。
func (e *Event) Price() decimal.Decimal {
	switch e.Kind {
	case KindTrade:
		return e.Trade.Price
	case KindAggTrade:
		return e.AggTrade.Price
	case KindTicker:
		if e.Ticker.LastPrice.IsZero() {
			return e.Ticker.BestBid
		}
		return e.Ticker.LastPrice
	case KindKline:
		return e.Kline.Close
	}
	return decimal.Zero
}

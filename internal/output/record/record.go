// Package record 定义行情事件与统计快照的输出格式（JSONL 文件与 Redis 发布共用）。
package record

import (
	"time"

	"github.com/shopspring/decimal"

	"market-stream-client/internal/core/model"
	"market-stream-client/internal/stats/latency"
	"market-stream-client/internal/stats/msgstats"
	"market-stream-client/internal/util/timeutil"
)

// Event 行情事件输出记录
// 价格与数量以字符串输出，保留原始精度。
type Event struct {
	Kind        string `json:"kind"`
	Symbol      string `json:"symbol"`
	EventTimeMs int64  `json:"event_time_ms,omitempty"`
	RecvTimeMs  int64  `json:"recv_time_ms"`

	Price    *decimal.Decimal `json:"price,omitempty"`
	Quantity *decimal.Decimal `json:"qty,omitempty"`
	TradeID  int64            `json:"trade_id,omitempty"`
	// BuyerIsMaker 仅成交类事件
	BuyerIsMaker *bool `json:"buyer_is_maker,omitempty"`

	BestBid    *decimal.Decimal `json:"best_bid,omitempty"`
	BestBidQty *decimal.Decimal `json:"best_bid_qty,omitempty"`
	BestAsk    *decimal.Decimal `json:"best_ask,omitempty"`
	BestAskQty *decimal.Decimal `json:"best_ask_qty,omitempty"`
	Volume     *decimal.Decimal `json:"volume,omitempty"`

	Interval string           `json:"interval,omitempty"`
	Open     *decimal.Decimal `json:"open,omitempty"`
	High     *decimal.Decimal `json:"high,omitempty"`
	Low      *decimal.Decimal `json:"low,omitempty"`
	Close    *decimal.Decimal `json:"close,omitempty"`
	Closed   *bool            `json:"closed,omitempty"`
}

// FromEvent 由行情事件构造输出记录
// 参数 ev: 行情事件
// 参数 recvAt: 本地接收时间
func FromEvent(ev model.Event, recvAt time.Time) Event {
	r := Event{
		Kind:       string(ev.Kind),
		Symbol:     ev.Symbol,
		RecvTimeMs: timeutil.TimeToMs(recvAt),
	}
	if !ev.EventTime.IsZero() {
		r.EventTimeMs = timeutil.TimeToMs(ev.EventTime)
	}

	switch {
	case ev.Trade != nil:
		t := ev.Trade
		r.Price, r.Quantity = dec(t.Price), dec(t.Quantity)
		r.TradeID = t.TradeID
		r.BuyerIsMaker = boolPtr(t.BuyerIsMaker)
	case ev.AggTrade != nil:
		t := ev.AggTrade
		r.Price, r.Quantity = dec(t.Price), dec(t.Quantity)
		r.TradeID = t.AggTradeID
		r.BuyerIsMaker = boolPtr(t.BuyerIsMaker)
	case ev.Ticker != nil:
		t := ev.Ticker
		if !t.LastPrice.IsZero() {
			r.Price = dec(t.LastPrice)
			r.Volume = dec(t.Volume)
		}
		r.BestBid, r.BestBidQty = dec(t.BestBid), dec(t.BestBidQty)
		r.BestAsk, r.BestAskQty = dec(t.BestAsk), dec(t.BestAskQty)
	case ev.Kline != nil:
		k := ev.Kline
		r.Interval = k.Interval
		r.Open, r.High, r.Low, r.Close = dec(k.Open), dec(k.High), dec(k.Low), dec(k.Close)
		r.Volume = dec(k.Volume)
		r.Closed = boolPtr(k.Closed)
	}
	return r
}

// Stats 周期统计输出记录
type Stats struct {
	TsMs          int64                  `json:"ts_ms"`
	SessionID     string                 `json:"session_id"`
	Total         int64                  `json:"total"`
	ByType        map[string]int64       `json:"by_type"`
	RatePerSec    float64                `json:"rate_per_sec"`
	MeanInterMs   float64                `json:"mean_inter_arrival_ms"`
	StdDevInterMs float64                `json:"stddev_inter_arrival_ms"`
	Subscriptions int                    `json:"subscriptions"`
	Latency       []latency.LatencyStats `json:"latency,omitempty"`
}

// FromSnapshot 由统计快照构造输出记录
func FromSnapshot(sessionID string, snap *msgstats.Snapshot, subscriptions int, lat []latency.LatencyStats, now time.Time) Stats {
	s := Stats{
		TsMs:          timeutil.TimeToMs(now),
		SessionID:     sessionID,
		Subscriptions: subscriptions,
		Latency:       lat,
		ByType:        map[string]int64{},
	}
	if snap == nil {
		return s
	}
	s.Total = snap.Total
	for k, v := range snap.ByType {
		s.ByType[k] = v
	}
	s.RatePerSec = snap.Rate(now)
	s.MeanInterMs = snap.MeanInterArrivalMs
	s.StdDevInterMs = snap.StdDevInterArrivalMs
	return s
}

func dec(d decimal.Decimal) *decimal.Decimal {
	return &d
}

func boolPtr(b bool) *bool {
	return &b
}

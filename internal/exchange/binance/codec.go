// Package binance 实现 Binance 行情流的帧编解码。
// 入站: 命令响应 / ping / 行情事件 / 无法识别的推送
// 出站: SUBSCRIBE / UNSUBSCRIBE / LIST_SUBSCRIPTIONS
package binance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"market-stream-client/internal/core/model"
	"market-stream-client/internal/util/fastparse"
	"market-stream-client/internal/util/timeutil"
)

// Method 线上命令方法名
type Method string

const (
	// MethodSubscribe 订阅
	MethodSubscribe Method = "SUBSCRIBE"
	// MethodUnsubscribe 退订
	MethodUnsubscribe Method = "UNSUBSCRIBE"
	// MethodListSubscriptions 查询服务端订阅
	MethodListSubscriptions Method = "LIST_SUBSCRIPTIONS"
)

// Command 出站命令
type Command struct {
	// Method 方法
	Method Method
	// ID 关联 ID
	ID int64
	// Topics 流名称（LIST_SUBSCRIPTIONS 为空）
	Topics []model.Topic
}

// Frame 入站帧（封闭的标签联合）
// 具体类型: EventPush, CommandResponse, Ping, UnrecognizedPush
type Frame interface {
	frame()
}

// EventPush 行情事件推送
type EventPush struct {
	// Stream 组合流中的流名称（单流连接为空）
	Stream string
	// Event 解码后的事件
	Event model.Event
}

// CommandResponse 命令响应
type CommandResponse struct {
	// ID 关联 ID
	ID int64
	// Result 原始 result 字段
	Result json.RawMessage
	// Listing result 为字符串数组时的内容（LIST_SUBSCRIPTIONS）
	Listing []string
	// Err 服务端错误，成功时为 nil
	Err *model.CommandError
}

// OK 响应是否成功
func (r CommandResponse) OK() bool {
	return r.Err == nil
}

// Ping 存活探测，需要原样回复 Pong(Payload)
type Ping struct {
	Payload []byte
}

// UnrecognizedPush 未能识别的推送（协议新增的形状），不视为错误
type UnrecognizedPush struct {
	Raw []byte
	// Err 无法关联的服务端错误（id 为 null 的错误响应），其余情况为 nil
	Err *model.CommandError
}

func (EventPush) frame()        {}
func (CommandResponse) frame()  {}
func (Ping) frame()             {}
func (UnrecognizedPush) frame() {}

// maxRawSample 错误中保留的原始帧长度
const maxRawSample = 200

// Decode 解析入站文本帧
// 仅顶层语法错误（截断、非法 JSON）返回 *model.DecodeError；
// 形状不匹配一律解码为 UnrecognizedPush。
func Decode(data []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return nil, &model.DecodeError{Raw: sample(data), Err: err}
		}
		// 合法 JSON 但不是对象
		return UnrecognizedPush{Raw: data}, nil
	}
	if fields == nil {
		return UnrecognizedPush{Raw: data}, nil
	}

	if rawID, ok := fields["id"]; ok {
		return decodeResponse(fields, rawID, data), nil
	}

	if rawPing, ok := fields["ping"]; ok {
		return Ping{Payload: pingPayload(rawPing)}, nil
	}

	if rawData, ok := fields["data"]; ok {
		if rawStream, ok := fields["stream"]; ok {
			var stream string
			if json.Unmarshal(rawStream, &stream) == nil {
				var inner map[string]json.RawMessage
				if json.Unmarshal(rawData, &inner) != nil || inner == nil {
					return UnrecognizedPush{Raw: data}, nil
				}
				ev, ok := decodeEvent(inner, rawData)
				if !ok {
					return UnrecognizedPush{Raw: data}, nil
				}
				return EventPush{Stream: stream, Event: ev}, nil
			}
		}
	}

	ev, ok := decodeEvent(fields, data)
	if !ok {
		return UnrecognizedPush{Raw: data}, nil
	}
	return EventPush{Event: ev}, nil
}

func decodeResponse(fields map[string]json.RawMessage, rawID json.RawMessage, data []byte) Frame {
	cmdErr := commandError(fields)

	// null 会被解码为 0，必须显式判断
	var id int64
	if isNull(rawID) || json.Unmarshal(rawID, &id) != nil {
		// 无法关联到在途命令；服务端对无法解析的请求以 null id 回复错误
		return UnrecognizedPush{Raw: data, Err: cmdErr}
	}

	resp := CommandResponse{ID: id}
	if cmdErr != nil {
		resp.Err = cmdErr
		return resp
	}

	if rawResult, ok := fields["result"]; ok && !isNull(rawResult) {
		resp.Result = rawResult
		var listing []string
		if json.Unmarshal(rawResult, &listing) == nil {
			resp.Listing = listing
		}
	}
	return resp
}

// commandError 提取 error 字段；不存在或为 null 时返回 nil
func commandError(fields map[string]json.RawMessage) *model.CommandError {
	rawErr, ok := fields["error"]
	if !ok || isNull(rawErr) {
		return nil
	}
	var ep ErrorPayload
	if err := json.Unmarshal(rawErr, &ep); err != nil {
		ep = ErrorPayload{Msg: string(rawErr)}
	}
	return &model.CommandError{Code: ep.Code, Msg: ep.Msg}
}

func pingPayload(raw json.RawMessage) []byte {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return []byte(s)
	}
	if isNull(raw) {
		return nil
	}
	return []byte(raw)
}

// decodeEvent 按 e 字段判别事件类型；缺少 e 时按字段结构判别
func decodeEvent(fields map[string]json.RawMessage, raw []byte) (model.Event, bool) {
	var eventType string
	if rawE, ok := fields["e"]; ok {
		if json.Unmarshal(rawE, &eventType) != nil {
			return model.Event{}, false
		}
	} else {
		eventType = sniffShape(fields)
	}

	var (
		ev  model.Event
		err error
	)
	switch eventType {
	case "trade":
		ev, err = decodeTrade(raw)
	case "aggTrade":
		ev, err = decodeAggTrade(raw)
	case "24hrTicker":
		ev, err = decodeTicker(raw)
	case "24hrMiniTicker":
		ev, err = decodeMiniTicker(raw)
	case "bookTicker":
		ev, err = decodeBookTicker(raw)
	case "kline":
		ev, err = decodeKline(raw)
	default:
		return model.Event{}, false
	}
	if err != nil {
		return model.Event{}, false
	}
	return ev, true
}

// sniffShape 无 e 字段时的结构判别
func sniffShape(fields map[string]json.RawMessage) string {
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := fields[k]; !ok {
				return false
			}
		}
		return true
	}
	switch {
	case has("k", "s"):
		return "kline"
	case has("u", "s", "b", "B", "a", "A"):
		return "bookTicker"
	case has("s", "a", "p", "q", "f", "l", "T"):
		return "aggTrade"
	case has("s", "t", "p", "q", "T"):
		return "trade"
	}
	return ""
}

func decodeTrade(raw []byte) (model.Event, error) {
	var p TradePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, err
	}
	t := model.Trade{
		TradeID:       p.TradeID,
		BuyerOrderID:  p.BuyerOrderID,
		SellerOrderID: p.SellerOrderID,
		TradeTime:     timeutil.MsToTime(p.TradeTimeMs),
		BuyerIsMaker:  p.BuyerIsMaker,
	}
	var f fastparse.DecimalFields
	f.Required("p", p.Price, &t.Price)
	f.Required("q", p.Quantity, &t.Quantity)
	if err := f.Err(); err != nil {
		return model.Event{}, err
	}
	if p.Symbol == "" {
		return model.Event{}, fmt.Errorf("缺少交易对")
	}
	return model.NewTradeEvent(p.Symbol, timeutil.MsToTime(p.EventTimeMs), t), nil
}

func decodeAggTrade(raw []byte) (model.Event, error) {
	var p AggTradePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, err
	}
	t := model.AggTrade{
		AggTradeID:   p.AggTradeID,
		FirstTradeID: p.FirstTradeID,
		LastTradeID:  p.LastTradeID,
		TradeTime:    timeutil.MsToTime(p.TradeTimeMs),
		BuyerIsMaker: p.BuyerIsMaker,
	}
	var f fastparse.DecimalFields
	f.Required("p", p.Price, &t.Price)
	f.Required("q", p.Quantity, &t.Quantity)
	if err := f.Err(); err != nil {
		return model.Event{}, err
	}
	if p.Symbol == "" {
		return model.Event{}, fmt.Errorf("缺少交易对")
	}
	return model.NewAggTradeEvent(p.Symbol, timeutil.MsToTime(p.EventTimeMs), t), nil
}

func decodeTicker(raw []byte) (model.Event, error) {
	var p TickerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, err
	}
	t := model.Ticker{
		OpenTime:     timeutil.MsToTime(p.OpenTimeMs),
		CloseTime:    timeutil.MsToTime(p.CloseTimeMs),
		FirstTradeID: p.FirstTradeID,
		LastTradeID:  p.LastTradeID,
		TradeCount:   p.TradeCount,
	}
	var f fastparse.DecimalFields
	f.Required("b", p.BestBid, &t.BestBid)
	f.Required("a", p.BestAsk, &t.BestAsk)
	f.Optional("B", p.BestBidQty, &t.BestBidQty)
	f.Optional("A", p.BestAskQty, &t.BestAskQty)
	f.Optional("p", p.PriceChange, &t.PriceChange)
	f.Optional("P", p.PriceChangePercent, &t.PriceChangePercent)
	f.Optional("w", p.WeightedAvgPrice, &t.WeightedAvgPrice)
	f.Optional("c", p.LastPrice, &t.LastPrice)
	f.Optional("Q", p.LastQty, &t.LastQty)
	f.Optional("o", p.Open, &t.Open)
	f.Optional("h", p.High, &t.High)
	f.Optional("l", p.Low, &t.Low)
	f.Optional("v", p.Volume, &t.Volume)
	f.Optional("q", p.QuoteVolume, &t.QuoteVolume)
	if err := f.Err(); err != nil {
		return model.Event{}, err
	}
	if p.Symbol == "" {
		return model.Event{}, fmt.Errorf("缺少交易对")
	}
	return model.NewTickerEvent(p.Symbol, timeutil.MsToTime(p.EventTimeMs), t), nil
}

func decodeMiniTicker(raw []byte) (model.Event, error) {
	var p MiniTickerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, err
	}
	var t model.Ticker
	var f fastparse.DecimalFields
	f.Required("c", p.Close, &t.LastPrice)
	f.Optional("o", p.Open, &t.Open)
	f.Optional("h", p.High, &t.High)
	f.Optional("l", p.Low, &t.Low)
	f.Optional("v", p.Volume, &t.Volume)
	f.Optional("q", p.QuoteVolume, &t.QuoteVolume)
	if err := f.Err(); err != nil {
		return model.Event{}, err
	}
	if p.Symbol == "" {
		return model.Event{}, fmt.Errorf("缺少交易对")
	}
	return model.NewTickerEvent(p.Symbol, timeutil.MsToTime(p.EventTimeMs), t), nil
}

func decodeBookTicker(raw []byte) (model.Event, error) {
	var p BookTickerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, err
	}
	t := model.Ticker{UpdateID: p.UpdateID}
	var f fastparse.DecimalFields
	f.Required("b", p.BestBid, &t.BestBid)
	f.Required("B", p.BestBidQty, &t.BestBidQty)
	f.Required("a", p.BestAsk, &t.BestAsk)
	f.Required("A", p.BestAskQty, &t.BestAskQty)
	if err := f.Err(); err != nil {
		return model.Event{}, err
	}
	if p.Symbol == "" {
		return model.Event{}, fmt.Errorf("缺少交易对")
	}
	return model.NewTickerEvent(p.Symbol, timeutil.MsToTime(p.EventTimeMs), t), nil
}

func decodeKline(raw []byte) (model.Event, error) {
	var p KlinePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, err
	}
	kd := p.Kline
	k := model.Kline{
		Interval:     kd.Interval,
		StartTime:    timeutil.MsToTime(kd.StartTimeMs),
		CloseTime:    timeutil.MsToTime(kd.CloseTimeMs),
		TradeCount:   kd.TradeCount,
		FirstTradeID: kd.FirstTradeID,
		LastTradeID:  kd.LastTradeID,
		Closed:       kd.Closed,
	}
	var f fastparse.DecimalFields
	f.Required("o", kd.Open, &k.Open)
	f.Required("h", kd.High, &k.High)
	f.Required("l", kd.Low, &k.Low)
	f.Required("c", kd.Close, &k.Close)
	f.Required("v", kd.Volume, &k.Volume)
	f.Optional("q", kd.QuoteVolume, &k.QuoteVolume)
	if err := f.Err(); err != nil {
		return model.Event{}, err
	}
	symbol := p.Symbol
	if symbol == "" {
		symbol = kd.Symbol
	}
	if symbol == "" || k.Interval == "" {
		return model.Event{}, fmt.Errorf("缺少交易对或周期")
	}
	return model.NewKlineEvent(symbol, timeutil.MsToTime(p.EventTimeMs), k), nil
}

// Encode 序列化出站命令
func Encode(cmd Command) ([]byte, error) {
	req := Request{Method: string(cmd.Method), ID: cmd.ID}
	switch cmd.Method {
	case MethodSubscribe, MethodUnsubscribe:
		if len(cmd.Topics) == 0 {
			return nil, fmt.Errorf("%s 至少需要一个流名称", cmd.Method)
		}
		req.Params = model.TopicStrings(cmd.Topics)
	case MethodListSubscriptions:
	default:
		return nil, fmt.Errorf("未知的命令方法: %q", cmd.Method)
	}
	if cmd.ID <= 0 {
		return nil, fmt.Errorf("非法的关联 ID: %d", cmd.ID)
	}
	return json.Marshal(req)
}

// DecodeCommand 解析出站命令帧（用于往返校验与测试服务端）
func DecodeCommand(data []byte) (Command, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Command{}, fmt.Errorf("解析命令帧失败: %w", err)
	}
	cmd := Command{Method: Method(req.Method), ID: req.ID}
	switch cmd.Method {
	case MethodSubscribe, MethodUnsubscribe:
		topics, err := model.ParseTopics(req.Params)
		if err != nil {
			return Command{}, err
		}
		cmd.Topics = topics
	case MethodListSubscriptions:
	default:
		return Command{}, fmt.Errorf("未知的命令方法: %q", req.Method)
	}
	return cmd, nil
}

// StreamURL 构造直连单流地址，如 wss://stream.binance.com:9443/ws/btcusdt@trade
// 多个流时使用组合流地址 <host>/stream?streams=a/b
func StreamURL(base string, topics []model.Topic) string {
	base = strings.TrimRight(base, "/")
	if len(topics) == 1 {
		return base + "/" + topics[0].String()
	}
	host := strings.TrimSuffix(base, "/ws")
	return host + "/stream?streams=" + strings.Join(model.TopicStrings(topics), "/")
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func sample(data []byte) []byte {
	if len(data) > maxRawSample {
		return append([]byte(nil), data[:maxRawSample]...)
	}
	return append([]byte(nil), data...)
}

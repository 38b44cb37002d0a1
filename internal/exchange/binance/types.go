// Package binance 定义 Binance 现货 WebSocket 消息类型。
//
// 注意：encoding/json 对字段名大小写不敏感时会做模糊匹配，
// 而 Binance 负载同时使用 e/E、t/T、b/B 等大小写成对的键。
// 因此每个负载结构体都声明了全部成对字段（即使未被使用），确保每个键都精确命中。
package binance

// Request 命令帧
// {"method":"SUBSCRIBE","params":["btcusdt@trade"],"id":1}
type Request struct {
	// Method 方法: SUBSCRIBE, UNSUBSCRIBE, LIST_SUBSCRIPTIONS
	Method string `json:"method"`
	// Params 流名称列表（LIST_SUBSCRIPTIONS 无此字段）
	Params []string `json:"params,omitempty"`
	// ID 关联 ID
	ID int64 `json:"id"`
}

// ErrorPayload 命令错误
type ErrorPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// TradePayload 逐笔成交推送（trade）
type TradePayload struct {
	EventType   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	Symbol      string `json:"s"`
	TradeID     int64  `json:"t"`
	Price       string `json:"p"`
	Quantity    string `json:"q"`
	// BuyerOrderID 买方订单 ID（新版推送已移除，可缺省）
	BuyerOrderID int64 `json:"b"`
	// SellerOrderID 卖方订单 ID（同上）
	SellerOrderID int64 `json:"a"`
	TradeTimeMs   int64 `json:"T"`
	BuyerIsMaker  bool  `json:"m"`
	Ignore        bool  `json:"M"`
}

// AggTradePayload 归集成交推送（aggTrade）
type AggTradePayload struct {
	EventType    string `json:"e"`
	EventTimeMs  int64  `json:"E"`
	Symbol       string `json:"s"`
	AggTradeID   int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	TradeTimeMs  int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
	Ignore       bool   `json:"M"`
}

// TickerPayload 24 小时滚动行情推送（24hrTicker）
type TickerPayload struct {
	EventType          string `json:"e"`
	EventTimeMs        int64  `json:"E"`
	Symbol             string `json:"s"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	WeightedAvgPrice   string `json:"w"`
	// FirstTradePrice 窗口前最后一笔成交价（F-1）
	FirstTradePrice string `json:"x"`
	LastPrice       string `json:"c"`
	LastQty         string `json:"Q"`
	BestBid         string `json:"b"`
	BestBidQty      string `json:"B"`
	BestAsk         string `json:"a"`
	BestAskQty      string `json:"A"`
	Open            string `json:"o"`
	High            string `json:"h"`
	Low             string `json:"l"`
	Volume          string `json:"v"`
	QuoteVolume     string `json:"q"`
	OpenTimeMs      int64  `json:"O"`
	CloseTimeMs     int64  `json:"C"`
	FirstTradeID    int64  `json:"F"`
	LastTradeID     int64  `json:"L"`
	TradeCount      int64  `json:"n"`
}

// MiniTickerPayload 精简滚动行情推送（24hrMiniTicker）
type MiniTickerPayload struct {
	EventType   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	Symbol      string `json:"s"`
	Close       string `json:"c"`
	Open        string `json:"o"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"q"`
}

// BookTickerPayload 最优挂单推送（bookTicker）
// 现货推送不含 e/E 字段，合约推送含 e/E/T。
type BookTickerPayload struct {
	EventType   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	TransactMs  int64  `json:"T"`
	UpdateID    int64  `json:"u"`
	Symbol      string `json:"s"`
	BestBid     string `json:"b"`
	BestBidQty  string `json:"B"`
	BestAsk     string `json:"a"`
	BestAskQty  string `json:"A"`
}

// KlinePayload K 线推送（kline）
type KlinePayload struct {
	EventType   string    `json:"e"`
	EventTimeMs int64     `json:"E"`
	Symbol      string    `json:"s"`
	Kline       KlineData `json:"k"`
}

// KlineData K 线数据
type KlineData struct {
	StartTimeMs  int64  `json:"t"`
	CloseTimeMs  int64  `json:"T"`
	Symbol       string `json:"s"`
	Interval     string `json:"i"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"L"`
	Open         string `json:"o"`
	Close        string `json:"c"`
	High         string `json:"h"`
	Low          string `json:"l"`
	Volume       string `json:"v"`
	TradeCount   int64  `json:"n"`
	Closed       bool   `json:"x"`
	QuoteVolume  string `json:"q"`
	// TakerBuyVolume 主动买入成交量
	TakerBuyVolume string `json:"V"`
	// TakerBuyQuoteVolume 主动买入成交额
	TakerBuyQuoteVolume string `json:"Q"`
	Ignore              string `json:"B"`
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// FramesRead 收到的数据帧数量
	FramesRead int64 `json:"frames_read"`
	// BytesRead 收到的数据字节数
	BytesRead int64 `json:"bytes_read"`
	// PingsRead 收到的服务端 ping 数量
	PingsRead int64 `json:"pings_read"`
	// FramesWritten 发出的数据帧数量
	FramesWritten int64 `json:"frames_written"`
	// PongsWritten 发出的 pong 数量
	PongsWritten int64 `json:"pongs_written"`
}

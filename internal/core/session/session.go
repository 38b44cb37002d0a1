// Package session 实现单条行情连接的会话状态机。
// 状态: Connecting → Active → Closing → Closed。
// 会话循环是订阅集合、在途请求追踪器与统计累加器的唯一写者；
// 其他协程只能通过命令通道提交请求，或通过原子快照读取状态。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"market-stream-client/internal/core/heartbeat"
	"market-stream-client/internal/core/model"
	"market-stream-client/internal/core/registry"
	"market-stream-client/internal/core/tracker"
	"market-stream-client/internal/exchange/binance"
	"market-stream-client/internal/stats/latency"
	"market-stream-client/internal/stats/msgstats"
)

// State 会话状态
type State int32

const (
	// StateConnecting 正在建立连接
	StateConnecting State = iota
	// StateActive 连接已建立，处理入站帧与用户命令
	StateActive
	// StateClosing 正在关闭：清退在途请求并发送关闭帧
	StateClosing
	// StateClosed 已关闭
	StateClosed
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Mode 运行模式
type Mode string

const (
	// ModeDynamic 单连接 + 运行时订阅管理
	ModeDynamic Mode = "dynamic"
	// ModeFixed 直连单流地址，没有命令通道
	ModeFixed Mode = "fixed"
)

// Conn 会话使用的连接
type Conn interface {
	// Inbound 入站消息，终止消息之后关闭
	Inbound() <-chan binance.InboundMessage
	// Pings 服务端 ping 负载
	Pings() <-chan []byte
	// WriteText 发送文本帧
	WriteText(data []byte) error
	// WritePong 发送 pong 控制帧
	WritePong(payload []byte) error
	// Close 发送关闭帧并释放连接
	Close() error
	// Metrics 连接指标，可在任意协程调用
	Metrics() binance.ConnectionMetrics
}

// Dialer 建立连接
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialFunc 函数适配为 Dialer
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Dial 调用 f
func (f DialFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// NewBinanceDialer 将 binance.Dialer 适配为会话 Dialer
func NewBinanceDialer(d *binance.Dialer) Dialer {
	return DialFunc(func(ctx context.Context, url string) (Conn, error) {
		c, err := d.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Options 会话参数
type Options struct {
	// URL 连接地址
	URL string
	// Mode 运行模式
	Mode Mode
	// InitialTopics dynamic 模式建立连接后立即订阅的流；fixed 模式为隐式订阅的单个流
	InitialTopics []model.Topic

	// RequestTimeout 命令响应超时
	RequestTimeout time.Duration
	// SweepInterval 超时扫描间隔
	SweepInterval time.Duration
	// PongInterval 主动 pong 间隔
	PongInterval time.Duration
	// StatsInterval 统计日志间隔
	StatsInterval time.Duration

	// CommandRate 命令发送速率上限（每秒）
	CommandRate float64
	// CommandBurst 命令突发上限
	CommandBurst int

	// MaxConsecutiveDecodeErrors 连续解码失败上限，达到后关闭会话
	MaxConsecutiveDecodeErrors int
	// ResultBuffer 结果通道容量
	ResultBuffer int
	// LatencyWindow 时延滚动窗口大小
	LatencyWindow int

	// OnEvent 每条行情事件的回调，在会话循环中同步调用，不得阻塞
	OnEvent func(ev model.Event)
}

func (o *Options) setDefaults() {
	if o.Mode == "" {
		o.Mode = ModeDynamic
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = tracker.DefaultTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Second
	}
	if o.PongInterval <= 0 {
		o.PongInterval = heartbeat.DefaultInterval
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = 5 * time.Second
	}
	if o.CommandRate <= 0 {
		o.CommandRate = 5
	}
	if o.CommandBurst <= 0 {
		o.CommandBurst = 5
	}
	if o.MaxConsecutiveDecodeErrors <= 0 {
		o.MaxConsecutiveDecodeErrors = 100
	}
	if o.ResultBuffer <= 0 {
		o.ResultBuffer = 64
	}
	if o.LatencyWindow <= 0 {
		o.LatencyWindow = latency.DefaultWindowSize
	}
}

// Result 命令的最终结果
// 成功、服务端错误、超时与会话关闭清退都会产生恰好一条结果
type Result struct {
	// ID 关联 ID
	ID int64
	// Intent 请求意图
	Intent tracker.Intent
	// Topics 涉及的流
	Topics []model.Topic
	// Listing LIST_SUBSCRIPTIONS 返回的服务端订阅
	Listing []string
	// Err 失败原因: *model.CommandError, *model.TimeoutError, model.ErrSessionClosed
	Err error
}

// OK 命令是否成功
func (r Result) OK() bool {
	return r.Err == nil
}

// Status 会话状态快照
type Status struct {
	SessionID     string                    `json:"session_id"`
	State         string                    `json:"state"`
	Mode          Mode                      `json:"mode"`
	URL           string                    `json:"url"`
	StartedAt     time.Time                 `json:"started_at"`
	Subscriptions []string                  `json:"subscriptions"`
	Pending       int64                     `json:"pending"`
	Stats         *msgstats.Snapshot        `json:"stats"`
	Rate          float64                   `json:"rate_per_sec"`
	Latency       []latency.LatencyStats    `json:"latency"`
	Heartbeat     heartbeat.Counters        `json:"heartbeat"`
	Connection    binance.ConnectionMetrics `json:"connection"`
	DecodeErrors  int64                     `json:"decode_errors"`
	// InitialSynced 初始订阅是否已确认
	InitialSynced bool `json:"initial_synced"`
}

// errQuit 用户主动退出
var errQuit = errors.New("quit")

type request struct {
	quit   bool
	intent tracker.Intent
	topics []model.Topic
	reply  chan reply
}

type reply struct {
	id  int64
	err error
}

// Session 单条连接的会话
type Session struct {
	id        string
	opts      Options
	dialer    Dialer
	logger    *zap.Logger
	startedAt time.Time

	state   atomic.Int32
	started atomic.Bool

	// 以下由会话循环独占写入
	registry *registry.Registry
	tracker  *tracker.Tracker
	stats    *msgstats.Accumulator
	latency  *latency.Tracker

	heartbeat atomic.Pointer[heartbeat.Responder]
	conn      atomic.Pointer[connRef]
	pending   atomic.Int64

	// initialID 初始订阅的关联 ID（0 表示未发送）
	initialID     int64
	initialSynced atomic.Bool

	limiter  *rate.Limiter
	commands chan request
	results  chan Result
	done     chan struct{}

	consecutiveDecodeErrors int
	decodeErrors            atomic.Int64
	// decodeErrSampleCount 解码错误计数（用于采样日志）
	decodeErrSampleCount uint64
	// lastDecodeErrLogNs 上次解码错误日志时间（纳秒）
	lastDecodeErrLogNs int64
}

// New 创建会话
// 参数 dialer: 连接建立器
// 参数 opts: 会话参数，零值字段使用默认值
// 参数 logger: 日志记录器
func New(dialer Dialer, opts Options, logger *zap.Logger) *Session {
	opts.setDefaults()
	opts.InitialTopics = append([]model.Topic(nil), opts.InitialTopics...)
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	now := time.Now()
	l := logger.Named("session").With(zap.String("session", id), zap.String("mode", string(opts.Mode)))

	s := &Session{
		id:        id,
		opts:      opts,
		dialer:    dialer,
		logger:    l,
		startedAt: now,
		registry:  registry.New(),
		tracker:   tracker.New(opts.RequestTimeout, l),
		stats:     msgstats.New(now),
		latency:   latency.NewTracker(opts.LatencyWindow),
		limiter:   rate.NewLimiter(rate.Limit(opts.CommandRate), opts.CommandBurst),
		commands:  make(chan request),
		results:   make(chan Result, opts.ResultBuffer),
		done:      make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// ID 会话 ID
func (s *Session) ID() string {
	return s.id
}

// State 当前状态
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done 会话结束（Run 返回前）时关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Results 命令结果通道，Run 返回前关闭
// 消费过慢时新结果被丢弃并记录日志
func (s *Session) Results() <-chan Result {
	return s.results
}

// Subscribe 提交订阅命令
// 返回: 关联 ID；最终结果通过 Results 通道送达
func (s *Session) Subscribe(ctx context.Context, topics ...model.Topic) (int64, error) {
	if len(topics) == 0 {
		return 0, fmt.Errorf("订阅至少需要一个流名称: %w", model.ErrInvalidTopic)
	}
	return s.submit(ctx, request{intent: tracker.IntentSubscribe, topics: topics})
}

// Unsubscribe 提交退订命令
func (s *Session) Unsubscribe(ctx context.Context, topics ...model.Topic) (int64, error) {
	if len(topics) == 0 {
		return 0, fmt.Errorf("退订至少需要一个流名称: %w", model.ErrInvalidTopic)
	}
	return s.submit(ctx, request{intent: tracker.IntentUnsubscribe, topics: topics})
}

// ListServer 查询服务端当前订阅
func (s *Session) ListServer(ctx context.Context) (int64, error) {
	return s.submit(ctx, request{intent: tracker.IntentListSubscriptions})
}

// Quit 请求会话关闭，不等待关闭完成（使用 Done 等待）
func (s *Session) Quit(ctx context.Context) error {
	_, err := s.submit(ctx, request{quit: true})
	if errors.Is(err, model.ErrSessionClosed) {
		return nil
	}
	return err
}

func (s *Session) submit(ctx context.Context, req request) (int64, error) {
	if !req.quit {
		if s.opts.Mode == ModeFixed {
			return 0, model.ErrCommandsUnsupported
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("命令限速等待失败: %w", err)
		}
	}
	req.reply = make(chan reply, 1)

	select {
	case s.commands <- req:
	case <-s.done:
		return 0, model.ErrSessionClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.id, r.err
	case <-s.done:
		select {
		case r := <-req.reply:
			return r.id, r.err
		default:
			return 0, model.ErrSessionClosed
		}
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Subscriptions 已确认的订阅（字典序）
// fixed 模式返回隐式订阅的单个流
func (s *Session) Subscriptions() []model.Topic {
	if s.opts.Mode == ModeFixed {
		return append([]model.Topic(nil), s.opts.InitialTopics...)
	}
	return s.registry.Snapshot()
}

// Stats 消息统计快照
func (s *Session) Stats() *msgstats.Snapshot {
	return s.stats.Snapshot()
}

// Latency 各事件类型的推送时延
func (s *Session) Latency() []latency.LatencyStats {
	return s.latency.All()
}

// Status 会话状态快照，可在任意协程调用
func (s *Session) Status() Status {
	st := Status{
		SessionID:     s.id,
		State:         s.State().String(),
		Mode:          s.opts.Mode,
		URL:           s.opts.URL,
		StartedAt:     s.startedAt,
		Subscriptions: model.TopicStrings(s.Subscriptions()),
		Pending:       s.pending.Load(),
		Stats:         s.stats.Snapshot(),
		Latency:       s.latency.All(),
		DecodeErrors:  s.decodeErrors.Load(),
	}
	st.Rate = st.Stats.Rate(time.Now())
	if hb := s.heartbeat.Load(); hb != nil {
		st.Heartbeat = hb.Counters()
	}
	if c := s.conn.Load(); c != nil {
		st.Connection = c.Metrics()
	}
	st.InitialSynced = s.initialSynced.Load()
	return st
}

// InitialSynced 会话是否已进入 Active 且初始订阅（若有）已被服务端确认
// 重连时据此判断本会话的订阅集合能否代表期望订阅。
func (s *Session) InitialSynced() bool {
	return s.initialSynced.Load()
}

// connRef 包装接口值以便原子存取
type connRef struct {
	Conn
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("会话状态变更", zap.Stringer("from", prev), zap.Stringer("to", st))
	}
}

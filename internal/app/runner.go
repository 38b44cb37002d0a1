// Package app 组装会话参数并在连接故障后按退避策略重建会话。
// 重连策略位于会话状态机之外：每个新会话都有全新的统计与订阅集合，
// 并重新订阅上一会话已确认的流。
package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"market-stream-client/internal/config"
	"market-stream-client/internal/core/model"
	"market-stream-client/internal/core/session"
	"market-stream-client/internal/exchange/binance"
	"market-stream-client/internal/util/backoff"
	"market-stream-client/internal/util/timeutil"
)

// resultBuffer 汇总结果通道容量
const resultBuffer = 64

// Runner 会话监督者
type Runner struct {
	cfg    *config.Config
	dialer session.Dialer
	logger *zap.Logger
	// root 会话使用的根日志记录器
	root *zap.Logger

	base    session.Options
	topics  []model.Topic
	backoff *backoff.Backoff

	results chan session.Result

	mu       sync.Mutex
	current  *session.Session
	quitting bool
	quitCh   chan struct{}
	sessions int
}

// NewRunner 创建会话监督者
// 参数 cfg: 已验证的配置
// 参数 dialer: 连接建立器
// 参数 onEvent: 行情事件回调（在会话循环中同步调用，不得阻塞），可为 nil
// 参数 logger: 日志记录器
func NewRunner(cfg *config.Config, dialer session.Dialer, onEvent func(model.Event), logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, topics, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	opts.OnEvent = onEvent

	return &Runner{
		cfg:     cfg,
		dialer:  dialer,
		logger:  logger.Named("runner"),
		root:    logger,
		base:    opts,
		topics:  topics,
		backoff: backoff.New(timeutil.Ms(cfg.Reconnect.DelayMs), timeutil.Ms(cfg.Reconnect.MaxDelayMs), backoff.DefaultJitter),
		results: make(chan session.Result, resultBuffer),
		quitCh:  make(chan struct{}),
	}, nil
}

// Options 由配置构造会话参数
// 返回: 会话参数（不含 InitialTopics）与配置的初始流
// fixed 模式下初始流为单个隐式订阅，URL 为直连单流地址。
func Options(cfg *config.Config) (session.Options, []model.Topic, error) {
	opts := session.Options{
		Mode:                       session.Mode(cfg.Stream.Mode),
		RequestTimeout:             timeutil.Ms(cfg.Session.RequestTimeoutMs),
		SweepInterval:              timeutil.Ms(cfg.Session.SweepIntervalMs),
		PongInterval:               timeutil.Ms(cfg.Session.PongIntervalMs),
		StatsInterval:              timeutil.Ms(cfg.Session.StatsIntervalMs),
		CommandRate:                cfg.Session.CommandRatePerSec,
		CommandBurst:               cfg.Session.CommandBurst,
		MaxConsecutiveDecodeErrors: cfg.Session.MaxConsecutiveDecodeErrors,
	}

	topics, err := model.ParseTopics(cfg.Stream.Topics)
	if err != nil {
		return session.Options{}, nil, err
	}

	base := cfg.Stream.BaseURL()
	if opts.Mode != session.ModeFixed {
		opts.URL = base
		return opts, topics, nil
	}

	if len(topics) == 0 {
		topic, err := model.NewTopic(strings.TrimSpace(cfg.Stream.Symbol) + "@trade")
		if err != nil {
			return session.Options{}, nil, err
		}
		topics = []model.Topic{topic}
	}
	topic := topics[0]
	opts.URL = binance.StreamURL(base, []model.Topic{topic})
	return opts, []model.Topic{topic}, nil
}

// Results 各会话命令结果的汇总通道，Run 返回时关闭
func (r *Runner) Results() <-chan session.Result {
	return r.results
}

// Current 当前会话；尚未建立或重连等待中返回最近一个会话
func (r *Runner) Current() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Status 当前会话状态
func (r *Runner) Status() (session.Status, bool) {
	s := r.Current()
	if s == nil {
		return session.Status{}, false
	}
	return s.Status(), true
}

// Sessions 已创建的会话数
func (r *Runner) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions
}

// Quit 请求退出：关闭当前会话并停止重连
func (r *Runner) Quit(ctx context.Context) error {
	r.mu.Lock()
	if r.quitting {
		r.mu.Unlock()
		return nil
	}
	r.quitting = true
	close(r.quitCh)
	s := r.current
	r.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Quit(ctx)
}

// Run 运行会话，故障后按退避重建，直到退出或上下文取消
// 返回: 退出与上下文取消时为 nil；未启用重连时返回会话的结束原因
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer close(r.results)
	defer wg.Wait()

	// desired 跨连接保留的期望订阅，初始为配置的流
	desired := append([]model.Topic(nil), r.topics...)
	for {
		s, ok := r.next(desired)
		if !ok {
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.forward(s)
		}()

		err := s.Run(ctx)
		desired = carryForward(desired, s)

		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return nil
		case r.isQuitting():
			return nil
		case !r.cfg.Reconnect.Enabled:
			return err
		}

		var tf *model.TransportFault
		if !errors.As(err, &tf) || tf.Op != "dial" {
			// 会话曾建立，重新计算退避
			r.backoff.Reset()
		}

		if r.wait(ctx, err) != nil {
			return nil
		}
	}
}

// carryForward 计算下一个会话的期望订阅
// 会话的初始订阅已确认时，其订阅集合完整反映了期望订阅（含用户的订阅与退订）；
// 否则（连接失败、初始订阅未确认或被拒绝）订阅集合并不完整，只能在原期望订阅上追加。
func carryForward(desired []model.Topic, s *session.Session) []model.Topic {
	if s.InitialSynced() {
		return s.Subscriptions()
	}
	return mergeTopics(desired, s.Subscriptions())
}

// next 创建下一个会话并设为当前会话
func (r *Runner) next(desired []model.Topic) (*session.Session, bool) {
	opts := r.base
	if opts.Mode == session.ModeFixed {
		opts.InitialTopics = r.topics
	} else {
		opts.InitialTopics = mergeTopics(desired, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quitting {
		return nil, false
	}
	s := session.New(r.dialer, opts, r.root)
	r.current = s
	r.sessions++
	r.logger.Info("创建会话",
		zap.String("session", s.ID()),
		zap.Int("seq", r.sessions),
		zap.Strings("topics", model.TopicStrings(opts.InitialTopics)))
	return s, true
}

func (r *Runner) wait(ctx context.Context, cause error) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.quitCh:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	attempt := r.backoff.Attempt() + 1
	delay, err := r.backoff.Wait(waitCtx)
	r.logger.Warn("会话结束，等待重连",
		zap.Error(cause),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
	return err
}

// forward 转发会话结果；汇总通道满时丢弃，保证会话结束后转发协程能退出
func (r *Runner) forward(s *session.Session) {
	for res := range s.Results() {
		select {
		case r.results <- res:
		default:
			r.logger.Warn("结果通道已满，丢弃结果", zap.Int64("id", res.ID), zap.Stringer("intent", res.Intent))
		}
	}
}

func (r *Runner) isQuitting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quitting
}

// mergeTopics 合并去重，按字典序
func mergeTopics(a, b []model.Topic) []model.Topic {
	seen := make(map[model.Topic]struct{}, len(a)+len(b))
	out := make([]model.Topic, 0, len(a)+len(b))
	for _, list := range [][]model.Topic{a, b} {
		for _, t := range list {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

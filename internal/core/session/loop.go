package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"market-stream-client/internal/core/heartbeat"
	"market-stream-client/internal/core/model"
	"market-stream-client/internal/core/tracker"
	"market-stream-client/internal/exchange/binance"
)

// Run 建立连接并运行会话循环，直到退出、上下文取消或连接故障
// 返回: 用户退出时为 nil；上下文取消时为 ctx.Err()；
// 其他情况为 *model.TransportFault、*model.ProtocolViolation 或连续解码失败错误。
// 每个 Session 只能 Run 一次。
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("会话已运行过")
	}
	defer close(s.done)
	defer close(s.results)
	defer s.setState(StateClosed)

	s.logger.Info("开始连接", zap.String("url", s.opts.URL))
	conn, err := s.dialer.Dial(ctx, s.opts.URL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &model.TransportFault{Op: "dial", Err: err}
	}

	hb := heartbeat.New(conn, s.opts.PongInterval, s.logger)
	s.heartbeat.Store(hb)
	s.conn.Store(&connRef{conn})
	s.setState(StateActive)
	s.logger.Info("会话已建立")

	cause := s.start(conn)
	if cause == nil {
		cause = s.loop(ctx, conn, hb)
	}
	return s.shutdown(conn, cause)
}

// start 发送初始订阅
// 没有初始订阅（或 fixed 模式）时连接建立即视为已同步
func (s *Session) start(conn Conn) error {
	if s.opts.Mode != ModeDynamic || len(s.opts.InitialTopics) == 0 {
		s.initialSynced.Store(true)
		return nil
	}
	// 初始订阅占用一个令牌，不阻塞循环
	s.limiter.Allow()
	id, err := s.send(conn, tracker.IntentSubscribe, s.opts.InitialTopics)
	s.initialID = id
	return err
}

func (s *Session) loop(ctx context.Context, conn Conn, hb *heartbeat.Responder) error {
	heartbeatTicker := time.NewTicker(hb.Interval())
	defer heartbeatTicker.Stop()
	sweepTicker := time.NewTicker(s.opts.SweepInterval)
	defer sweepTicker.Stop()
	statsTicker := time.NewTicker(s.opts.StatsInterval)
	defer statsTicker.Stop()

	inbound := conn.Inbound()
	pings := conn.Pings()

	for {
		// ping 优先于其他已就绪的等待源
		if err := drainPings(pings, hb); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case payload := <-pings:
			if err := hb.OnPing(payload); err != nil {
				return err
			}

		case msg, ok := <-inbound:
			if !ok {
				return &model.TransportFault{Op: "read", Err: io.ErrUnexpectedEOF}
			}
			if err := s.handleMessage(hb, msg); err != nil {
				return err
			}

		case req := <-s.commands:
			if req.quit {
				req.reply <- reply{}
				s.logger.Info("收到退出命令")
				return errQuit
			}
			id, err := s.send(conn, req.intent, req.topics)
			req.reply <- reply{id: id, err: err}
			if isFatal(err) {
				return err
			}

		case <-heartbeatTicker.C:
			if err := hb.Beat(); err != nil {
				return err
			}

		case now := <-sweepTicker.C:
			s.sweep(now)

		case now := <-statsTicker.C:
			s.logStats(now, conn)
		}
	}
}

func drainPings(pings <-chan []byte, hb *heartbeat.Responder) error {
	for {
		select {
		case payload := <-pings:
			if err := hb.OnPing(payload); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// send 登记在途请求、编码并发送
// 编码失败只影响本条命令；发送失败与关联 ID 冲突为致命错误
func (s *Session) send(conn Conn, intent tracker.Intent, topics []model.Topic) (int64, error) {
	id, err := s.tracker.Register(intent, topics, time.Now())
	if err != nil {
		return 0, err
	}
	s.pending.Store(int64(s.tracker.Len()))

	data, err := binance.Encode(binance.Command{Method: methodOf(intent), ID: id, Topics: topics})
	if err != nil {
		s.tracker.Resolve(id)
		s.pending.Store(int64(s.tracker.Len()))
		return 0, fmt.Errorf("编码命令失败: %w", err)
	}

	if err := conn.WriteText(data); err != nil {
		return id, &model.TransportFault{Op: "write", Err: err}
	}
	s.logger.Info("命令已发送",
		zap.Int64("id", id),
		zap.Stringer("intent", intent),
		zap.Strings("topics", model.TopicStrings(topics)))
	return id, nil
}

func (s *Session) handleMessage(hb *heartbeat.Responder, msg binance.InboundMessage) error {
	switch msg.Kind {
	case binance.MessageClosed, binance.MessageError:
		return &model.TransportFault{Op: "read", Err: msg.Err}
	case binance.MessageBinary:
		s.stats.RecordUnrecognized(msg.ReceivedAt)
		s.logger.Debug("忽略二进制帧", zap.Int("bytes", len(msg.Data)))
		return nil
	}

	frame, err := binance.Decode(msg.Data)
	if err != nil {
		s.consecutiveDecodeErrors++
		s.decodeErrors.Add(1)
		s.maybeLogDecodeError(err, msg.Data)
		if s.consecutiveDecodeErrors >= s.opts.MaxConsecutiveDecodeErrors {
			return fmt.Errorf("连续 %d 帧解析失败: %w", s.consecutiveDecodeErrors, err)
		}
		return nil
	}
	s.consecutiveDecodeErrors = 0

	switch f := frame.(type) {
	case binance.EventPush:
		s.stats.Record(f.Event, msg.ReceivedAt)
		s.latency.Add(f.Event, msg.ReceivedAt)
		if s.opts.OnEvent != nil {
			s.opts.OnEvent(f.Event)
		}
	case binance.CommandResponse:
		s.resolve(f)
	case binance.Ping:
		return hb.OnPing(f.Payload)
	case binance.UnrecognizedPush:
		s.stats.RecordUnrecognized(msg.ReceivedAt)
		if f.Err != nil {
			// 服务端无法解析请求时以 null id 回复，无法关联到在途命令
			s.logger.Warn("服务端返回无关联错误",
				zap.Int("code", f.Err.Code),
				zap.String("msg", f.Err.Msg))
			return nil
		}
		s.logger.Debug("无法识别的推送", zap.ByteString("data", truncate(f.Raw)))
	}
	return nil
}

// resolve 处理命令响应
// 只有成功的订阅/退订响应才修改订阅集合
func (s *Session) resolve(resp binance.CommandResponse) {
	if s.opts.Mode == ModeFixed {
		s.logger.Warn("fixed 模式收到命令响应，忽略", zap.Int64("id", resp.ID))
		return
	}

	p, ok := s.tracker.Resolve(resp.ID)
	if !ok {
		return
	}
	s.pending.Store(int64(s.tracker.Len()))

	res := Result{ID: p.ID, Intent: p.Intent, Topics: p.Topics}
	if !resp.OK() {
		res.Err = resp.Err
		s.logger.Warn("命令失败",
			zap.Int64("id", p.ID),
			zap.Stringer("intent", p.Intent),
			zap.Int("code", resp.Err.Code),
			zap.String("msg", resp.Err.Msg))
		s.emit(res)
		return
	}

	if s.initialID != 0 && p.ID == s.initialID {
		s.initialSynced.Store(true)
	}

	switch p.Intent {
	case tracker.IntentSubscribe:
		added := s.registry.ApplySubscribe(p.Topics)
		s.logger.Info("订阅已确认", zap.Int64("id", p.ID), zap.Int("added", added), zap.Int("total", s.registry.Len()))
	case tracker.IntentUnsubscribe:
		removed := s.registry.ApplyUnsubscribe(p.Topics)
		s.logger.Info("退订已确认", zap.Int64("id", p.ID), zap.Int("removed", removed), zap.Int("total", s.registry.Len()))
	case tracker.IntentListSubscriptions:
		res.Listing = resp.Listing
		if res.Listing == nil {
			res.Listing = []string{}
		}
	}
	s.emit(res)
}

// sweep 清扫超时请求，报告为失败
func (s *Session) sweep(now time.Time) {
	expired := s.tracker.Sweep(now)
	if len(expired) == 0 {
		return
	}
	s.pending.Store(int64(s.tracker.Len()))
	for _, p := range expired {
		terr := tracker.TimeoutError(p, now)
		s.logger.Warn("命令超时", zap.Int64("id", p.ID), zap.Stringer("intent", p.Intent), zap.Duration("elapsed", terr.Elapsed))
		s.emit(Result{ID: p.ID, Intent: p.Intent, Topics: p.Topics, Err: terr})
	}
}

func (s *Session) emit(res Result) {
	select {
	case s.results <- res:
	default:
		s.logger.Warn("结果通道已满，丢弃结果", zap.Int64("id", res.ID), zap.Stringer("intent", res.Intent))
	}
}

func (s *Session) logStats(now time.Time, conn Conn) {
	snap := s.stats.Snapshot()
	m := conn.Metrics()
	s.logger.Info("消息统计",
		zap.Int64("frames_read", m.FramesRead),
		zap.Int64("bytes_read", m.BytesRead),
		zap.Int64("pings_read", m.PingsRead),
		zap.Int64("frames_written", m.FramesWritten),
		zap.Int64("pongs_written", m.PongsWritten),
		zap.Int64("total", snap.Total),
		zap.Float64("rate_per_sec", snap.Rate(now)),
		zap.Float64("mean_inter_arrival_ms", snap.MeanInterArrivalMs),
		zap.Any("by_type", snap.ByType),
		zap.Int64("pending", s.pending.Load()),
		zap.Int("subscriptions", s.registry.Len()))
}

// shutdown 进入 Closing：清退在途请求并关闭连接
func (s *Session) shutdown(conn Conn, cause error) error {
	s.setState(StateClosing)

	for _, p := range s.tracker.Drain() {
		s.emit(Result{ID: p.ID, Intent: p.Intent, Topics: p.Topics, Err: model.ErrSessionClosed})
	}
	s.pending.Store(0)

	if err := conn.Close(); err != nil {
		s.logger.Warn("关闭连接失败", zap.Error(err))
	}

	var pv *model.ProtocolViolation
	switch {
	case errors.Is(cause, errQuit):
		cause = nil
		s.logger.Info("会话已关闭")
	case errors.As(cause, &pv):
		s.logger.Error("协议违例，会话中止", zap.Int64("id", pv.ID), zap.Error(cause))
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		s.logger.Info("上下文取消，会话已关闭")
	default:
		s.logger.Warn("会话异常结束", zap.Error(cause))
	}
	return cause
}

// maybeLogDecodeError 采样记录解码错误原始消息，避免刷屏
// 采样策略：首次与每 100 次错误记录 1 条，且至少间隔 1 分钟。
func (s *Session) maybeLogDecodeError(err error, data []byte) {
	count := atomic.AddUint64(&s.decodeErrSampleCount, 1)
	if count != 1 && count%100 != 0 {
		return
	}

	nowNs := time.Now().UnixNano()
	last := atomic.LoadInt64(&s.lastDecodeErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&s.lastDecodeErrLogNs, nowNs)

	s.logger.Warn("解析消息失败（采样）",
		zap.Error(err),
		zap.Uint64("count", count),
		zap.ByteString("data", truncate(data)))
}

func isFatal(err error) bool {
	var tf *model.TransportFault
	var pv *model.ProtocolViolation
	return errors.As(err, &tf) || errors.As(err, &pv)
}

func methodOf(intent tracker.Intent) binance.Method {
	switch intent {
	case tracker.IntentSubscribe:
		return binance.MethodSubscribe
	case tracker.IntentUnsubscribe:
		return binance.MethodUnsubscribe
	case tracker.IntentListSubscriptions:
		return binance.MethodListSubscriptions
	}
	return ""
}

func truncate(data []byte) []byte {
	if len(data) > 200 {
		return data[:200]
	}
	return data
}

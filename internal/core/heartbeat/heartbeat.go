// Package heartbeat 实现连接存活响应。
// 服务端 ping 必须原样回复 pong；另外按固定间隔发送空负载 pong 维持连接。
package heartbeat

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"market-stream-client/internal/core/model"
)

// DefaultInterval 主动 pong 默认间隔
const DefaultInterval = 30 * time.Second

// PongSender 发送 pong 控制帧的连接
type PongSender interface {
	WritePong(payload []byte) error
}

// Counters 心跳计数
type Counters struct {
	// PingsReceived 收到的服务端 ping 数量
	PingsReceived int64 `json:"pings_received"`
	// PongsSent 成功回复的 pong 数量（含主动 pong）
	PongsSent int64 `json:"pongs_sent"`
	// BeatsSent 主动 pong 数量
	BeatsSent int64 `json:"beats_sent"`
	// Failures 发送失败次数
	Failures int64 `json:"failures"`
}

// Responder 心跳响应器
// 由会话循环单线程调用；计数可在任意协程读取
type Responder struct {
	conn     PongSender
	interval time.Duration
	logger   *zap.Logger

	pings    atomic.Int64
	pongs    atomic.Int64
	beats    atomic.Int64
	failures atomic.Int64
}

// New 创建心跳响应器
// 参数 interval: 主动 pong 间隔，<=0 使用默认值
func New(conn PongSender, interval time.Duration, logger *zap.Logger) *Responder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{conn: conn, interval: interval, logger: logger.Named("heartbeat")}
}

// OnPing 回复服务端 ping，负载原样回传
// 每个 ping 恰好回复一次
func (r *Responder) OnPing(payload []byte) error {
	r.pings.Add(1)
	if err := r.conn.WritePong(payload); err != nil {
		r.failures.Add(1)
		return &model.TransportFault{Op: "pong", Err: err}
	}
	r.pongs.Add(1)
	r.logger.Debug("已回复 ping", zap.ByteString("payload", payload))
	return nil
}

// Beat 发送主动 pong（空负载）
func (r *Responder) Beat() error {
	if err := r.conn.WritePong(nil); err != nil {
		r.failures.Add(1)
		return &model.TransportFault{Op: "heartbeat", Err: err}
	}
	r.pongs.Add(1)
	r.beats.Add(1)
	return nil
}

// Interval 主动 pong 间隔
func (r *Responder) Interval() time.Duration {
	return r.interval
}

// Counters 获取计数快照
func (r *Responder) Counters() Counters {
	return Counters{
		PingsReceived: r.pings.Load(),
		PongsSent:     r.pongs.Load(),
		BeatsSent:     r.beats.Load(),
		Failures:      r.failures.Load(),
	}
}

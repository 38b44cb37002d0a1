// Package redispub 将行情事件异步发布到 Redis 频道。
// 频道名为 <prefix><symbol 小写>@<kind>，如 market:btcusdt@trade。
package redispub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"market-stream-client/internal/config"
	"market-stream-client/internal/core/model"
	"market-stream-client/internal/output/record"
)

// publishTimeout 单条发布超时
const publishTimeout = 2 * time.Second

// Client Redis 发布能力（*redis.Client 满足）
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

type message struct {
	channel string
	payload []byte
}

// Counters 发布计数
type Counters struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// Publisher 异步 Redis 发布器
// Publish 在会话循环中调用，只做编码与投递；队列满时丢弃。
type Publisher struct {
	client Client
	prefix string
	logger *zap.Logger

	queue chan message
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// New 使用配置创建 Redis 客户端并检查连通性
// 参数 ctx: 上下文，用于连通性检查
// 参数 cfg: Redis 配置
// 参数 logger: 日志记录器
func New(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	return NewWithClient(client, cfg.ChannelPrefix, cfg.BufferSize, logger), nil
}

// NewWithClient 使用已有客户端创建发布器
func NewWithClient(client Client, prefix string, bufferSize int, logger *zap.Logger) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		client: client,
		prefix: prefix,
		logger: logger.Named("redis"),
		queue:  make(chan message, bufferSize),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Channel 事件对应的发布频道
func (p *Publisher) Channel(ev model.Event) string {
	return ChannelName(p.prefix, ev.Symbol, ev.Kind)
}

// ChannelName 频道名：<prefix><symbol 小写>@<kind>
func ChannelName(prefix, symbol string, kind model.EventKind) string {
	return prefix + strings.ToLower(symbol) + "@" + string(kind)
}

// Publish 编码事件并投递到发送队列，不阻塞
// 返回值表示是否入队
func (p *Publisher) Publish(ev model.Event, recvAt time.Time) bool {
	payload, err := json.Marshal(record.FromEvent(ev, recvAt))
	if err != nil {
		p.failed.Add(1)
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- message{channel: p.Channel(ev), payload: payload}:
		return true
	default:
		if n := p.dropped.Add(1); n == 1 || n%1000 == 0 {
			p.logger.Warn("发布队列已满，丢弃事件", zap.Int64("dropped", n))
		}
		return false
	}
}

// Counters 获取发布计数
func (p *Publisher) Counters() Counters {
	return Counters{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close 发送完队列中剩余消息后关闭客户端
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.client.Close()
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := p.client.Publish(ctx, msg.channel, msg.payload).Err()
		cancel()
		if err != nil {
			if n := p.failed.Add(1); n == 1 || n%100 == 0 {
				p.logger.Warn("发布失败", zap.String("channel", msg.channel), zap.Int64("failed", n), zap.Error(err))
			}
			continue
		}
		p.published.Add(1)
	}
}

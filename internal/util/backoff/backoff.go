// Package backoff 实现断线重连的退避等待。
// 重连策略位于会话状态机之外：每次会话因连接故障结束后，按退避间隔重建新会话。
// 默认首次等待 3s，按 2 倍增长至 30s 封顶，抖动 ±20%。
package backoff

import (
	"context"
	"math/rand"
	"time"
)

const (
	// DefaultBase 默认首次等待
	DefaultBase = 3 * time.Second
	// DefaultMax 默认最大等待
	DefaultMax = 30 * time.Second
	// DefaultJitter 默认抖动比例
	DefaultJitter = 0.2

	// maxShift 位移上限，避免 base<<attempt 溢出
	maxShift = 30
)

// Backoff 指数退避计算器
// 非并发安全，由重连循环独占使用
type Backoff struct {
	// base 首次等待时间
	base time.Duration
	// max 最大等待时间
	max time.Duration
	// jitter 抖动比例（0-1），例如 0.2 表示 ±20%
	jitter float64
	// attempt 连续失败次数
	attempt int
}

// New 创建退避计算器
// 参数 base: 首次等待时间
// 参数 max: 最大等待时间，小于 base 时取 base
// 参数 jitter: 抖动比例，超出 [0,1] 时截断
func New(base, max time.Duration, jitter float64) *Backoff {
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 创建默认配置的退避计算器
func NewDefault() *Backoff {
	return New(DefaultBase, DefaultMax, DefaultJitter)
}

// Next 获取下次重连的等待时间并累加失败次数
// 计算公式: min(base * 2^attempt, max)，然后应用抖动
func (b *Backoff) Next() time.Duration {
	shift := b.attempt
	if shift > maxShift {
		shift = maxShift
	}
	delay := b.base << uint(shift)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}

	if b.jitter > 0 {
		jitterFactor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * jitterFactor)
	}

	b.attempt++
	return delay
}

// Wait 等待下一次退避间隔
// 上下文取消时立即返回 ctx.Err()
func (b *Backoff) Wait(ctx context.Context) (time.Duration, error) {
	delay := b.Next()
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return delay, ctx.Err()
	case <-timer.C:
		return delay, nil
	}
}

// Reset 重置失败次数
// 会话成功进入 Active 后调用
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 获取连续失败次数
func (b *Backoff) Attempt() int {
	return b.attempt
}

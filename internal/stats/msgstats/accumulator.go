// Package msgstats 统计会话收到的行情消息。
// 累计总数、按事件类型计数，以及到达间隔的增量均值/方差（Welford），内存占用恒定。
// 写入方只有会话循环；读取方通过原子指针获取不可变快照。
package msgstats

import (
	"math"
	"sync/atomic"
	"time"

	"market-stream-client/internal/core/model"
	"market-stream-client/internal/util/timeutil"
)

// TagUnrecognized 无法识别的推送的计数标签
const TagUnrecognized = "unrecognized"

// Snapshot 统计快照（不可变）
type Snapshot struct {
	// Total 消息总数
	Total int64 `json:"total"`
	// ByType 按事件类型计数，各项之和等于 Total
	ByType map[string]int64 `json:"by_type"`
	// WindowStart 统计窗口起点（会话开始时间）
	WindowStart time.Time `json:"window_start"`
	// LastArrival 最后一条消息到达时间
	LastArrival time.Time `json:"last_arrival,omitempty"`
	// MeanInterArrivalMs 平均到达间隔（毫秒）
	MeanInterArrivalMs float64 `json:"mean_inter_arrival_ms"`
	// StdDevInterArrivalMs 到达间隔标准差（毫秒）
	StdDevInterArrivalMs float64 `json:"stddev_inter_arrival_ms"`
	// MinInterArrivalMs 最小到达间隔（毫秒）
	MinInterArrivalMs float64 `json:"min_inter_arrival_ms"`
	// MaxInterArrivalMs 最大到达间隔（毫秒）
	MaxInterArrivalMs float64 `json:"max_inter_arrival_ms"`
	// LastInterArrivalMs 最近一次到达间隔（毫秒）
	LastInterArrivalMs float64 `json:"last_inter_arrival_ms"`
}

// Rate 窗口起点至 now 的平均消息速率（条/秒）
func (s *Snapshot) Rate(now time.Time) float64 {
	elapsed := now.Sub(s.WindowStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Total) / elapsed
}

// Count 指定类型的计数
func (s *Snapshot) Count(tag string) int64 {
	return s.ByType[tag]
}

// MeanInterArrival 平均到达间隔
func (s *Snapshot) MeanInterArrival() time.Duration {
	return time.Duration(s.MeanInterArrivalMs * float64(time.Millisecond))
}

// Accumulator 消息统计累加器
// Record 系列方法只能由单一协程调用；Snapshot 可并发调用
type Accumulator struct {
	start  time.Time
	total  int64
	byType map[string]int64

	// 到达间隔（纳秒）的 Welford 状态
	intervals int64
	mean      float64
	m2        float64
	min       time.Duration
	max       time.Duration
	last      time.Duration

	lastArrival time.Time

	view atomic.Pointer[Snapshot]
}

// New 创建累加器
// 参数 start: 统计窗口起点
func New(start time.Time) *Accumulator {
	a := &Accumulator{start: start, byType: make(map[string]int64)}
	a.publish()
	return a
}

// Record 记录一条行情事件
func (a *Accumulator) Record(ev model.Event, at time.Time) {
	a.record(string(ev.Kind), at)
}

// RecordUnrecognized 记录一条无法识别的推送
func (a *Accumulator) RecordUnrecognized(at time.Time) {
	a.record(TagUnrecognized, at)
}

func (a *Accumulator) record(tag string, at time.Time) {
	a.total++
	a.byType[tag]++

	if !a.lastArrival.IsZero() {
		d := at.Sub(a.lastArrival)
		if d < 0 {
			d = 0
		}
		a.intervals++
		x := float64(d)
		delta := x - a.mean
		a.mean += delta / float64(a.intervals)
		a.m2 += delta * (x - a.mean)

		if a.intervals == 1 || d < a.min {
			a.min = d
		}
		if d > a.max {
			a.max = d
		}
		a.last = d
	}
	if at.After(a.lastArrival) {
		a.lastArrival = at
	}

	a.publish()
}

// Snapshot 获取当前统计快照
func (a *Accumulator) Snapshot() *Snapshot {
	return a.view.Load()
}

func (a *Accumulator) publish() {
	byType := make(map[string]int64, len(a.byType))
	for k, v := range a.byType {
		byType[k] = v
	}
	var stddev float64
	if a.intervals > 1 {
		stddev = math.Sqrt(a.m2 / float64(a.intervals-1))
	}
	a.view.Store(&Snapshot{
		Total:                a.total,
		ByType:               byType,
		WindowStart:          a.start,
		LastArrival:          a.lastArrival,
		MeanInterArrivalMs:   a.mean / float64(time.Millisecond),
		StdDevInterArrivalMs: stddev / float64(time.Millisecond),
		MinInterArrivalMs:    timeutil.DurationMs(a.min),
		MaxInterArrivalMs:    timeutil.DurationMs(a.max),
		LastInterArrivalMs:   timeutil.DurationMs(a.last),
	})
}

// Package latency 统计行情事件的推送时延。
// 时延定义为本地到达时间减去服务端事件时间，按事件类型分别维护滚动窗口。
package latency

import (
	"sort"
	"sync"
	"time"

	"market-stream-client/internal/core/model"
)

// DefaultWindowSize 默认滚动窗口大小
const DefaultWindowSize = 10000

// LatencyStats 时延统计快照（滚动窗口）
// 单位：毫秒。
type LatencyStats struct {
	// Kind 事件类型
	Kind string `json:"kind"`
	// Count 样本总数（累计）
	Count int64 `json:"count"`
	// Skipped 缺少事件时间而未计入的事件数
	Skipped int64 `json:"skipped"`

	// P50Ms P50 时延（毫秒）
	P50Ms float64 `json:"p50_ms"`
	// P90Ms P90 时延（毫秒）
	P90Ms float64 `json:"p90_ms"`
	// P99Ms P99 时延（毫秒）
	P99Ms float64 `json:"p99_ms"`
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	mu sync.Mutex
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

func (w *rollingWindow) snapshotQuantiles(qs ...float64) (count int64, values []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	count = w.count
	if len(w.buf) == 0 {
		return count, make([]int64, len(qs))
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	values = make([]int64, len(qs))
	n := len(tmp)
	for i, q := range qs {
		if q <= 0 {
			values[i] = tmp[0]
			continue
		}
		if q >= 1 {
			values[i] = tmp[n-1]
			continue
		}
		idx := int(float64(n-1) * q)
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		values[i] = tmp[idx]
	}
	return count, values
}

type kindTracker struct {
	window  *rollingWindow
	skipped int64
}

// Tracker 时延追踪器
// 为每种事件类型维护独立的滚动窗口；Add 与 Stats 可并发调用。
type Tracker struct {
	kinds map[model.EventKind]*kindTracker
}

// NewTracker 创建时延追踪器
// 参数 windowSize: 滚动窗口大小（建议 10000），用于 P50/P90/P99。
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	t := &Tracker{kinds: make(map[model.EventKind]*kindTracker, 4)}
	for _, k := range []model.EventKind{model.KindTrade, model.KindAggTrade, model.KindTicker, model.KindKline} {
		t.kinds[k] = &kindTracker{window: newRollingWindow(windowSize)}
	}
	return t
}

// Add 记录一条事件的推送时延
// 时延定义：lag = arrivedAt - ev.EventTime；事件时间缺省（如现货 bookTicker）时不计入
func (t *Tracker) Add(ev model.Event, arrivedAt time.Time) {
	kt, ok := t.kinds[ev.Kind]
	if !ok {
		return
	}
	if ev.EventTime.IsZero() {
		kt.window.mu.Lock()
		kt.skipped++
		kt.window.mu.Unlock()
		return
	}
	kt.window.add(int64(arrivedAt.Sub(ev.EventTime)))
}

// Stats 获取指定事件类型的统计快照
func (t *Tracker) Stats(kind model.EventKind) LatencyStats {
	kt, ok := t.kinds[kind]
	if !ok {
		return LatencyStats{Kind: string(kind)}
	}

	count, qs := kt.window.snapshotQuantiles(0.50, 0.90, 0.99)
	kt.window.mu.Lock()
	skipped := kt.skipped
	kt.window.mu.Unlock()

	return LatencyStats{
		Kind:    string(kind),
		Count:   count,
		Skipped: skipped,
		P50Ms:   float64(qs[0]) / 1_000_000.0,
		P90Ms:   float64(qs[1]) / 1_000_000.0,
		P99Ms:   float64(qs[2]) / 1_000_000.0,
	}
}

// All 获取所有有样本的事件类型的统计，按类型名排序
func (t *Tracker) All() []LatencyStats {
	out := make([]LatencyStats, 0, len(t.kinds))
	for k := range t.kinds {
		s := t.Stats(k)
		if s.Count == 0 && s.Skipped == 0 {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

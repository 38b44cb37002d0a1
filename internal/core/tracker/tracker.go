// Package tracker 维护在途命令的关联 ID 与其意图。
// 收到匹配 id 的响应时消解；超时未响应的条目由 Sweep 清扫并报告为失败。
package tracker

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"market-stream-client/internal/core/model"
)

// DefaultTimeout 默认请求超时
const DefaultTimeout = 5 * time.Second

// Intent 请求意图
type Intent int

const (
	// IntentSubscribe 订阅
	IntentSubscribe Intent = iota + 1
	// IntentUnsubscribe 退订
	IntentUnsubscribe
	// IntentListSubscriptions 查询服务端订阅列表
	IntentListSubscriptions
)

// String 返回线上协议方法名
func (i Intent) String() string {
	switch i {
	case IntentSubscribe:
		return "SUBSCRIBE"
	case IntentUnsubscribe:
		return "UNSUBSCRIBE"
	case IntentListSubscriptions:
		return "LIST_SUBSCRIPTIONS"
	}
	return "UNKNOWN"
}

// Pending 在途请求
type Pending struct {
	// ID 关联 ID
	ID int64
	// Intent 请求意图
	Intent Intent
	// Topics 订阅/退订涉及的流（LIST_SUBSCRIPTIONS 为空）
	Topics []model.Topic
	// IssuedAt 发出时间
	IssuedAt time.Time
}

// Tracker 在途请求追踪器（单写者）
// 与订阅集合一样只由会话循环访问，不加锁。
type Tracker struct {
	// timeout 请求超时
	timeout time.Duration
	// nextID 下一个待分配的关联 ID，单调递增
	nextID int64
	// ids 关联 ID 来源；为空时使用 nextID 计数器
	ids IDSource
	// pending 在途请求
	pending map[int64]*Pending
	// logger 日志记录器
	logger *zap.Logger
}

// IDSource 关联 ID 分配函数
type IDSource func() int64

// New 创建追踪器，关联 ID 从 1 开始单调递增
// 参数 timeout: 请求超时，<=0 时使用 DefaultTimeout
// 参数 logger: 日志记录器
func New(timeout time.Duration, logger *zap.Logger) *Tracker {
	return NewWithIDSource(timeout, nil, logger)
}

// NewWithIDSource 创建使用指定 ID 来源的追踪器
// ids 为 nil 时使用内置计数器
func NewWithIDSource(timeout time.Duration, ids IDSource, logger *zap.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		timeout: timeout,
		nextID:  1,
		ids:     ids,
		pending: make(map[int64]*Pending),
		logger:  logger.Named("tracker"),
	}
}

// Register 分配新的关联 ID 并登记在途请求
// 返回: 调用方需要写入出站帧的关联 ID
func (t *Tracker) Register(intent Intent, topics []model.Topic, now time.Time) (int64, error) {
	id := t.allocate()
	p := &Pending{
		ID:       id,
		Intent:   intent,
		Topics:   append([]model.Topic(nil), topics...),
		IssuedAt: now,
	}
	if err := t.Insert(p); err != nil {
		return 0, err
	}
	return id, nil
}

// Insert 登记一个已带 ID 的在途请求
// ID 已在途时返回 *model.ProtocolViolation，绝不覆盖原条目。
func (t *Tracker) Insert(p *Pending) error {
	if _, ok := t.pending[p.ID]; ok {
		return &model.ProtocolViolation{ID: p.ID}
	}
	t.pending[p.ID] = p
	if p.ID >= t.nextID {
		t.nextID = p.ID + 1
	}
	return nil
}

// Resolve 查找并移除关联 ID 对应的在途请求
// 找不到时视为迟到/重复响应：记录日志后忽略。
func (t *Tracker) Resolve(id int64) (*Pending, bool) {
	p, ok := t.pending[id]
	if !ok {
		t.logger.Warn("收到未知关联 ID 的响应，忽略", zap.Int64("id", id))
		return nil, false
	}
	delete(t.pending, id)
	return p, true
}

// Sweep 移除并返回超过超时时间的在途请求（按 ID 升序）
func (t *Tracker) Sweep(now time.Time) []*Pending {
	var expired []*Pending
	for id, p := range t.pending {
		if now.Sub(p.IssuedAt) >= t.timeout {
			expired = append(expired, p)
			delete(t.pending, id)
		}
	}
	sortByID(expired)
	return expired
}

// Drain 移除并返回全部在途请求（会话关闭时调用）
func (t *Tracker) Drain() []*Pending {
	out := make([]*Pending, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p)
	}
	clear(t.pending)
	sortByID(out)
	return out
}

// Len 在途请求数量
func (t *Tracker) Len() int {
	return len(t.pending)
}

func (t *Tracker) allocate() int64 {
	if t.ids != nil {
		return t.ids()
	}
	id := t.nextID
	t.nextID++
	return id
}

// TimeoutError 将过期条目转换为 *model.TimeoutError
func TimeoutError(p *Pending, now time.Time) *model.TimeoutError {
	return &model.TimeoutError{ID: p.ID, Intent: p.Intent.String(), Elapsed: now.Sub(p.IssuedAt)}
}

func sortByID(ps []*Pending) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}

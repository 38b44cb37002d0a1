// Package registry 维护当前已确认生效的订阅集合。
// 使用单写者模式：只有会话循环在收到确认 ACK 后才会写入。
package registry

import (
	"sort"
	"sync/atomic"

	"market-stream-client/internal/core/model"
)

// Registry 订阅集合（单写者）
// 写入方为会话循环；读取方可在任意 goroutine 通过 Snapshot 获取只读视图。
type Registry struct {
	// topics 已确认的订阅
	topics map[model.Topic]struct{}
	// view 排序后的只读快照，每次变更后整体替换
	view atomic.Pointer[[]model.Topic]
}

// New 创建空的订阅集合
func New() *Registry {
	r := &Registry{topics: make(map[model.Topic]struct{})}
	empty := []model.Topic{}
	r.view.Store(&empty)
	return r
}

// ApplySubscribe 应用已确认的订阅
// 已存在的 Topic 为空操作。
// 返回: 实际新增的数量
func (r *Registry) ApplySubscribe(topics []model.Topic) int {
	added := 0
	for _, t := range topics {
		if _, ok := r.topics[t]; ok {
			continue
		}
		r.topics[t] = struct{}{}
		added++
	}
	if added > 0 {
		r.publish()
	}
	return added
}

// ApplyUnsubscribe 应用已确认的退订
// 不存在的 Topic 为空操作。
// 返回: 实际移除的数量
func (r *Registry) ApplyUnsubscribe(topics []model.Topic) int {
	removed := 0
	for _, t := range topics {
		if _, ok := r.topics[t]; !ok {
			continue
		}
		delete(r.topics, t)
		removed++
	}
	if removed > 0 {
		r.publish()
	}
	return removed
}

// Contains 判断 Topic 是否已订阅（仅写者 goroutine 调用）
func (r *Registry) Contains(t model.Topic) bool {
	_, ok := r.topics[t]
	return ok
}

// Len 已订阅数量（并发安全）
func (r *Registry) Len() int {
	return len(*r.view.Load())
}

// Snapshot 返回按字典序排序的订阅列表
// 并发安全；返回切片为副本，调用方可自由修改。
func (r *Registry) Snapshot() []model.Topic {
	v := *r.view.Load()
	out := make([]model.Topic, len(v))
	copy(out, v)
	return out
}

func (r *Registry) publish() {
	v := make([]model.Topic, 0, len(r.topics))
	for t := range r.topics {
		v = append(v, t)
	}
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
	r.view.Store(&v)
}

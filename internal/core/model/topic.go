// Package model 定义行情流客户端使用的核心数据结构。
// 包含 Topic、统一事件模型以及错误分类。
package model

import (
	"fmt"
	"strings"
)

// Topic 行情流名称，如 "btcusdt@trade"
// 构造后不可变，相等性为字符串精确匹配，统一为小写。
type Topic string

// NewTopic 校验并构造 Topic
// 参数 raw: 用户输入的流名称，允许大小写混合与首尾空白
// 返回: 小写化后的 Topic；为空、包含空白、缺少 '@' 或 '@' 任一侧为空时返回 ErrInvalidTopic
func NewTopic(raw string) (Topic, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: 空的流名称", ErrInvalidTopic)
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return "", fmt.Errorf("%w: %q 含有空白字符", ErrInvalidTopic, raw)
	}
	symbol, stream, ok := strings.Cut(s, "@")
	if !ok {
		return "", fmt.Errorf("%w: %q 缺少 '@' 分隔符", ErrInvalidTopic, raw)
	}
	if symbol == "" || stream == "" {
		return "", fmt.Errorf("%w: %q 交易对与流类型均不能为空", ErrInvalidTopic, raw)
	}
	return Topic(s), nil
}

// MustTopic 构造 Topic，失败时 panic
// 仅用于常量与测试。
func MustTopic(raw string) Topic {
	t, err := NewTopic(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTopics 批量构造 Topic，遇到第一个非法名称即返回错误
func ParseTopics(raws []string) ([]Topic, error) {
	out := make([]Topic, 0, len(raws))
	for _, r := range raws {
		t, err := NewTopic(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// String 返回流名称
func (t Topic) String() string {
	return string(t)
}

// Symbol 返回 '@' 之前的交易对部分，如 btcusdt
func (t Topic) Symbol() string {
	s, _, _ := strings.Cut(string(t), "@")
	return s
}

// Stream 返回 '@' 之后的流类型部分，如 trade、kline_1m
func (t Topic) Stream() string {
	_, s, _ := strings.Cut(string(t), "@")
	return s
}

// TopicStrings 将 Topic 列表转换为字符串列表（用于线上协议 params 字段）
func TopicStrings(topics []Topic) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = string(t)
	}
	return out
}

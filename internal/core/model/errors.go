package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTopic 非法的流名称
	ErrInvalidTopic = errors.New("非法的流名称")
	// ErrSessionClosed 会话已关闭，未完成的请求被清退
	ErrSessionClosed = errors.New("会话已关闭")
	// ErrCommandsUnsupported 固定 URL 模式不接受运行时命令
	ErrCommandsUnsupported = errors.New("当前模式不支持订阅命令")
)

// DecodeError 帧语法错误（JSON 不合法、截断等）
// 记录日志并丢弃该帧，会话继续。
type DecodeError struct {
	// Raw 原始帧（可能被截断用于日志）
	Raw []byte
	// Err 底层解析错误
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("帧解析失败: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CommandError 服务端返回的命令错误 {"error":{"code":C,"msg":S},"id":N}
// 不会修改订阅集合。
type CommandError struct {
	// Code 服务端错误码
	Code int `json:"code"`
	// Msg 服务端错误描述
	Msg string `json:"msg"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("服务端拒绝命令: code=%d msg=%s", e.Code, e.Msg)
}

// TimeoutError 请求在超时窗口内未收到响应
type TimeoutError struct {
	// ID 关联 ID
	ID int64
	// Intent 请求意图（SUBSCRIBE/UNSUBSCRIBE/LIST_SUBSCRIPTIONS）
	Intent string
	// Elapsed 发出至清扫时经过的时间
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("请求超时: id=%d intent=%s elapsed=%s", e.ID, e.Intent, e.Elapsed)
}

// TransportFault 发送或接收失败，驱动会话进入 Closing
type TransportFault struct {
	// Op 出错的操作: dial, read, write, pong
	Op string
	// Err 底层错误
	Err error
}

func (e *TransportFault) Error() string {
	return fmt.Sprintf("连接故障(%s): %v", e.Op, e.Err)
}

func (e *TransportFault) Unwrap() error { return e.Err }

// ProtocolViolation 关联 ID 在途重复，说明关联追踪存在缺陷
// 致命错误，会话立即中止。
type ProtocolViolation struct {
	// ID 冲突的关联 ID
	ID int64
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("协议违例: 关联 ID %d 已在途", e.ID)
}

// Package timeutil 提供时间相关的工具函数。
// 交易所时间戳统一为毫秒，本包负责与 time.Time 之间的转换。
package timeutil

import (
	"time"
)

// MsToTime 将毫秒时间戳转换为 time.Time
// 参数 ms: 毫秒时间戳；<=0 视为缺省，返回零值
func MsToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// TimeToMs 将 time.Time 转换为毫秒时间戳，零值返回 0
func TimeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Ms 将毫秒配置值转换为 time.Duration
func Ms(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// DurationMs 将 time.Duration 转换为毫秒浮点数（保留精度，用于统计输出）
func DurationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

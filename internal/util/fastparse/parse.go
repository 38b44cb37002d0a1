// Package fastparse 提供行情字段的解析函数。
// 价格与数量统一解析为精确十进制，避免二进制浮点带来的表示漂移。
package fastparse

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParseDecimal 解析十进制字符串
// 参数 s: 待解析的字符串，如 "12345.67000000"
// 返回: 精确十进制值；空字符串或非法格式返回错误
func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("空的十进制字段")
	}
	return decimal.NewFromString(s)
}

// ParseDecimalOpt 解析可缺省的十进制字段
// 空字符串视为缺省，返回零值且不报错。
func ParseDecimalOpt(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// DecimalFields 按顺序解析多个十进制字段
// 任一字段失败即返回错误，错误信息带字段名。
type DecimalFields struct {
	err error
}

// Required 解析必填字段，写入 dst
func (d *DecimalFields) Required(name, s string, dst *decimal.Decimal) {
	if d.err != nil {
		return
	}
	v, err := ParseDecimal(s)
	if err != nil {
		d.err = fmt.Errorf("字段 %s: %w", name, err)
		return
	}
	*dst = v
}

// Optional 解析可缺省字段，写入 dst
func (d *DecimalFields) Optional(name, s string, dst *decimal.Decimal) {
	if d.err != nil {
		return
	}
	v, err := ParseDecimalOpt(s)
	if err != nil {
		d.err = fmt.Errorf("字段 %s: %w", name, err)
		return
	}
	*dst = v
}

// Err 返回第一个解析错误
func (d *DecimalFields) Err() error {
	return d.err
}

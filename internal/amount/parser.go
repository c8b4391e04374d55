// Package amount 将匹配到的数字文本和量级词归一化为金额。
package amount

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNoAmount     = errors.New("amount: not a number")
	ErrBelowMinimum = errors.New("amount: below minimum")
	ErrAboveCeiling = errors.New("amount: above ceiling")
	ErrUnknownScale = errors.New("amount: unknown scale word")
)

var (
	// Minimum 小于一美分的金额视为噪声
	Minimum = decimal.New(1, -2)
	// Ceiling 超过此值视为误匹配
	Ceiling = decimal.New(1, 15)
)

var scales = map[string]decimal.Decimal{
	"hundred":  decimal.New(1, 2),
	"thousand": decimal.New(1, 3),
	"k":        decimal.New(1, 3),
	"million":  decimal.New(1, 6),
	"m":        decimal.New(1, 6),
	"billion":  decimal.New(1, 9),
	"b":        decimal.New(1, 9),
	"trillion": decimal.New(1, 12),
	"t":        decimal.New(1, 12),
}

// Multiplier 返回量级词对应的倍数，大小写不敏感
func Multiplier(scaleWord string) (decimal.Decimal, bool) {
	m, ok := scales[strings.ToLower(strings.TrimSpace(scaleWord))]
	return m, ok
}

// Parse 去掉千分位后解析数字，乘以量级倍数并做上下限检查
func Parse(digits, scaleWord string) (decimal.Decimal, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(digits), ",", "")
	if clean == "" || !isPlainDecimal(clean) {
		return decimal.Zero, ErrNoAmount
	}
	v, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, ErrNoAmount
	}
	if v.LessThan(Minimum) {
		return decimal.Zero, ErrBelowMinimum
	}
	if scaleWord != "" {
		m, ok := Multiplier(scaleWord)
		if !ok {
			return decimal.Zero, ErrUnknownScale
		}
		v = v.Mul(m)
	}
	if v.GreaterThan(Ceiling) {
		return decimal.Zero, ErrAboveCeiling
	}
	return v, nil
}

// isPlainDecimal 只接受 [0-9]+(.[0-9]+)?，拒绝符号与指数形式
func isPlainDecimal(s string) bool {
	dot := false
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot && digits > 0 && i < len(s)-1:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}

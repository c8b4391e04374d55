// Package convert 把美元金额按汇率换算为黄金质量并按数量级格式化。
package convert

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"goldlens/pkg/model"
)

// GramsPerTroyOunce 每金衡盎司对应的克数
var GramsPerTroyOunce = decimal.RequireFromString("31.1034768")

var (
	unitLimit  = decimal.NewFromInt(1)
	largeLimit = decimal.NewFromInt(1000)

	// 微克区间上界 1e-4 g = 100 µg，毫克区间上界 1e-2 g = 10 mg
	hundred = decimal.NewFromInt(100)
	ten     = decimal.NewFromInt(10)

	million  = decimal.New(1, 6)
	thousand = decimal.New(1, 3)
)

// Convert 金额除以每克价格；汇率缺失或非正时返回 false
func Convert(amount decimal.Decimal, rate *model.ExchangeRate) (decimal.Decimal, bool) {
	if !rate.Valid() {
		return decimal.Zero, false
	}
	return amount.Div(rate.RatePerUnit), true
}

// Format 按显示格式输出换算结果
func Format(grams decimal.Decimal, format model.DisplayFormat) string {
	if format == model.DisplayTroy {
		return FormatTroy(grams)
	}
	return FormatMetric(grams)
}

// FormatMetric 五个数量级区间：微克、毫克、亚克、常规、大额。
// 先按区间精度舍入，再用舍入后的值判断是否越过区间上界。
func FormatMetric(grams decimal.Decimal) string {
	if ug := grams.Mul(million).Round(0); ug.LessThan(hundred) {
		return ug.StringFixed(0) + " µg"
	}
	if mg := grams.Mul(thousand).Round(2); mg.LessThan(ten) {
		return mg.StringFixed(2) + " mg"
	}
	return scaled(grams, "g")
}

// FormatTroy 以金衡盎司显示
func FormatTroy(grams decimal.Decimal) string {
	return scaled(grams.Div(GramsPerTroyOunce), "ozt")
}

// scaled 亚单位四位小数，常规两位小数，大额加千分位
func scaled(v decimal.Decimal, unit string) string {
	if r := v.Round(4); r.LessThan(unitLimit) {
		return r.StringFixed(4) + " " + unit
	}
	if r := v.Round(2); r.LessThan(largeLimit) {
		return r.StringFixed(2) + " " + unit
	}
	return grouped(v) + " " + unit
}

// grouped 两位小数并对整数部分加千分位
func grouped(v decimal.Decimal) string {
	fixed := v.StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")
	n := decimal.RequireFromString(intPart)
	return humanize.Comma(n.IntPart()) + "." + frac
}

// Display 换算并格式化，汇率不可用时返回 false
func Display(amount decimal.Decimal, rate *model.ExchangeRate, format model.DisplayFormat) (string, bool) {
	grams, ok := Convert(amount, rate)
	if !ok {
		return "", false
	}
	return Format(grams, format), true
}

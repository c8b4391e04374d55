// Package scan 把匹配、消歧、换算串成流水线，并驱动页面级的扫描生命周期。
package scan

import (
	"goldlens/internal/convert"
	"goldlens/internal/matcher"
	"goldlens/internal/resolver"
	"goldlens/pkg/model"
)

// Planner 为单段文本计算替换计划
type Planner struct {
	catalog *matcher.Catalog
}

func NewPlanner(catalog *matcher.Catalog) *Planner {
	if catalog == nil {
		catalog = matcher.Default()
	}
	return &Planner{catalog: catalog}
}

// Plan 汇率不可用时返回 nil，不生成任何占位替换
func (p *Planner) Plan(text string, rate *model.ExchangeRate, format model.DisplayFormat) []model.Replacement {
	if !rate.Valid() {
		return nil
	}
	reps := resolver.Resolve(p.catalog.FindCandidates(text))
	out := reps[:0]
	for _, r := range reps {
		display, ok := convert.Display(r.Amount, rate, format)
		if !ok {
			continue
		}
		r.DisplayText = display
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

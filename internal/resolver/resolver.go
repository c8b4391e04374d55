// Package resolver 从重叠的候选中选出互不重叠、确定的替换集合。
package resolver

import (
	"errors"
	"sort"

	"goldlens/internal/amount"
	"goldlens/pkg/model"
)

// Resolve 按起点升序、终点降序、形式优先级升序排序后贪心选取。
// 超出上限的候选虽被丢弃，但其范围内更短的候选也一并丢弃。
func Resolve(candidates []model.MatchCandidate) []model.Replacement {
	var overflow []model.MatchCandidate
	for _, c := range candidates {
		if !c.Valid && errors.Is(c.Err, amount.ErrAboveCeiling) && c.End > c.Start {
			overflow = append(overflow, c)
		}
	}

	valid := make([]model.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Valid || !c.NormalizedAmount.IsPositive() || c.End <= c.Start {
			continue
		}
		if shadowed(c, overflow) {
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil
	}

	sort.SliceStable(valid, func(i, j int) bool {
		a, b := valid[i], valid[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		return a.SourcePatternRank < b.SourcePatternRank
	})

	out := make([]model.Replacement, 0, len(valid))
	lastEnd := -1
	for _, c := range valid {
		if c.Start < lastEnd {
			continue
		}
		out = append(out, model.Replacement{
			Start:        c.Start,
			End:          c.End,
			OriginalText: c.RawText,
			Amount:       c.NormalizedAmount,
		})
		lastEnd = c.End
	}
	return out
}

// shadowed 判断 c 是否落在某个超限候选的范围内且更短
func shadowed(c model.MatchCandidate, overflow []model.MatchCandidate) bool {
	for _, o := range overflow {
		if c.Start >= o.Start && c.End <= o.End && c.End-c.Start < o.End-o.Start {
			return true
		}
	}
	return false
}

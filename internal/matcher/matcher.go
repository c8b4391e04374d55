// Package matcher 在任意文本中查找美元金额的各种书写形式。
package matcher

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"goldlens/internal/amount"
	"goldlens/pkg/model"
)

// Tier 形式的具体程度，数值越小越具体
type Tier int

const (
	TierScaleWord Tier = iota + 1
	TierScaleLetter
	TierPlain
)

const (
	sp         = `[\s\x{00A0}]`
	numScaled  = `(?P<num>\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`
	numPlain   = `(?P<num>\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)`
	scaleWord  = `(?P<scale>hundred|thousand|million|billion|trillion)`
	scaleAbbr  = `(?P<scale>[kmbt])`
	dollarWord = `(?:US` + sp + `+)?dollars?`
	code       = `(?:USD|US\$)`
)

// Form 目录中的一种金额书写形式
type Form struct {
	Name  string
	Tier  Tier
	re    *regexp.Regexp
	num   int
	scale int
}

// Catalog 按优先级排列的形式目录
type Catalog struct {
	forms []Form
}

var defaultCatalog = NewCatalog()

// Default 返回共享的默认目录
func Default() *Catalog { return defaultCatalog }

// NewCatalog 编译默认形式目录，最具体的排在最前
func NewCatalog() *Catalog {
	specs := []struct {
		name string
		tier Tier
		expr string
	}{
		{"symbol-scale-word", TierScaleWord, `\$` + sp + `?` + numScaled + sp + `*` + scaleWord + `(?:` + sp + `+` + dollarWord + `\b)?`},
		{"code-scale-word", TierScaleWord, code + sp + `?` + numScaled + sp + `*` + scaleWord},
		{"suffix-scale-word", TierScaleWord, numScaled + sp + `+` + scaleWord + sp + `+(?:` + dollarWord + `|USD)`},
		// 量级字母必须紧贴数字，"$3 T-shirts" 只能是 $3
		{"symbol-scale-letter", TierScaleLetter, `\$` + sp + `?` + numScaled + scaleAbbr},
		{"code-scale-letter", TierScaleLetter, code + sp + `?` + numScaled + scaleAbbr},
		{"suffix-scale-letter", TierScaleLetter, numScaled + scaleAbbr + sp + `+(?:` + dollarWord + `|USD)`},
		{"symbol-plain", TierPlain, `\$` + sp + `?` + numPlain + `(?:` + sp + `+` + dollarWord + `\b)?`},
		{"code-plain", TierPlain, code + sp + `?` + numPlain},
		{"suffix-plain", TierPlain, numPlain + sp + `*(?:` + dollarWord + `|USD)`},
	}

	c := &Catalog{forms: make([]Form, 0, len(specs))}
	for _, s := range specs {
		re := regexp.MustCompile(`(?i)` + s.expr)
		c.forms = append(c.forms, Form{
			Name:  s.name,
			Tier:  s.tier,
			re:    re,
			num:   re.SubexpIndex("num"),
			scale: re.SubexpIndex("scale"),
		})
	}
	return c
}

// Forms 返回目录中的全部形式
func (c *Catalog) Forms() []Form {
	out := make([]Form, len(c.forms))
	copy(out, c.forms)
	return out
}

// FindCandidates 收集所有形式在文本中的全部匹配位置
func (c *Catalog) FindCandidates(text string) []model.MatchCandidate {
	if !strings.ContainsAny(text, "0123456789") {
		return nil
	}
	var out []model.MatchCandidate
	for rank := range c.forms {
		out = c.forms[rank].collect(text, rank, out)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// FindCandidates 使用默认目录查找候选
func FindCandidates(text string) []model.MatchCandidate {
	return defaultCatalog.FindCandidates(text)
}

func (f *Form) collect(text string, rank int, out []model.MatchCandidate) []model.MatchCandidate {
	pos := 0
	for pos < len(text) {
		loc := f.re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if end == start || !bounded(text, start, end) {
			_, size := utf8.DecodeRuneInString(text[start:])
			pos = start + size
			continue
		}

		digits := group(text, pos, loc, f.num)
		scale := ""
		if f.scale >= 0 {
			scale = group(text, pos, loc, f.scale)
		}
		v, err := amount.Parse(digits, scale)
		out = append(out, model.MatchCandidate{
			Start:             start,
			End:               end,
			RawText:           text[start:end],
			NormalizedAmount:  v,
			SourcePatternRank: rank,
			Valid:             err == nil,
			Err:               err,
		})
		pos = end
	}
	return out
}

func group(text string, offset int, loc []int, idx int) string {
	if idx < 0 || loc[2*idx] < 0 {
		return ""
	}
	return text[offset+loc[2*idx] : offset+loc[2*idx+1]]
}

// bounded 匹配两端不能紧贴字母或数字，也不能是小数的一部分
func bounded(text string, start, end int) bool {
	if start > 0 {
		prev, size := utf8.DecodeLastRuneInString(text[:start])
		if isWord(prev) || prev == '$' {
			return false
		}
		if prev == '.' || prev == ',' {
			if pp, _ := utf8.DecodeLastRuneInString(text[:start-size]); unicode.IsDigit(pp) {
				return false
			}
		}
	}
	if end < len(text) {
		next, size := utf8.DecodeRuneInString(text[end:])
		if isWord(next) {
			return false
		}
		if next == '.' || next == ',' {
			if nn, _ := utf8.DecodeRuneInString(text[end+size:]); unicode.IsDigit(nn) {
				return false
			}
		}
	}
	return true
}

func isWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

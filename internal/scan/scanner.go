package scan

import (
	"golang.org/x/net/html"

	"goldlens/internal/dom"
	"goldlens/internal/page"
	"goldlens/pkg/model"
)

// Result 一次扫描的统计
type Result struct {
	Nodes     int
	Converted int
	Mutations []page.Mutation
}

// Scanner 遍历文档并就地写入标注
type Scanner struct {
	planner   *Planner
	processed *dom.ProcessedSet
}

func NewScanner(planner *Planner, processed *dom.ProcessedSet) *Scanner {
	if planner == nil {
		planner = NewPlanner(nil)
	}
	if processed == nil {
		processed = dom.NewProcessedSet()
	}
	return &Scanner{planner: planner, processed: processed}
}

// Processed 返回扫描器使用的已处理集合
func (s *Scanner) Processed() *dom.ProcessedSet { return s.processed }

// Scan 处理 root 下所有未标记的文本节点。
// 汇率不可用时文本保持原样且不打标记，汇率到达后仍可转换。
func (s *Scanner) Scan(root *html.Node, rate *model.ExchangeRate, format model.DisplayFormat) Result {
	nodes := dom.TextNodes(root, s.processed)
	res := Result{Nodes: len(nodes)}
	if !rate.Valid() {
		return res
	}
	for _, n := range nodes {
		text := n.Data
		reps := s.planner.Plan(text, rate, format)
		if len(reps) == 0 {
			s.processed.Mark(n)
			continue
		}
		parent := n.Parent
		created, err := dom.Apply(n, text, reps, s.processed.Mark)
		if err != nil {
			s.processed.Mark(n)
			continue
		}
		res.Converted += len(reps)
		res.Mutations = append(res.Mutations, page.Mutation{
			Kind:    page.ChildList,
			Target:  parent,
			Added:   created,
			Removed: []*html.Node{n},
		})
	}
	return res
}

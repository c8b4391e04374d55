package dom

import (
	"sync"
	"weak"

	"golang.org/x/net/html"
)

// ProcessedSet 已处理节点集合，按节点身份记录且不持有节点
type ProcessedSet struct {
	mu    sync.Mutex
	nodes map[weak.Pointer[html.Node]]struct{}
	adds  int
}

// pruneEvery 每新增多少个标记清理一次已回收的节点
const pruneEvery = 1024

func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{nodes: make(map[weak.Pointer[html.Node]]struct{})}
}

// Mark 标记节点为已处理
func (s *ProcessedSet) Mark(n *html.Node) {
	if n == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[weak.Make(n)] = struct{}{}
	s.adds++
	if s.adds >= pruneEvery {
		s.adds = 0
		s.pruneLocked()
	}
}

// Has 判断节点是否已处理
func (s *ProcessedSet) Has(n *html.Node) bool {
	if n == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[weak.Make(n)]
	return ok
}

// Invalidate 使单个节点的标记失效
func (s *ProcessedSet) Invalidate(n *html.Node) {
	if n == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, weak.Make(n))
}

// Clear 整体清空
func (s *ProcessedSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.nodes)
	s.adds = 0
}

// Len 返回仍然存活的已标记节点数
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return len(s.nodes)
}

func (s *ProcessedSet) pruneLocked() {
	for p := range s.nodes {
		if p.Value() == nil {
			delete(s.nodes, p)
		}
	}
}

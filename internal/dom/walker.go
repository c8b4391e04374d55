package dom

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// 不包含可见正文的元素
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Textarea: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Svg:      true,
	atom.Math:     true,
	atom.Head:     true,
	atom.Title:    true,
	atom.Select:   true,
	atom.Option:   true,
	atom.Code:     true,
	atom.Kbd:      true,
	atom.Samp:     true,
}

// TextNodes 深度优先收集可扫描的文本节点快照。
// processed 为 nil 时不跳过任何已标记节点。
func TextNodes(root *html.Node, processed *ProcessedSet) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if processed != nil && processed.Has(n) {
				return
			}
			if scannable(n.Data) {
				out = append(out, n)
			}
			return
		case html.ElementNode:
			if skipElement(n) {
				return
			}
		case html.CommentNode, html.DoctypeNode, html.RawNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// Inside 判断节点是否位于不应扫描的子树中
func Inside(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && skipElement(p) {
			return true
		}
	}
	return false
}

func skipElement(n *html.Node) bool {
	if n.Namespace != "" || skipElements[n.DataAtom] {
		return true
	}
	if HasClass(n, ClassConverted) || HasClass(n, ClassIndicator) {
		return true
	}
	if v, ok := Attr(n, "contenteditable"); ok && !strings.EqualFold(v, "false") {
		return true
	}
	return false
}

// scannable 去掉空白文本和不含数字的文本
func scannable(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

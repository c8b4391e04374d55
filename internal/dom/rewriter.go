// Package dom 在 html 节点树上执行金额标注的写入、还原与遍历。
package dom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"goldlens/pkg/model"
)

const (
	ClassConverted = "goldlens-converted"
	ClassIcon      = "goldlens-icon"
	ClassIndicator = "goldlens-indicator"
	StyleID        = "goldlens-style"
)

// IconSrc 标注前的小金块图标
const IconSrc = "data:image/svg+xml,%3Csvg%20xmlns%3D%22http%3A%2F%2Fwww.w3.org%2F2000%2Fsvg%22%20viewBox%3D%220%200%2016%2016%22%3E" +
	"%3Cpath%20d%3D%22M3%2012h10l-2-6H5z%22%20fill%3D%22%23d4af37%22%20stroke%3D%22%23a8841a%22%2F%3E%3C%2Fsvg%3E"

var (
	ErrNotTextNode    = errors.New("dom: node is not an attached text node")
	ErrBadReplacement = errors.New("dom: replacements out of range or overlapping")
	ErrNotAnnotated   = errors.New("dom: element is not an attached annotation")
)

// Apply 将文本节点替换为普通文本段与标注元素交替的兄弟节点序列。
// reps 必须按起点升序且互不重叠；mark 对每个新建节点调用一次。
func Apply(node *html.Node, original string, reps []model.Replacement, mark func(*html.Node)) ([]*html.Node, error) {
	if node == nil || node.Type != html.TextNode || node.Parent == nil {
		return nil, ErrNotTextNode
	}
	if len(reps) == 0 {
		return nil, nil
	}
	prevEnd := 0
	for _, r := range reps {
		if r.Start < prevEnd || r.End <= r.Start || r.End > len(original) {
			return nil, fmt.Errorf("%w: [%d,%d) in %d bytes", ErrBadReplacement, r.Start, r.End, len(original))
		}
		prevEnd = r.End
	}

	// 从末尾向前构造，切片偏移始终基于原始字符串
	parts := make([]*html.Node, 0, 2*len(reps)+1)
	tail := len(original)
	for i := len(reps) - 1; i >= 0; i-- {
		r := reps[i]
		if r.End < tail {
			parts = append(parts, textNode(original[r.End:tail]))
		}
		parts = append(parts, Annotation(r))
		tail = r.Start
	}
	if tail > 0 {
		parts = append(parts, textNode(original[:tail]))
	}

	out := make([]*html.Node, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		out = append(out, parts[i])
	}
	if mark != nil {
		for _, n := range out {
			markTree(n, mark)
		}
	}

	parent := node.Parent
	for _, n := range out {
		parent.InsertBefore(n, node)
	}
	parent.RemoveChild(node)
	return out, nil
}

// Annotation 构造一个标注元素：图标 + 显示文本，title 保存原文
func Annotation(r model.Replacement) *html.Node {
	span := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: ClassConverted},
			{Key: "title", Val: r.OriginalText},
		},
	}
	span.AppendChild(&html.Node{
		Type:     html.ElementNode,
		Data:     "img",
		DataAtom: atom.Img,
		Attr: []html.Attribute{
			{Key: "class", Val: ClassIcon},
			{Key: "alt", Val: ""},
			{Key: "aria-hidden", Val: "true"},
			{Key: "src", Val: IconSrc},
		},
	})
	span.AppendChild(textNode(r.DisplayText))
	return span
}

// Revert 用 title 中的原文替换标注元素，并与相邻文本合并，返回合并后的文本节点
func Revert(el *html.Node) (*html.Node, error) {
	if !IsAnnotation(el) || el.Parent == nil {
		return nil, ErrNotAnnotated
	}
	original, _ := Attr(el, "title")
	parent := el.Parent
	text := textNode(original)
	parent.InsertBefore(text, el)
	parent.RemoveChild(el)
	return mergeText(text), nil
}

// RevertAll 还原 root 下的全部标注元素，返回还原数量
func RevertAll(root *html.Node) int {
	if root == nil {
		return 0
	}
	sel := goquery.NewDocumentFromNode(root).Find("span." + ClassConverted)
	n := 0
	for _, el := range sel.Nodes {
		if _, err := Revert(el); err == nil {
			n++
		}
	}
	return n
}

// CountAnnotations 统计 root 下的标注元素数量
func CountAnnotations(root *html.Node) int {
	if root == nil {
		return 0
	}
	return goquery.NewDocumentFromNode(root).Find("span." + ClassConverted).Length()
}

// IsAnnotation 判断是否为标注元素
func IsAnnotation(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == atom.Span && HasClass(n, ClassConverted)
}

// Attr 读取属性
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// HasClass 判断 class 属性中是否包含指定类名
func HasClass(n *html.Node, class string) bool {
	v, ok := Attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func markTree(n *html.Node, mark func(*html.Node)) {
	mark(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		markTree(c, mark)
	}
}

// mergeText 把 n 与前后相邻的文本兄弟合并为一个新节点
func mergeText(n *html.Node) *html.Node {
	first, last := n, n
	for first.PrevSibling != nil && first.PrevSibling.Type == html.TextNode {
		first = first.PrevSibling
	}
	for last.NextSibling != nil && last.NextSibling.Type == html.TextNode {
		last = last.NextSibling
	}
	if first == last {
		return n
	}

	var b strings.Builder
	for c := first; ; c = c.NextSibling {
		b.WriteString(c.Data)
		if c == last {
			break
		}
	}
	parent := n.Parent
	merged := textNode(b.String())
	parent.InsertBefore(merged, first)
	for c := first; c != nil; {
		next := c.NextSibling
		parent.RemoveChild(c)
		if c == last {
			break
		}
		c = next
	}
	return merged
}

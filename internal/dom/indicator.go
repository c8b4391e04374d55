package dom

import (
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Stylesheet 标注元素与提示条的样式
const Stylesheet = `.goldlens-converted{color:#8a6d0b;border-bottom:1px dotted #c9a227;cursor:help;white-space:nowrap}` +
	`.goldlens-icon{width:.9em;height:.9em;margin-right:.15em;vertical-align:-.1em}` +
	`.goldlens-indicator{position:fixed;right:12px;bottom:12px;z-index:2147483647;padding:6px 10px;` +
	`border-radius:4px;background:#fff8e1;color:#5d4600;font:12px sans-serif;box-shadow:0 1px 4px rgba(0,0,0,.2)}`

// ShowIndicator 在 body 末尾放置降级提示条，已存在时仅更新文本
func ShowIndicator(root *html.Node, text string) *html.Node {
	doc := goquery.NewDocumentFromNode(root)
	if existing := doc.Find("div." + ClassIndicator); existing.Length() > 0 {
		n := existing.Nodes[0]
		for c := n.FirstChild; c != nil; c = n.FirstChild {
			n.RemoveChild(c)
		}
		n.AppendChild(textNode(text))
		return n
	}

	parent := root
	if body := doc.Find("body"); body.Length() > 0 {
		parent = body.Nodes[0]
	}
	div := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr: []html.Attribute{
			{Key: "class", Val: ClassIndicator},
			{Key: "role", Val: "status"},
		},
	}
	div.AppendChild(textNode(text))
	parent.AppendChild(div)
	return div
}

// RemoveIndicator 移除提示条
func RemoveIndicator(root *html.Node) bool {
	sel := goquery.NewDocumentFromNode(root).Find("div." + ClassIndicator)
	for _, n := range sel.Nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	return sel.Length() > 0
}

// InjectStyle 向 head 注入一次样式表
func InjectStyle(root *html.Node) bool {
	doc := goquery.NewDocumentFromNode(root)
	if doc.Find("style#"+StyleID).Length() > 0 {
		return false
	}
	parent := root
	if head := doc.Find("head"); head.Length() > 0 {
		parent = head.Nodes[0]
	}
	style := &html.Node{
		Type:     html.ElementNode,
		Data:     "style",
		DataAtom: atom.Style,
		Attr:     []html.Attribute{{Key: "id", Val: StyleID}},
	}
	style.AppendChild(textNode(Stylesheet))
	parent.AppendChild(style)
	return true
}

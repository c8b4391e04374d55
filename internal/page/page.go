// Package page 持有一个可变的 html 文档，并像 MutationObserver 一样向观察者报告变更。
package page

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// MutationKind 变更记录类型
type MutationKind int

const (
	ChildList MutationKind = iota + 1
	CharacterData
	Navigation
)

func (k MutationKind) String() string {
	switch k {
	case ChildList:
		return "childList"
	case CharacterData:
		return "characterData"
	case Navigation:
		return "navigation"
	default:
		return "unknown"
	}
}

// Mutation 一条变更记录
type Mutation struct {
	Kind    MutationKind
	Target  *html.Node
	Added   []*html.Node
	Removed []*html.Node
	URL     string
}

// Observer 变更回调，不得阻塞
type Observer func([]Mutation)

var ErrNoMatch = errors.New("page: selector matched nothing")

// Page 单个页面的文档树，所有写入都经过 Update 串行化
type Page struct {
	mu   sync.Mutex
	url  string
	root *html.Node

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// New 基于已解析的文档创建页面
func New(url string, root *html.Node) *Page {
	if root == nil {
		root = &html.Node{Type: html.DocumentNode}
	}
	return &Page{url: url, root: root, observers: make(map[int]Observer)}
}

// Parse 从 HTML 流创建页面
func Parse(url string, r io.Reader) (*Page, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return New(url, root), nil
}

// ParseString 从字符串创建页面
func ParseString(url, s string) (*Page, error) {
	return Parse(url, strings.NewReader(s))
}

// URL 返回当前地址
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Observe 注册观察者，返回取消函数
func (p *Page) Observe(fn Observer) (cancel func()) {
	p.obsMu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	p.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.obsMu.Lock()
			delete(p.observers, id)
			p.obsMu.Unlock()
		})
	}
}

// Update 在锁内修改文档，解锁后把返回的变更记录交给观察者
func (p *Page) Update(fn func(root *html.Node) []Mutation) {
	p.mu.Lock()
	records := fn(p.root)
	p.mu.Unlock()
	p.notify(records)
}

// View 只读访问文档
func (p *Page) View(fn func(root *html.Node)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.root)
}

// Navigate 修改地址（同文档导航）
func (p *Page) Navigate(url string) {
	p.mu.Lock()
	if p.url == url {
		p.mu.Unlock()
		return
	}
	p.url = url
	p.mu.Unlock()
	p.notify([]Mutation{{Kind: Navigation, URL: url}})
}

// AppendHTML 把片段追加到第一个匹配 selector 的元素
func (p *Page) AppendHTML(selector, fragment string) error {
	var err error
	p.Update(func(root *html.Node) []Mutation {
		target := goquery.NewDocumentFromNode(root).Find(selector).First()
		if target.Length() == 0 {
			err = fmt.Errorf("%w: %s", ErrNoMatch, selector)
			return nil
		}
		parent := target.Nodes[0]
		nodes, perr := html.ParseFragment(strings.NewReader(fragment), parent)
		if perr != nil {
			err = fmt.Errorf("parse fragment: %w", perr)
			return nil
		}
		for _, n := range nodes {
			parent.AppendChild(n)
		}
		return []Mutation{{Kind: ChildList, Target: parent, Added: nodes}}
	})
	return err
}

// Remove 删除所有匹配 selector 的元素，返回删除数量
func (p *Page) Remove(selector string) int {
	count := 0
	p.Update(func(root *html.Node) []Mutation {
		var records []Mutation
		for _, n := range goquery.NewDocumentFromNode(root).Find(selector).Nodes {
			parent := n.Parent
			if parent == nil {
				continue
			}
			parent.RemoveChild(n)
			records = append(records, Mutation{Kind: ChildList, Target: parent, Removed: []*html.Node{n}})
			count++
		}
		return records
	})
	return count
}

// SetText 就地修改文本节点内容
func (p *Page) SetText(node *html.Node, text string) {
	p.Update(func(*html.Node) []Mutation {
		if node == nil || node.Type != html.TextNode || node.Data == text {
			return nil
		}
		node.Data = text
		return []Mutation{{Kind: CharacterData, Target: node}}
	})
}

// Find 返回匹配 selector 的节点快照
func (p *Page) Find(selector string) []*html.Node {
	var out []*html.Node
	p.View(func(root *html.Node) {
		out = append(out, goquery.NewDocumentFromNode(root).Find(selector).Nodes...)
	})
	return out
}

// Text 返回 body 的可见文本
func (p *Page) Text() string {
	var s string
	p.View(func(root *html.Node) {
		doc := goquery.NewDocumentFromNode(root)
		if body := doc.Find("body"); body.Length() > 0 {
			s = body.Text()
			return
		}
		s = doc.Text()
	})
	return s
}

// Render 序列化文档
func (p *Page) Render(w io.Writer) error {
	var err error
	p.View(func(root *html.Node) {
		err = html.Render(w, root)
	})
	return err
}

// HTML 返回序列化后的文档
func (p *Page) HTML() string {
	var buf bytes.Buffer
	if err := p.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

func (p *Page) notify(records []Mutation) {
	if len(records) == 0 {
		return
	}
	p.obsMu.Lock()
	observers := make([]Observer, 0, len(p.observers))
	for _, fn := range p.observers {
		observers = append(observers, fn)
	}
	p.obsMu.Unlock()

	for _, fn := range observers {
		fn(records)
	}
}

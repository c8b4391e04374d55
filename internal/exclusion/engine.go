// Package exclusion 判断页面地址是否命中系统或用户定义的排除规则。
package exclusion

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// Tier 规则层级
type Tier int

const (
	TierSystem Tier = iota + 1
	TierUser
)

func (t Tier) String() string {
	if t == TierSystem {
		return "system"
	}
	return "user"
}

const regexPrefix = "regex:"

var ErrInvalidPattern = errors.New("exclusion: invalid pattern")

// 系统层规则，始终生效且不可编辑
var systemPatterns = []string{
	"chrome.google.com/webstore",
	"chromewebstore.google.com",
	"addons.mozilla.org",
	"docs.google.com",
	"sheets.google.com",
	regexPrefix + `^(?:chrome|chrome-extension|moz-extension|edge|about|view-source):`,
}

var hostRe = regexp.MustCompile(`^(?:\*|(?:\*\.)?[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*)$`)

// Rule 编译后的单条规则
type Rule struct {
	Pattern string
	Tier    Tier

	re     *regexp.Regexp
	scheme string
	host   string
	port   string
	path   string
	pathRe *regexp.Regexp
}

// Compile 编译一条规则：[scheme://]host[:port][/path] 或 regex:<expr>
func Compile(pattern string, tier Tier) (*Rule, error) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	r := &Rule{Pattern: p, Tier: tier}

	if expr, ok := strings.CutPrefix(p, regexPrefix); ok {
		re, err := regexCache.Get(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, err)
		}
		r.re = re
		return r, nil
	}

	rest := p
	if scheme, after, ok := strings.Cut(rest, "://"); ok {
		r.scheme = strings.ToLower(scheme)
		rest = after
	}
	hostPort, path, hasPath := strings.Cut(rest, "/")
	if hasPath {
		r.path = "/" + path
	}
	host, port, hasPort := strings.Cut(hostPort, ":")
	if hasPort {
		if port == "" || strings.Trim(port, "0123456789") != "" {
			return nil, fmt.Errorf("%w: %q: bad port", ErrInvalidPattern, p)
		}
		r.port = port
	}
	r.host = strings.ToLower(host)
	if !hostRe.MatchString(r.host) {
		return nil, fmt.Errorf("%w: %q: bad host", ErrInvalidPattern, p)
	}
	if strings.Contains(r.path, "*") {
		re, err := regexCache.Get(globToRegex(r.path))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, err)
		}
		r.pathRe = re
	}
	return r, nil
}

// Validate 检查规则语法
func Validate(pattern string) error {
	_, err := Compile(pattern, TierUser)
	return err
}

// Match 判断地址是否命中规则
func (r *Rule) Match(raw string, u *url.URL) bool {
	if r.re != nil {
		return r.re.MatchString(raw)
	}
	if u == nil {
		return false
	}
	if r.scheme != "" && !strings.EqualFold(u.Scheme, r.scheme) {
		return false
	}
	if r.port != "" && u.Port() != r.port {
		return false
	}
	if !matchHost(strings.ToLower(u.Hostname()), r.host) {
		return false
	}
	if r.path == "" {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if r.pathRe != nil {
		return r.pathRe.MatchString(path)
	}
	return strings.HasPrefix(path, r.path)
}

func matchHost(h, pattern string) bool {
	if pattern == "*" {
		return h != ""
	}
	base := strings.TrimPrefix(pattern, "*.")
	return h == base || strings.HasSuffix(h, "."+base)
}

// globToRegex 路径前缀中的 * 匹配任意字符
func globToRegex(glob string) string {
	parts := strings.Split(glob, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	return "^" + strings.Join(parts, ".*")
}

// Result 命中结果
type Result struct {
	Tier    Tier
	Pattern string
}

// Engine 两层规则的求值器
type Engine struct {
	mu     sync.RWMutex
	system []*Rule
	user   []*Rule
}

var systemRules = mustCompileAll(systemPatterns, TierSystem)

// System 返回系统层规则
func System() []*Rule {
	out := make([]*Rule, len(systemRules))
	copy(out, systemRules)
	return out
}

// New 创建求值器，无效的用户规则被跳过并通过 errs 返回
func New(user []string) (*Engine, []error) {
	e := &Engine{system: systemRules}
	errs := e.Update(user)
	return e, errs
}

// Update 替换用户层规则
func (e *Engine) Update(user []string) []error {
	rules := make([]*Rule, 0, len(user))
	var errs []error
	for _, p := range user {
		r, err := Compile(p, TierUser)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	e.mu.Lock()
	e.user = rules
	e.mu.Unlock()
	return errs
}

// Patterns 返回当前生效的用户规则文本
func (e *Engine) Patterns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.user))
	for _, r := range e.user {
		out = append(out, r.Pattern)
	}
	return out
}

// Eval 先查系统层再查用户层；未命中返回 nil
func (e *Engine) Eval(raw string) *Result {
	u, err := url.Parse(raw)
	if err != nil {
		u = nil
	}
	if r := first(e.system, raw, u); r != nil {
		return &Result{Tier: TierSystem, Pattern: r.Pattern}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r := first(e.user, raw, u); r != nil {
		return &Result{Tier: TierUser, Pattern: r.Pattern}
	}
	return nil
}

// SystemExcluded 仅查系统层
func (e *Engine) SystemExcluded(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		u = nil
	}
	return first(e.system, raw, u) != nil
}

func first(rules []*Rule, raw string, u *url.URL) *Rule {
	for _, r := range rules {
		if r.Match(raw, u) {
			return r
		}
	}
	return nil
}

func mustCompileAll(patterns []string, tier Tier) []*Rule {
	out := make([]*Rule, 0, len(patterns))
	for _, p := range patterns {
		r, err := Compile(p, tier)
		if err != nil {
			panic(err)
		}
		out = append(out, r)
	}
	return out
}

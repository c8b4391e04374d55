package scan

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"golang.org/x/net/html"

	"goldlens/internal/config"
	"goldlens/internal/dom"
	"goldlens/internal/exclusion"
	"goldlens/internal/logger"
	"goldlens/internal/page"
	"goldlens/pkg/model"
)

// State 页面控制器状态
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateScanning
	StateIdle
	StateDisabled
	StateExcluded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateScanning:
		return "scanning"
	case StateIdle:
		return "idle"
	case StateDisabled:
		return "disabled"
	case StateExcluded:
		return "excluded"
	default:
		return "unknown"
	}
}

// 控制器对外事件类型
const (
	EventState    = "state"
	EventScanned  = "scanned"
	EventReverted = "reverted"
	EventRate     = "rate"
	EventDegraded = "degraded"
)

// IndicatorText 金价不可用时的提示文本
const IndicatorText = "Gold price unavailable. Amounts are shown unconverted."

// RateProvider 汇率服务
type RateProvider interface {
	GetCurrentRate(ctx context.Context) (*model.ExchangeRate, error)
}

// SettingsProvider 设置存储
type SettingsProvider interface {
	Load(ctx context.Context) (model.Settings, error)
}

// Options 控制器参数
type Options struct {
	Debounce       time.Duration
	IndicatorTTL   time.Duration
	RequestTimeout time.Duration
	Planner        *Planner
	Logger         logger.Logger
}

// OptionsFromConfig 由扫描配置生成参数
func OptionsFromConfig(cfg config.ScanConfig, l logger.Logger) Options {
	return Options{
		Debounce:       time.Duration(cfg.DebounceMS) * time.Millisecond,
		IndicatorTTL:   time.Duration(cfg.IndicatorTTLMS) * time.Millisecond,
		RequestTimeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
		Logger:         l,
	}
}

type (
	msgRate struct {
		seq  uint64
		rate *model.ExchangeRate
		err  error
	}
	msgSettings struct {
		seq      uint64
		settings model.Settings
		err      error
	}
	msgNotify struct {
		n model.Notification
	}
	msgNavigate struct {
		url string
	}
	msgScan struct {
		reason string
	}
	msgIndicatorExpired struct {
		gen uint64
	}
)

// Controller 单个页面生命周期内的扫描控制器。
// 除 Notify 与页面观察回调外，所有状态只在 Run 的循环内读写。
type Controller struct {
	id        model.SessionID
	page      *page.Page
	rates     RateProvider
	settings  SettingsProvider
	opts      Options
	log       logger.Logger
	processed *dom.ProcessedSet
	scanner   *Scanner
	rules     *exclusion.Engine
	debounced func(func())

	ctx    context.Context
	inbox  chan any
	events chan model.Event
	done   chan struct{}

	state atomic.Int32

	rate         *model.ExchangeRate
	enabled      bool
	format       model.DisplayFormat
	rateSeq      uint64
	rateInFlight bool
	rateArrived  bool

	settingsSeq      uint64
	settingsInFlight bool
	settingsArrived  bool
	settingsStale    bool
	touchedEnabled   bool
	touchedRules     bool
	touchedFormat    bool

	indicatorShown bool
	indicatorGen   uint64
	indicatorTimer *time.Timer
}

// NewController 创建控制器，需调用 Run 启动
func NewController(id model.SessionID, p *page.Page, rates RateProvider, settings SettingsProvider, opts Options) *Controller {
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	if opts.IndicatorTTL <= 0 {
		opts.IndicatorTTL = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 3 * time.Second
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	processed := dom.NewProcessedSet()
	rules, _ := exclusion.New(nil)
	c := &Controller{
		id:        id,
		page:      p,
		rates:     rates,
		settings:  settings,
		opts:      opts,
		log:       l.With("session", string(id)),
		processed: processed,
		scanner:   NewScanner(opts.Planner, processed),
		rules:     rules,
		debounced: debounce.New(opts.Debounce),
		ctx:       context.Background(),
		inbox:     make(chan any, 64),
		events:    make(chan model.Event, 128),
		done:      make(chan struct{}),
		enabled:   true,
		format:    model.DisplayMetric,
	}
	c.state.Store(int32(StateUninitialized))
	return c
}

// ID 返回会话 ID
func (c *Controller) ID() model.SessionID { return c.id }

// Page 返回控制器管理的页面
func (c *Controller) Page() *page.Page { return c.page }

// State 返回当前状态
func (c *Controller) State() State { return State(c.state.Load()) }

// Events 返回事件通道，满时丢弃
func (c *Controller) Events() <-chan model.Event { return c.events }

// Done 在 Run 退出后关闭
func (c *Controller) Done() <-chan struct{} { return c.done }

// Notify 投递外部通知
func (c *Controller) Notify(n model.Notification) { c.post(msgNotify{n: n}) }

// Rescan 请求一次立即扫描
func (c *Controller) Rescan() { c.post(msgScan{reason: "manual"}) }

// Run 运行事件循环直到 ctx 结束
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	cancelObserve := c.page.Observe(c.observe)
	defer cancelObserve()
	defer close(c.done)
	defer c.stopIndicatorTimer()

	c.log.Debug("页面控制器启动", "url", c.page.URL())
	c.requestSettings()
	c.requestRate()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug("页面控制器退出")
			return nil
		case m := <-c.inbox:
			c.handle(m)
		}
	}
}

func (c *Controller) post(m any) {
	select {
	case c.inbox <- m:
	case <-c.done:
	}
}

func (c *Controller) handle(m any) {
	switch m := m.(type) {
	case msgRate:
		c.onRate(m)
	case msgSettings:
		c.onSettings(m)
	case msgNotify:
		c.onNotify(m.n)
	case msgNavigate:
		c.log.Debug("页面导航", "url", m.url)
		c.reconcile("navigation")
	case msgScan:
		c.scan(m.reason)
	case msgIndicatorExpired:
		c.onIndicatorExpired(m.gen)
	}
}

// observe 页面变更回调，运行在写入方的 goroutine 中
func (c *Controller) observe(records []page.Mutation) {
	relevant := false
	for _, m := range records {
		switch m.Kind {
		case page.Navigation:
			c.post(msgNavigate{url: m.URL})
		case page.CharacterData:
			c.processed.Invalidate(m.Target)
			relevant = true
		case page.ChildList:
			for _, n := range m.Added {
				if !c.processed.Has(n) {
					relevant = true
					break
				}
			}
		}
	}
	if relevant {
		c.debounced(func() { c.post(msgScan{reason: "mutation"}) })
	}
}

func (c *Controller) requestRate() {
	c.rateSeq++
	seq := c.rateSeq
	c.rateInFlight = true
	ctx := c.ctx
	go func() {
		rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
		r, err := c.rates.GetCurrentRate(rctx)
		c.post(msgRate{seq: seq, rate: r, err: err})
	}()
}

func (c *Controller) requestSettings() {
	c.settingsSeq++
	seq := c.settingsSeq
	c.settingsInFlight = true
	c.touchedEnabled, c.touchedRules, c.touchedFormat = false, false, false
	ctx := c.ctx
	go func() {
		sctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
		s, err := c.settings.Load(sctx)
		c.post(msgSettings{seq: seq, settings: s, err: err})
	}()
}

func (c *Controller) onRate(m msgRate) {
	if m.seq != c.rateSeq {
		c.log.Debug("丢弃过期的汇率响应", "seq", m.seq, "latest", c.rateSeq)
		return
	}
	c.rateInFlight = false
	first := !c.rateArrived
	c.rateArrived = true
	if m.err != nil || !m.rate.Valid() {
		if m.err != nil {
			c.log.Warn("获取金价失败", "error", m.err.Error())
		}
		if first {
			c.maybeReady()
		}
		return
	}
	c.applyRate(m.rate)
	if first {
		c.maybeReady()
	}
}

func (c *Controller) onSettings(m msgSettings) {
	if m.seq != c.settingsSeq {
		return
	}
	c.settingsInFlight = false
	s := m.settings
	if m.err != nil {
		c.settingsStale = true
		if c.settingsArrived {
			c.log.Warn("读取设置失败，保留当前设置", "error", m.err.Error())
			return
		}
		c.log.Warn("读取设置失败，使用默认设置", "error", m.err.Error())
		s = model.DefaultSettings()
	} else {
		c.settingsStale = false
	}

	formatChanged := false
	if !c.touchedEnabled {
		c.enabled = s.State.Enabled
	}
	if !c.touchedRules {
		if errs := c.rules.Update(s.ExcludedURLs); len(errs) > 0 {
			for _, err := range errs {
				c.log.Warn("忽略无效的排除规则", "error", err.Error())
			}
		}
	}
	if !c.touchedFormat {
		f := model.ParseDisplayFormat(string(s.State.DisplayFormat))
		formatChanged = f != c.format
		c.format = f
	}

	if !c.settingsArrived {
		c.settingsArrived = true
		c.maybeReady()
		return
	}
	if formatChanged {
		c.revertAll("display-format")
	}
	c.reconcile("settings")
}

func (c *Controller) maybeReady() {
	if !c.settingsArrived || !c.rateArrived || c.State() != StateUninitialized {
		return
	}
	c.setState(StateReady)
	c.reconcile("init")
}

func (c *Controller) onNotify(n model.Notification) {
	switch n.Type {
	case model.NotifyRateUpdated:
		if !n.Rate.Valid() {
			return
		}
		if c.rate != nil && n.Rate.ObservedAt.Before(c.rate.ObservedAt) {
			return
		}
		c.applyRate(n.Rate)
	case model.NotifyToggleConversion:
		c.touchedEnabled = true
		if c.enabled == n.Enabled {
			return
		}
		c.enabled = n.Enabled
		c.log.Info("切换转换开关", "enabled", n.Enabled)
		c.reconcile("toggle")
	case model.NotifyExclusionsUpdated:
		c.touchedRules = true
		for _, err := range c.rules.Update(n.Rules) {
			c.log.Warn("忽略无效的排除规则", "error", err.Error())
		}
		c.revertAll("exclusions")
		c.reconcile("exclusions")
	case model.NotifyDisplayFormatUpdated:
		c.touchedFormat = true
		f := model.ParseDisplayFormat(string(n.Format))
		if f == c.format {
			return
		}
		c.format = f
		c.revertAll("display-format")
		c.reconcile("display-format")
	default:
		c.log.Debug("忽略未知通知", "type", string(n.Type))
	}
}

// applyRate 汇率数值变化时撤销旧结果后重扫
func (c *Controller) applyRate(r *model.ExchangeRate) {
	prev := c.rate
	if prev.Equal(r) {
		return
	}
	c.rate = r
	c.emit(model.Event{Type: EventRate, Result: r.RatePerUnit.String() + " " + r.Source})
	c.clearIndicator()
	if c.State() == StateUninitialized {
		return
	}
	if prev != nil && !prev.RatePerUnit.Equal(r.RatePerUnit) {
		c.revertAll("rate")
	}
	c.reconcile("rate")
}

// gate 系统排除优先于开关，开关优先于用户排除
func (c *Controller) gate() (State, *exclusion.Result) {
	url := c.page.URL()
	if c.rules.SystemExcluded(url) {
		return StateExcluded, c.rules.Eval(url)
	}
	if !c.enabled {
		return StateDisabled, nil
	}
	if res := c.rules.Eval(url); res != nil {
		return StateExcluded, res
	}
	return StateReady, nil
}

func (c *Controller) reconcile(reason string) {
	if c.State() == StateUninitialized {
		return
	}
	next, res := c.gate()
	if next == StateDisabled || next == StateExcluded {
		c.revertAll(reason)
		c.clearIndicator()
		if res != nil && c.State() != next {
			c.log.Info("页面命中排除规则", "url", c.page.URL(), "tier", res.Tier.String(), "pattern", res.Pattern)
		}
		c.setState(next)
		return
	}
	if s := c.State(); s == StateDisabled || s == StateExcluded {
		c.setState(StateReady)
	}
	c.scan(reason)
}

func (c *Controller) scan(reason string) {
	switch c.State() {
	case StateUninitialized, StateDisabled, StateExcluded:
		return
	}
	if c.settingsStale && !c.settingsInFlight {
		c.requestSettings()
	}
	if !c.rate.Valid() && !c.rateInFlight {
		c.requestRate()
	}

	c.setState(StateScanning)
	var res Result
	rate, format := c.rate, c.format
	c.page.Update(func(root *html.Node) []page.Mutation {
		dom.InjectStyle(root)
		res = c.scanner.Scan(root, rate, format)
		return res.Mutations
	})
	c.log.Debug("扫描完成", "reason", reason, "nodes", res.Nodes, "converted", res.Converted)
	c.emit(model.Event{Type: EventScanned, Result: reason, Converted: res.Converted})
	if !rate.Valid() && res.Nodes > 0 {
		c.showIndicator()
	}
	c.setState(StateIdle)
}

func (c *Controller) revertAll(reason string) {
	n := 0
	c.page.Update(func(root *html.Node) []page.Mutation {
		n = dom.RevertAll(root)
		if n == 0 {
			return nil
		}
		return []page.Mutation{{Kind: page.ChildList, Target: root}}
	})
	c.processed.Clear()
	if n > 0 {
		c.log.Debug("还原全部标注", "reason", reason, "count", n)
		c.emit(model.Event{Type: EventReverted, Result: reason, Reverted: n})
	}
}

func (c *Controller) showIndicator() {
	if c.indicatorShown {
		return
	}
	c.indicatorShown = true
	c.page.Update(func(root *html.Node) []page.Mutation {
		div := dom.ShowIndicator(root, IndicatorText)
		c.processed.Mark(div)
		for ch := div.FirstChild; ch != nil; ch = ch.NextSibling {
			c.processed.Mark(ch)
		}
		return []page.Mutation{{Kind: page.ChildList, Target: div.Parent, Added: []*html.Node{div}}}
	})
	c.indicatorGen++
	gen := c.indicatorGen
	c.stopIndicatorTimer()
	c.indicatorTimer = time.AfterFunc(c.opts.IndicatorTTL, func() { c.post(msgIndicatorExpired{gen: gen}) })
	c.emit(model.Event{Type: EventDegraded, Error: "rate unavailable"})
}

func (c *Controller) onIndicatorExpired(gen uint64) {
	if gen != c.indicatorGen {
		return
	}
	c.page.Update(func(root *html.Node) []page.Mutation {
		dom.RemoveIndicator(root)
		return nil
	})
	if !c.rate.Valid() && !c.rateInFlight {
		c.requestRate()
	}
}

// clearIndicator 汇率恢复或页面停用时立即移除提示
func (c *Controller) clearIndicator() {
	if !c.indicatorShown {
		return
	}
	c.indicatorShown = false
	c.indicatorGen++
	c.stopIndicatorTimer()
	c.page.Update(func(root *html.Node) []page.Mutation {
		dom.RemoveIndicator(root)
		return nil
	})
}

func (c *Controller) stopIndicatorTimer() {
	if c.indicatorTimer != nil {
		c.indicatorTimer.Stop()
		c.indicatorTimer = nil
	}
}

func (c *Controller) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.emit(model.Event{Type: EventState, State: s.String()})
}

func (c *Controller) emit(e model.Event) {
	e.Session = c.id
	e.URL = c.page.URL()
	e.Timestamp = time.Now().UnixMilli()
	select {
	case c.events <- e:
	default:
	}
}

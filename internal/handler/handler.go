// Package handler 对单个 HTML 文档响应执行一次完整的金额标注。
package handler

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"goldlens/internal/dom"
	"goldlens/internal/exclusion"
	"goldlens/internal/logger"
	"goldlens/internal/scan"
	"goldlens/pkg/model"
	"goldlens/pkg/traffic"
)

// Result 处理结果
type Result string

const (
	ResultModified Result = "modified"
	ResultPassed   Result = "passed"
	ResultExcluded Result = "excluded"
	ResultDisabled Result = "disabled"
	ResultDegraded Result = "degraded"
)

// Outcome 处理结果与统计
type Outcome struct {
	Result    Result
	Converted int
	Rule      string
	Duration  time.Duration
}

// Handler 文档处理器，负责门控、扫描与改写
type Handler struct {
	rates    scan.RateProvider
	settings scan.SettingsProvider
	planner  *scan.Planner
	log      logger.Logger
}

// Config 配置选项
type Config struct {
	Rates    scan.RateProvider
	Settings scan.SettingsProvider
	Planner  *scan.Planner
	Logger   logger.Logger
}

// New 创建文档处理器
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	p := cfg.Planner
	if p == nil {
		p = scan.NewPlanner(nil)
	}
	return &Handler{rates: cfg.Rates, settings: cfg.Settings, planner: p, log: l}
}

// HandleDocument 处理文档响应；除 modified 外均原样返回 res
func (h *Handler) HandleDocument(ctx context.Context, req *traffic.Request, res *traffic.Response) (*traffic.Response, Outcome) {
	start := time.Now()
	out, o := h.handle(ctx, req, res)
	o.Duration = time.Since(start)
	h.log.Debug("文档处理完成", "url", req.URL, "result", string(o.Result), "converted", o.Converted, "duration", o.Duration)
	return out, o
}

func (h *Handler) handle(ctx context.Context, req *traffic.Request, res *traffic.Response) (*traffic.Response, Outcome) {
	if res == nil || res.StatusCode != http.StatusOK || !res.IsHTML() || len(res.Body) == 0 {
		return res, Outcome{Result: ResultPassed}
	}

	settings := model.DefaultSettings()
	if h.settings != nil {
		s, err := h.settings.Load(ctx)
		if err != nil {
			h.log.Warn("读取设置失败，使用默认设置", "error", err.Error())
		} else {
			settings = s
		}
	}

	// 系统排除优先于开关
	rules, errs := exclusion.New(settings.ExcludedURLs)
	for _, err := range errs {
		h.log.Warn("忽略无效的排除规则", "error", err.Error())
	}
	if rules.SystemExcluded(req.URL) {
		return res, Outcome{Result: ResultExcluded, Rule: rules.Eval(req.URL).Pattern}
	}
	if !settings.State.Enabled {
		return res, Outcome{Result: ResultDisabled}
	}
	if r := rules.Eval(req.URL); r != nil {
		return res, Outcome{Result: ResultExcluded, Rule: r.Pattern}
	}

	var rate *model.ExchangeRate
	if h.rates != nil {
		r, err := h.rates.GetCurrentRate(ctx)
		if err != nil {
			h.log.Warn("金价不可用，文档原样放行", "url", req.URL, "error", err.Error())
		}
		rate = r
	}
	if !rate.Valid() {
		return res, Outcome{Result: ResultDegraded}
	}

	body, err := charset.NewReader(bytes.NewReader(res.Body), res.Headers.Get("content-type"))
	if err != nil {
		h.log.Warn("无法识别文档编码", "url", req.URL, "error", err.Error())
		return res, Outcome{Result: ResultPassed}
	}
	root, err := html.Parse(body)
	if err != nil {
		h.log.Warn("解析文档失败", "url", req.URL, "error", err.Error())
		return res, Outcome{Result: ResultPassed}
	}

	sr := scan.NewScanner(h.planner, nil).Scan(root, rate, settings.State.DisplayFormat)
	if sr.Converted == 0 {
		return res, Outcome{Result: ResultPassed}
	}
	dom.InjectStyle(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		h.log.Err(err, "序列化文档失败", "url", req.URL)
		return res, Outcome{Result: ResultPassed}
	}

	out := &traffic.Response{
		StatusCode: res.StatusCode,
		Headers:    res.Headers.Clone(),
		Body:       buf.Bytes(),
	}
	out.Headers.Set("content-type", "text/html; charset=utf-8")
	out.Headers.Del("content-length")
	out.Headers.Del("content-encoding")
	return out, Outcome{Result: ResultModified, Converted: sr.Converted}
}

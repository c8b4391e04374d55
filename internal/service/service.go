// Package service 组装金价、设置、页面会话与浏览器拦截，对外提供统一入口。
package service

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"goldlens/internal/bus"
	"goldlens/internal/cdp"
	"goldlens/internal/config"
	"goldlens/internal/handler"
	"goldlens/internal/logger"
	"goldlens/internal/rate"
	"goldlens/internal/scan"
	"goldlens/internal/session"
	"goldlens/internal/settings"
	"goldlens/internal/storage"
	"goldlens/pkg/model"
	"goldlens/pkg/traffic"
)

// Service 进程级服务
type Service struct {
	cfg *config.Config
	log logger.Logger
	db  *gorm.DB

	bus      *bus.Bus
	rates    *rate.Service
	history  *rate.GormStore
	settings *settings.Store
	handler  *handler.Handler
	sessions *session.Manager
	cdp      *cdp.Manager
	events   chan model.Event

	runOnce sync.Once
	cancel  context.CancelFunc
}

// New 按配置创建服务并打开数据库
func New(cfg *config.Config, l logger.Logger) (*Service, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if l == nil {
		l = logger.NewNop()
	}

	db, err := storage.Open(cfg.Sqlite, l)
	if err != nil {
		return nil, err
	}
	b := bus.New()

	history, err := rate.NewGormStore(db)
	if err != nil {
		_ = storage.Close(db)
		return nil, err
	}
	rates := rate.NewService(cfg.Rate, rate.NewHTTPFetcher(cfg.Rate, nil, l.With("module", "rate")), history, b, l.With("module", "rate"))

	st, err := settings.NewStore(db, b, l.With("module", "settings"))
	if err != nil {
		_ = storage.Close(db)
		return nil, err
	}

	planner := scan.NewPlanner(nil)
	h := handler.New(handler.Config{Rates: rates, Settings: st, Planner: planner, Logger: l.With("module", "handler")})
	events := make(chan model.Event, 256)

	opts := scan.OptionsFromConfig(cfg.Scan, l.With("module", "scan"))
	opts.Planner = planner

	s := &Service{
		cfg:      cfg,
		log:      l,
		db:       db,
		bus:      b,
		rates:    rates,
		history:  history,
		settings: st,
		handler:  h,
		events:   events,
		sessions: session.NewManager(session.Config{
			Rates:    rates,
			Settings: st,
			Notifier: b,
			Options:  opts,
			Events:   events,
			Logger:   l.With("module", "session"),
		}),
		cdp: cdp.New(h, events, cdp.Options{
			DevToolsURL:      cfg.DevTools.URL,
			ProcessTimeoutMS: cfg.DevTools.ProcessTimeoutMS,
			Workers:          cfg.DevTools.Workers,
			Logger:           l.With("module", "cdp"),
		}),
	}
	return s, nil
}

// Start 启动后台金价刷新，重复调用无效
func (s *Service) Start(ctx context.Context) {
	s.runOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.rates.Run(ctx)
		s.log.Info("服务已启动", "version", s.cfg.Version)
	})
}

// Close 停止会话、断开浏览器并关闭数据库
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.sessions.CloseAll()
	if err := s.cdp.Close(); err != nil {
		s.log.Warn("关闭浏览器连接失败", "error", err.Error())
	}
	return storage.Close(s.db)
}

// Events 返回运行事件通道
func (s *Service) Events() <-chan model.Event { return s.events }

// Annotate 对一份 HTML 文档执行一次标注并写出结果
func (s *Service) Annotate(ctx context.Context, url string, r io.Reader, w io.Writer) (handler.Outcome, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return handler.Outcome{}, errors.Wrap(err, "read document")
	}
	req := traffic.NewRequest()
	req.URL = url
	req.Method = "GET"
	req.ResourceType = "Document"
	res := traffic.NewResponse()
	res.Headers.Set("content-type", "text/html")
	res.Body = body

	out, o := s.handler.HandleDocument(ctx, req, res)
	if _, err := io.Copy(w, bytes.NewReader(out.Body)); err != nil {
		return o, errors.Wrap(err, "write document")
	}
	return o, nil
}

// OpenPage 打开一个长期运行的页面会话
func (s *Service) OpenPage(ctx context.Context, url string, r io.Reader) (model.SessionID, error) {
	sess, err := s.sessions.Open(ctx, url, r)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// PageHTML 返回会话页面的当前 HTML
func (s *Service) PageHTML(id model.SessionID) (string, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return "", errors.Wrapf(session.ErrSessionNotFound, "%s", id)
	}
	return sess.Page.HTML(), nil
}

// NavigatePage 修改会话页面的 URL，控制器据此重新判定排除规则
func (s *Service) NavigatePage(id model.SessionID, url string) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return errors.Wrapf(session.ErrSessionNotFound, "%s", id)
	}
	sess.Page.Navigate(url)
	return nil
}

// ClosePage 关闭页面会话
func (s *Service) ClosePage(id model.SessionID) error { return s.sessions.Close(id) }

// CurrentRate 返回当前可用金价
func (s *Service) CurrentRate(ctx context.Context) (*model.ExchangeRate, error) {
	return s.rates.GetCurrentRate(ctx)
}

// RefreshRate 强制刷新金价
func (s *Service) RefreshRate(ctx context.Context) (*model.ExchangeRate, error) {
	return s.rates.RefreshRate(ctx)
}

// RateHistory 返回最近的金价快照
func (s *Service) RateHistory(ctx context.Context, limit int) ([]model.ExchangeRate, error) {
	return s.history.History(ctx, limit)
}

// Settings 读取当前设置
func (s *Service) Settings(ctx context.Context) (model.Settings, error) { return s.settings.Load(ctx) }

// SetEnabled 开关转换
func (s *Service) SetEnabled(ctx context.Context, enabled bool) error {
	return s.settings.SetEnabled(ctx, enabled)
}

// SetDisplayFormat 修改显示格式
func (s *Service) SetDisplayFormat(ctx context.Context, f model.DisplayFormat) error {
	return s.settings.SetDisplayFormat(ctx, f)
}

// SetExclusions 整体替换排除列表
func (s *Service) SetExclusions(ctx context.Context, rules []string) ([]string, error) {
	return s.settings.SetExclusions(ctx, rules)
}

// AddExclusion 添加排除规则
func (s *Service) AddExclusion(ctx context.Context, pattern string) ([]string, error) {
	return s.settings.AddExclusion(ctx, pattern)
}

// RemoveExclusion 删除排除规则
func (s *Service) RemoveExclusion(ctx context.Context, pattern string) ([]string, bool, error) {
	return s.settings.RemoveExclusion(ctx, pattern)
}

// ListTargets 列出浏览器页面
func (s *Service) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	return s.cdp.ListTargets(ctx)
}

// AttachTarget 附加浏览器页面并开始改写文档
func (s *Service) AttachTarget(ctx context.Context, id model.TargetID) (model.TargetID, error) {
	return s.cdp.AttachTarget(ctx, id)
}

// DetachTarget 断开浏览器页面
func (s *Service) DetachTarget(id model.TargetID) error { return s.cdp.DetachTarget(id) }

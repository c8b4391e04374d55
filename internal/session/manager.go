// Package session 管理页面会话：每个会话持有一个页面及其扫描控制器。
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"goldlens/internal/bus"
	"goldlens/internal/logger"
	"goldlens/internal/page"
	"goldlens/internal/scan"
	"goldlens/pkg/model"
)

var ErrSessionNotFound = errors.New("session: not found")

// Subscriber 通知订阅源
type Subscriber interface {
	Subscribe(h bus.Handler) (unsubscribe func())
}

// Session 单个页面会话
type Session struct {
	ID         model.SessionID
	Page       *page.Page
	Controller *scan.Controller
	CreatedAt  time.Time

	cancel      context.CancelFunc
	unsubscribe func()
}

// Manager 全局会话管理器
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*Session

	rates    scan.RateProvider
	settings scan.SettingsProvider
	subs     Subscriber
	opts     scan.Options
	events   chan model.Event
	log      logger.Logger
}

// Config 会话管理器依赖
type Config struct {
	Rates    scan.RateProvider
	Settings scan.SettingsProvider
	Notifier Subscriber
	Options  scan.Options
	Events   chan model.Event
	Logger   logger.Logger
}

// NewManager 创建会话管理器
func NewManager(cfg Config) *Manager {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	if cfg.Options.Logger == nil {
		cfg.Options.Logger = l
	}
	return &Manager{
		sessions: make(map[model.SessionID]*Session),
		rates:    cfg.Rates,
		settings: cfg.Settings,
		subs:     cfg.Notifier,
		opts:     cfg.Options,
		events:   cfg.Events,
		log:      l,
	}
}

// Open 解析文档并启动会话，ctx 结束时会话随之停止
func (m *Manager) Open(ctx context.Context, url string, r io.Reader) (*Session, error) {
	p, err := page.Parse(url, r)
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", url, err)
	}
	return m.Attach(ctx, p), nil
}

// Attach 为已有页面启动会话
func (m *Manager) Attach(ctx context.Context, p *page.Page) *Session {
	id := model.SessionID(uuid.New().String())
	cctx, cancel := context.WithCancel(ctx)
	c := scan.NewController(id, p, m.rates, m.settings, m.opts)
	s := &Session{ID: id, Page: p, Controller: c, CreatedAt: time.Now(), cancel: cancel}
	if m.subs != nil {
		s.unsubscribe = m.subs.Subscribe(c.Notify)
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	go func() {
		if err := c.Run(cctx); err != nil {
			m.log.Err(err, "页面控制器异常退出", "sessionID", string(id))
		}
	}()
	go m.forward(c)

	m.log.Info("创建页面会话", "sessionID", string(id), "url", p.URL())
	return s
}

// forward 将控制器事件转发到共享事件通道
func (m *Manager) forward(c *scan.Controller) {
	for {
		select {
		case e := <-c.Events():
			if m.events == nil {
				continue
			}
			select {
			case m.events <- e:
			default:
			}
		case <-c.Done():
			return
		}
	}
}

// Get 获取会话
func (m *Manager) Get(id model.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close 停止并销毁会话，等待控制器退出
func (m *Manager) Close(id model.SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.stop()
	m.log.Info("销毁页面会话", "sessionID", string(id))
	return nil
}

// CloseAll 停止全部会话
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.stop()
	}
}

// List 返回所有活动会话，按创建时间排序
func (m *Manager) List() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

func (s *Session) stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()
	<-s.Controller.Done()
}

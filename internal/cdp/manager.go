// Package cdp 通过浏览器调试协议拦截页面文档响应，并交给文档处理器改写。
package cdp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"
	"github.com/pkg/errors"

	"goldlens/internal/handler"
	"goldlens/internal/logger"
	"goldlens/pkg/model"
	"goldlens/pkg/traffic"
)

var ErrTargetNotFound = errors.New("cdp: target not found")

// DocumentHandler 文档响应处理器
type DocumentHandler interface {
	HandleDocument(ctx context.Context, req *traffic.Request, res *traffic.Response) (*traffic.Response, handler.Outcome)
}

// targetSession 单个已附加目标的连接状态
type targetSession struct {
	id     model.TargetID
	url    string
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager 管理目标附加与文档拦截
type Manager struct {
	devtoolsURL      string
	handler          DocumentHandler
	events           chan model.Event
	log              logger.Logger
	processTimeoutMS int
	pool             *workerPool
	enabled          atomic.Bool

	targetsMu sync.Mutex
	targets   map[model.TargetID]*targetSession
}

// Options 管理器选项
type Options struct {
	DevToolsURL      string
	ProcessTimeoutMS int
	Workers          int
	Logger           logger.Logger
}

// New 创建拦截管理器
func New(h DocumentHandler, events chan model.Event, opts Options) *Manager {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	m := &Manager{
		devtoolsURL:      opts.DevToolsURL,
		handler:          h,
		events:           events,
		log:              l,
		processTimeoutMS: opts.ProcessTimeoutMS,
		targets:          make(map[model.TargetID]*targetSession),
	}
	if opts.Workers > 0 {
		m.pool = newWorkerPool(opts.Workers, opts.Workers*4)
	}
	m.enabled.Store(true)
	return m
}

// ListTargets 列出浏览器中的页面目标
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list devtools targets")
	}
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()

	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		id := model.TargetID(t.ID)
		_, attached := m.targets[id]
		out = append(out, model.TargetInfo{
			ID:        id,
			Type:      string(t.Type),
			URL:       t.URL,
			Title:     t.Title,
			IsCurrent: attached,
			IsUser:    isUserPage(t.URL),
		})
	}
	return out, nil
}

// AttachTarget 附加到指定目标；target 为空时附加第一个页面
func (m *Manager) AttachTarget(ctx context.Context, target model.TargetID) (model.TargetID, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return "", errors.Wrap(err, "list devtools targets")
	}
	var sel *devtool.Target
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if target == "" || model.TargetID(t.ID) == target {
			sel = t
			break
		}
	}
	if sel == nil {
		return "", fmt.Errorf("%w: %s", ErrTargetNotFound, target)
	}
	id := model.TargetID(sel.ID)

	m.targetsMu.Lock()
	if _, ok := m.targets[id]; ok {
		m.targetsMu.Unlock()
		return id, nil
	}
	m.targetsMu.Unlock()

	tctx, cancel := context.WithCancel(context.Background())
	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return "", errors.Wrap(err, "dial devtools websocket")
	}
	ts := &targetSession{id: id, url: sel.URL, conn: conn, client: cdp.NewClient(conn), ctx: tctx, cancel: cancel}

	// 只拦截文档类型的响应阶段
	patterns := []fetch.RequestPattern{
		{ResourceType: network.ResourceTypeDocument, RequestStage: fetch.RequestStageResponse},
	}
	if err := ts.client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		m.closeTargetSession(ts)
		return "", errors.Wrap(err, "enable fetch domain")
	}

	m.targetsMu.Lock()
	m.targets[id] = ts
	m.targetsMu.Unlock()

	go m.consume(ts)
	m.log.Info("已附加目标", "target", string(id), "url", sel.URL)
	m.sendEvent(model.Event{Type: "attached", Target: id, URL: sel.URL})
	return id, nil
}

// DetachTarget 断开指定目标
func (m *Manager) DetachTarget(id model.TargetID) error {
	m.targetsMu.Lock()
	ts, ok := m.targets[id]
	if ok {
		delete(m.targets, id)
	}
	m.targetsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	m.closeTargetSession(ts)
	m.sendEvent(model.Event{Type: "detached", Target: id, URL: ts.url})
	return nil
}

// Attached 返回已附加的目标 ID
func (m *Manager) Attached() []model.TargetID {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]model.TargetID, 0, len(m.targets))
	for id := range m.targets {
		out = append(out, id)
	}
	return out
}

// Close 停止拦截并断开所有目标
func (m *Manager) Close() error {
	m.enabled.Store(false)
	m.targetsMu.Lock()
	sessions := make([]*targetSession, 0, len(m.targets))
	for id, ts := range m.targets {
		sessions = append(sessions, ts)
		delete(m.targets, id)
	}
	m.targetsMu.Unlock()

	for _, ts := range sessions {
		m.closeTargetSession(ts)
	}
	if m.pool != nil {
		m.pool.stop()
	}
	return nil
}

func (m *Manager) isEnabled() bool { return m.enabled.Load() }

// closeTargetSession 关闭目标连接，忽略重复关闭
func (m *Manager) closeTargetSession(ts *targetSession) {
	ts.cancel()
	if ts.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeoutOr(m.processTimeoutMS))
		_ = ts.client.Fetch.Disable(ctx)
		cancel()
	}
	if err := ts.conn.Close(); err != nil {
		m.log.Debug("关闭目标连接失败", "target", string(ts.id), "error", err.Error())
	}
}

func isUserPage(url string) bool {
	if url == "" || url == "about:blank" {
		return false
	}
	return !strings.HasPrefix(url, "devtools:") && !strings.HasPrefix(url, "chrome:")
}

package cdp

import (
	"context"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"

	cdpconv "goldlens/internal/adapter/cdp"
	"goldlens/internal/handler"
	"goldlens/pkg/model"
)

// handle 处理一次文档响应拦截：取响应体、交给处理器、回填或放行
func (m *Manager) handle(ts *targetSession, ev *fetch.RequestPausedReply) {
	ctx, cancel := context.WithTimeout(ts.ctx, timeoutOr(m.processTimeoutMS))
	defer cancel()
	start := time.Now()

	if ev.ResponseStatusCode == nil || ev.ResponseErrorReason != nil {
		m.continueResponse(ctx, ts, ev)
		return
	}

	req := cdpconv.ToNeutralRequest(ev)
	reply, err := ts.client.Fetch.GetResponseBody(ctx, fetch.NewGetResponseBodyArgs(ev.RequestID))
	if err != nil {
		m.log.Warn("获取响应体失败", "target", string(ts.id), "url", req.URL, "error", err.Error())
		m.continueResponse(ctx, ts, ev)
		return
	}
	body, err := cdpconv.DecodeBody(reply)
	if err != nil {
		m.log.Warn("解码响应体失败", "target", string(ts.id), "url", req.URL, "error", err.Error())
		m.continueResponse(ctx, ts, ev)
		return
	}

	res := cdpconv.ToNeutralResponse(ev, body)
	out, o := m.handler.HandleDocument(ctx, req, res)
	if o.Result != handler.ResultModified {
		m.continueResponse(ctx, ts, ev)
		m.sendEvent(model.Event{Type: "passed", Target: ts.id, URL: req.URL, Result: string(o.Result)})
		return
	}

	err = ts.client.Fetch.FulfillRequest(ctx, &fetch.FulfillRequestArgs{
		RequestID:       ev.RequestID,
		ResponseCode:    out.StatusCode,
		ResponseHeaders: cdpconv.ToHeaderEntries(out.Headers),
		Body:            out.Body,
	})
	if err != nil {
		m.log.Err(err, "回填响应失败", "target", string(ts.id), "url", req.URL)
		m.continueResponse(ctx, ts, ev)
		return
	}
	m.sendEvent(model.Event{Type: "converted", Target: ts.id, URL: req.URL, Result: string(o.Result), Converted: o.Converted})
	m.log.Debug("文档拦截处理完成", "url", req.URL, "converted", o.Converted, "duration", time.Since(start))
}

func (m *Manager) continueResponse(ctx context.Context, ts *targetSession, ev *fetch.RequestPausedReply) {
	if err := ts.client.Fetch.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID}); err != nil {
		m.log.Debug("放行响应失败", "target", string(ts.id), "error", err.Error())
	}
}

// dispatchPaused 根据并发配置调度单次拦截事件处理
func (m *Manager) dispatchPaused(ts *targetSession, ev *fetch.RequestPausedReply) {
	if m.pool == nil {
		go m.handle(ts, ev)
		return
	}
	if !m.pool.submit(func() { m.handle(ts, ev) }) {
		m.degradeAndContinue(ts, ev, "并发队列已满")
	}
}

// consume 持续接收拦截事件并分发处理
func (m *Manager) consume(ts *targetSession) {
	rp, err := ts.client.Fetch.RequestPaused(ts.ctx)
	if err != nil {
		m.log.Err(err, "订阅拦截事件流失败", "target", string(ts.id))
		m.handleTargetStreamClosed(ts, err)
		return
	}
	defer rp.Close()

	m.log.Info("开始消费拦截事件流", "target", string(ts.id))
	for {
		ev, err := rp.Recv()
		if err != nil {
			m.handleTargetStreamClosed(ts, err)
			return
		}
		m.dispatchPaused(ts, ev)
	}
}

// handleTargetStreamClosed 处理单个目标的拦截流终止
func (m *Manager) handleTargetStreamClosed(ts *targetSession, err error) {
	if !m.isEnabled() || ts.ctx.Err() != nil {
		m.log.Info("目标已断开，停止事件消费", "target", string(ts.id))
		return
	}
	m.log.Warn("拦截流被中断，自动移除目标", "target", string(ts.id), "error", err.Error())

	m.targetsMu.Lock()
	cur, ok := m.targets[ts.id]
	if ok && cur == ts {
		delete(m.targets, ts.id)
	}
	m.targetsMu.Unlock()
	if ok && cur == ts {
		m.closeTargetSession(ts)
		m.sendEvent(model.Event{Type: "detached", Target: ts.id, URL: ts.url, Error: err.Error()})
	}
}

// degradeAndContinue 统一的降级处理：直接放行响应
func (m *Manager) degradeAndContinue(ts *targetSession, ev *fetch.RequestPausedReply, reason string) {
	m.log.Warn("执行降级策略：直接放行", "target", string(ts.id), "reason", reason, "requestID", string(ev.RequestID))
	ctx, cancel := context.WithTimeout(ts.ctx, time.Second)
	defer cancel()
	m.continueResponse(ctx, ts, ev)
	m.sendEvent(model.Event{Type: "degraded", Target: ts.id, URL: ev.Request.URL, Result: reason})
}

// sendEvent 安全发送事件到通道，自动添加时间戳
func (m *Manager) sendEvent(evt model.Event) {
	if m.events == nil {
		return
	}
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case m.events <- evt:
	default:
	}
}

func timeoutOr(ms int) time.Duration {
	if ms <= 0 {
		ms = 3000
	}
	return time.Duration(ms) * time.Millisecond
}

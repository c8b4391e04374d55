package cdp

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/mafredri/cdp/protocol/fetch"

	"goldlens/pkg/traffic"
)

// 改写响应体后必须丢弃的头部
var staleHeaders = map[string]bool{
	"content-length":   true,
	"content-encoding": true,
	"content-md5":      true,
	"etag":             true,
}

// ToNeutralRequest 将 CDP 事件转换为中立 Request 模型
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.ResourceType)

	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			for k, v := range headers {
				req.Headers.Set(k, v)
			}
		}
	}
	return req
}

// ToNeutralResponse 将 CDP 事件转换为中立 Response 模型
func ToNeutralResponse(ev *fetch.RequestPausedReply, body []byte) *traffic.Response {
	res := traffic.NewResponse()
	if ev.ResponseStatusCode != nil {
		res.StatusCode = *ev.ResponseStatusCode
	}
	for _, h := range ev.ResponseHeaders {
		res.Headers.Set(h.Name, h.Value)
	}
	res.Body = body
	return res
}

// DecodeBody 解码 Fetch.getResponseBody 的返回
func DecodeBody(reply *fetch.GetResponseBodyReply) ([]byte, error) {
	if reply == nil {
		return nil, nil
	}
	if reply.Base64Encoded {
		return base64.StdEncoding.DecodeString(reply.Body)
	}
	return []byte(reply.Body), nil
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目，跳过与新响应体不一致的头部
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for k, v := range h {
		if staleHeaders[strings.ToLower(k)] {
			continue
		}
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
	}
	return entries
}

package cdp

import (
	"encoding/base64"
	"testing"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldlens/pkg/traffic"
)

func pausedDocument() *fetch.RequestPausedReply {
	status := 200
	return &fetch.RequestPausedReply{
		RequestID:    "req-1",
		ResourceType: network.ResourceTypeDocument,
		Request: network.Request{
			URL:     "https://example.com/",
			Method:  "GET",
			Headers: network.Headers(`{"Accept":"text/html"}`),
		},
		ResponseStatusCode: &status,
		ResponseHeaders: []fetch.HeaderEntry{
			{Name: "Content-Type", Value: "text/html; charset=utf-8"},
			{Name: "Content-Length", Value: "12"},
		},
	}
}

func TestToNeutral(t *testing.T) {
	ev := pausedDocument()
	req := ToNeutralRequest(ev)
	assert.Equal(t, "req-1", req.ID)
	assert.Equal(t, "Document", req.ResourceType)
	assert.Equal(t, "text/html", req.Headers.Get("accept"))

	res := ToNeutralResponse(ev, []byte("<p>$5</p>"))
	assert.Equal(t, 200, res.StatusCode)
	assert.True(t, res.IsHTML())
	assert.Equal(t, "12", res.Headers.Get("Content-Length"))
}

func TestDecodeBody(t *testing.T) {
	b, err := DecodeBody(&fetch.GetResponseBodyReply{Body: "<p>x</p>"})
	require.NoError(t, err)
	assert.Equal(t, "<p>x</p>", string(b))

	b, err = DecodeBody(&fetch.GetResponseBodyReply{Body: base64.StdEncoding.EncodeToString([]byte("hi")), Base64Encoded: true})
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b))

	_, err = DecodeBody(&fetch.GetResponseBodyReply{Body: "%%%", Base64Encoded: true})
	assert.Error(t, err)
}

func TestToHeaderEntriesDropsStale(t *testing.T) {
	h := traffic.Header{}
	h.Set("Content-Type", "text/html")
	h.Set("Content-Length", "10")
	h.Set("Content-Encoding", "gzip")
	entries := ToHeaderEntries(h)
	require.Len(t, entries, 1)
	assert.Equal(t, "content-type", entries[0].Name)
}

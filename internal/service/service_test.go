package service

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldlens/internal/config"
	"goldlens/internal/handler"
	"goldlens/internal/scan"
	"goldlens/pkg/model"
)

func newService(t *testing.T) *Service {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price": 2000, "updatedAt": "2026-10-18T08:00:00Z"}`))
	}))
	t.Cleanup(srv.Close)

	cfg := config.NewConfig()
	cfg.Sqlite.Dsn = filepath.Join(t.TempDir(), "goldlens.sqlite3")
	cfg.Rate.Sources = []config.RateSource{{Name: "local", URL: srv.URL, PricePath: "price", TimePath: "updatedAt", Unit: "gram"}}
	cfg.Rate.Retries = 0
	cfg.Scan.DebounceMS = 20

	s, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAnnotate(t *testing.T) {
	s := newService(t)
	var out bytes.Buffer
	o, err := s.Annotate(context.Background(), "https://example.com/", strings.NewReader(`<p>Price: $50,000</p>`), &out)
	require.NoError(t, err)
	assert.Equal(t, handler.ResultModified, o.Result)
	assert.Contains(t, out.String(), "25.00 g")

	history, err := s.RateHistory(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "local", history[0].Source)
}

func TestAnnotateRespectsSettings(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	require.NoError(t, s.SetEnabled(ctx, false))
	var out bytes.Buffer
	o, err := s.Annotate(ctx, "https://example.com/", strings.NewReader(`<p>$50,000</p>`), &out)
	require.NoError(t, err)
	assert.Equal(t, handler.ResultDisabled, o.Result)
	assert.Equal(t, `<p>$50,000</p>`, out.String())

	require.NoError(t, s.SetEnabled(ctx, true))
	rules, err := s.AddExclusion(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com"}, rules)

	out.Reset()
	o, err = s.Annotate(ctx, "https://www.example.com/x", strings.NewReader(`<p>$50,000</p>`), &out)
	require.NoError(t, err)
	assert.Equal(t, handler.ResultExcluded, o.Result)
	assert.Equal(t, "example.com", o.Rule)
}

func TestPageSessionFollowsSettings(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	id, err := s.OpenPage(ctx, "https://example.com/", strings.NewReader(`<p>$50,000</p>`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		html, err := s.PageHTML(id)
		return err == nil && strings.Contains(html, "25.00 g")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.SetDisplayFormat(ctx, model.DisplayTroy))
	require.Eventually(t, func() bool {
		html, _ := s.PageHTML(id)
		return strings.Contains(html, " ozt</span>")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.SetEnabled(ctx, false))
	require.Eventually(t, func() bool {
		html, _ := s.PageHTML(id)
		return !strings.Contains(html, `class="goldlens-converted"`)
	}, 2*time.Second, 10*time.Millisecond)

	sawDisabled := false
	for !sawDisabled {
		select {
		case e := <-s.Events():
			sawDisabled = e.Type == scan.EventState && e.State == scan.StateDisabled.String()
		case <-time.After(time.Second):
			t.Fatal("no disabled state event")
		}
	}

	require.NoError(t, s.ClosePage(id))
	_, err = s.PageHTML(id)
	assert.Error(t, err)
}

func TestNavigatePageRegatesExclusions(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, err := s.SetExclusions(ctx, []string{"example.com/private"})
	require.NoError(t, err)

	id, err := s.OpenPage(ctx, "https://example.com/", strings.NewReader(`<p>$50,000</p>`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		html, _ := s.PageHTML(id)
		return strings.Contains(html, `class="goldlens-converted"`)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.NavigatePage(id, "https://example.com/private/a"))
	require.Eventually(t, func() bool {
		html, _ := s.PageHTML(id)
		return !strings.Contains(html, `class="goldlens-converted"`)
	}, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, s.NavigatePage("missing", "https://example.com/"))
}

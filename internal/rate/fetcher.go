package rate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"goldlens/internal/config"
	"goldlens/internal/convert"
	"goldlens/internal/logger"
	"goldlens/internal/retrier"
	"goldlens/pkg/model"
)

const maxBody = 1 << 20

// HTTPFetcher 依次尝试配置的 HTTP 数据源
type HTTPFetcher struct {
	client  *http.Client
	sources []config.RateSource
	retry   *retrier.Retrier
	log     logger.Logger
}

// NewHTTPFetcher 创建抓取器，client 为 nil 时按配置的超时新建
func NewHTTPFetcher(cfg config.RateConfig, client *http.Client, l logger.Logger) *HTTPFetcher {
	if l == nil {
		l = logger.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	}
	p := retrier.DefaultPolicy()
	p.Retries = cfg.Retries
	f := &HTTPFetcher{client: client, sources: cfg.Sources, log: l}
	f.retry = retrier.New(p).OnRetry(func(attempt int, err error) {
		f.log.Debug("重试金价请求", "attempt", attempt, "error", err.Error())
	})
	return f
}

// Fetch 返回第一个成功数据源的每克美元价格
func (f *HTTPFetcher) Fetch(ctx context.Context) (*model.ExchangeRate, error) {
	if len(f.sources) == 0 {
		return nil, ErrNoSource
	}
	var msgs []string
	for _, src := range f.sources {
		r, err := retrier.DoWithData(ctx, f.retry, func(ctx context.Context) (*model.ExchangeRate, error) {
			return f.fetchOne(ctx, src)
		})
		if err == nil {
			return r, nil
		}
		f.log.Warn("金价数据源不可用", "source", src.Name, "error", err.Error())
		msgs = append(msgs, src.Name+": "+err.Error())
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Wrap(ErrRateUnavailable, strings.Join(msgs, "; "))
}

func (f *HTTPFetcher) fetchOne(ctx context.Context, src config.RateSource) (*model.ExchangeRate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, retrier.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, retrier.Permanent(err)
	}
	r, err := parseQuote(body, src, time.Now().UTC())
	if err != nil {
		return nil, retrier.Permanent(err)
	}
	return r, nil
}

// parseQuote 按 gjson 路径提取价格与时间，并换算为每克价格
func parseQuote(body []byte, src config.RateSource, now time.Time) (*model.ExchangeRate, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid json")
	}
	v := gjson.GetBytes(body, src.PricePath)
	if !v.Exists() {
		return nil, errors.Errorf("price path %q not found", src.PricePath)
	}
	raw := v.Raw
	if v.Type == gjson.String {
		raw = v.Str
	}
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "price %q", raw)
	}
	if !price.IsPositive() {
		return nil, errors.Errorf("non-positive price %s", price)
	}
	if src.Unit != "gram" {
		price = price.Div(convert.GramsPerTroyOunce)
	}

	observed := now
	if src.TimePath != "" {
		if t, ok := parseTime(gjson.GetBytes(body, src.TimePath)); ok {
			observed = t
		}
	}
	return &model.ExchangeRate{RatePerUnit: price, Source: src.Name, ObservedAt: observed}, nil
}

// parseTime 支持 RFC3339 字符串与秒/毫秒时间戳
func parseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.String:
		if t, err := time.Parse(time.RFC3339, v.Str); err == nil {
			return t.UTC(), true
		}
		if n, err := strconv.ParseInt(v.Str, 10, 64); err == nil {
			return unix(n), true
		}
	case gjson.Number:
		return unix(v.Int()), true
	}
	return time.Time{}, false
}

func unix(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

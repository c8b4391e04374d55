package rate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldlens/internal/config"
)

func serve(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func rateConfig(retries int, sources ...config.RateSource) config.RateConfig {
	return config.RateConfig{Sources: sources, TimeoutMS: 2000, Retries: retries, MaxAgeMS: 60000}
}

func TestFetchOunceQuote(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"price": 3110.34768, "updatedAt": "2025-01-02T03:04:05Z"}`, nil)
	f := NewHTTPFetcher(rateConfig(0, config.RateSource{
		Name: "primary", URL: srv.URL, PricePath: "price", TimePath: "updatedAt", Unit: "ounce",
	}), nil, nil)

	r, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, r.RatePerUnit.Equal(decimal.NewFromInt(100)), r.RatePerUnit.String())
	assert.Equal(t, "primary", r.Source)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), r.ObservedAt)
}

func TestFetchFallsBackAcrossSources(t *testing.T) {
	var badHits atomic.Int32
	bad := serve(t, http.StatusServiceUnavailable, `oops`, &badHits)
	good := serve(t, http.StatusOK, `{"items":[{"xauPrice":"2000.5"}],"ts":1735787045000}`, nil)

	f := NewHTTPFetcher(rateConfig(1,
		config.RateSource{Name: "bad", URL: bad.URL, PricePath: "price", Unit: "ounce"},
		config.RateSource{Name: "good", URL: good.URL, PricePath: "items.0.xauPrice", TimePath: "ts", Unit: "gram"},
	), nil, nil)

	r, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", r.Source)
	assert.True(t, r.RatePerUnit.Equal(decimal.RequireFromString("2000.5")))
	assert.Equal(t, time.UnixMilli(1735787045000).UTC(), r.ObservedAt)
	assert.Equal(t, int32(2), badHits.Load(), "5xx is retried")
}

func TestFetchClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, http.StatusNotFound, `{}`, &hits)
	f := NewHTTPFetcher(rateConfig(3, config.RateSource{Name: "nf", URL: srv.URL, PricePath: "price"}), nil, nil)

	_, err := f.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrRateUnavailable)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchNoSources(t *testing.T) {
	_, err := NewHTTPFetcher(config.RateConfig{}, nil, nil).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestParseQuote(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	src := config.RateSource{Name: "s", PricePath: "data.price", TimePath: "data.at", Unit: "gram"}

	r, err := parseQuote([]byte(`{"data":{"price":95.25,"at":1748736000}}`), src, now)
	require.NoError(t, err)
	assert.True(t, r.RatePerUnit.Equal(decimal.RequireFromString("95.25")))
	assert.Equal(t, time.Unix(1748736000, 0).UTC(), r.ObservedAt)

	r, err = parseQuote([]byte(`{"data":{"price":95.25,"at":"yesterday"}}`), src, now)
	require.NoError(t, err)
	assert.Equal(t, now, r.ObservedAt)

	for _, body := range []string{`not json`, `{"data":{}}`, `{"data":{"price":0}}`, `{"data":{"price":"abc"}}`} {
		_, err := parseQuote([]byte(body), src, now)
		assert.Error(t, err, body)
	}
}

package exclusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemTier(t *testing.T) {
	e, errs := New(nil)
	require.Empty(t, errs)

	for _, u := range []string{
		"https://chrome.google.com/webstore/detail/abc",
		"https://chromewebstore.google.com/",
		"https://addons.mozilla.org/en-US/firefox/",
		"https://docs.google.com/document/d/1",
		"https://sheets.google.com/",
		"chrome://settings",
		"about:blank",
		"chrome-extension://abcdef/popup.html",
	} {
		res := e.Eval(u)
		require.NotNil(t, res, u)
		assert.Equal(t, TierSystem, res.Tier, u)
		assert.True(t, e.SystemExcluded(u), u)
	}

	assert.Nil(t, e.Eval("https://chrome.google.com/search"))
	assert.Nil(t, e.Eval("https://example.com/"))
	assert.Len(t, System(), len(systemPatterns))
}

func TestSystemTierWinsOverUser(t *testing.T) {
	e, errs := New([]string{"docs.google.com", "*"})
	require.Empty(t, errs)

	res := e.Eval("https://docs.google.com/spreadsheets")
	require.NotNil(t, res)
	assert.Equal(t, TierSystem, res.Tier)
	assert.Equal(t, "docs.google.com", res.Pattern)

	res = e.Eval("https://example.com/")
	require.NotNil(t, res)
	assert.Equal(t, TierUser, res.Tier)
}

func TestUserPatterns(t *testing.T) {
	tests := []struct {
		pattern string
		url     string
		want    bool
	}{
		{"example.com", "https://example.com/", true},
		{"example.com", "https://shop.example.com/cart", true},
		{"example.com", "https://notexample.com/", false},
		{"*.example.com", "https://example.com/", true},
		{"*.example.com", "https://a.b.example.com/", true},
		{"Example.COM", "https://example.com/", true},
		{"example.com/blog", "https://example.com/blog/post-1", true},
		{"example.com/blog", "https://example.com/shop", false},
		{"example.com/*/prices", "https://example.com/us/prices/today", true},
		{"example.com/*/prices", "https://example.com/us/news", false},
		{"https://example.com", "http://example.com/", false},
		{"https://example.com", "https://example.com/", true},
		{"localhost:8080", "http://localhost:8080/x", true},
		{"localhost:8080", "http://localhost:9090/x", false},
		{"*", "https://anything.org/", true},
		{"regex:^https://[^/]+\\.gov/", "https://data.census.gov/table", true},
		{"regex:^https://[^/]+\\.gov/", "https://example.com/x.gov/", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.url, func(t *testing.T) {
			e, errs := New([]string{tt.pattern})
			require.Empty(t, errs)
			assert.Equal(t, tt.want, e.Eval(tt.url) != nil)
		})
	}
}

func TestInvalidPatterns(t *testing.T) {
	for _, p := range []string{"", "   ", "exa mple.com", "regex:(", "example.com:abc", "-bad.com", "foo.*.com"} {
		assert.ErrorIs(t, Validate(p), ErrInvalidPattern, p)
	}

	e, errs := New([]string{"good.com", "regex:("})
	assert.Len(t, errs, 1)
	assert.Equal(t, []string{"good.com"}, e.Patterns())
}

func TestUpdateReplacesUserTier(t *testing.T) {
	e, _ := New([]string{"a.com"})
	assert.NotNil(t, e.Eval("https://a.com/"))

	e.Update([]string{"b.com"})
	assert.Nil(t, e.Eval("https://a.com/"))
	assert.NotNil(t, e.Eval("https://b.com/"))

	e.Update(nil)
	assert.Nil(t, e.Eval("https://b.com/"))
}

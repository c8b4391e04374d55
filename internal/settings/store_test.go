package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldlens/internal/bus"
	"goldlens/internal/config"
	"goldlens/internal/exclusion"
	"goldlens/internal/storage"
	"goldlens/pkg/model"
)

func newStore(t *testing.T) (*Store, *[]model.Notification) {
	t.Helper()
	db, err := storage.Open(config.SqliteConfig{Dsn: filepath.Join(t.TempDir(), "s.sqlite3"), Prefix: "gl_"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	b := bus.New()
	var got []model.Notification
	b.Subscribe(func(n model.Notification) { got = append(got, n) })

	s, err := NewStore(db, b, nil)
	require.NoError(t, err)
	return s, &got
}

func TestLoadDefaults(t *testing.T) {
	s, _ := newStore(t)
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSettings(), got)
}

func TestSetAndLoad(t *testing.T) {
	s, notes := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEnabled(ctx, false))
	require.NoError(t, s.SetDisplayFormat(ctx, model.DisplayTroy))
	rules, err := s.SetExclusions(ctx, []string{" example.com ", "example.com", "", "*.shop.org/cart"})
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "*.shop.org/cart"}, rules)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, got.State.Enabled)
	assert.Equal(t, model.DisplayTroy, got.State.DisplayFormat)
	assert.Equal(t, []string{"example.com", "*.shop.org/cart"}, got.ExcludedURLs)

	require.Len(t, *notes, 3)
	assert.Equal(t, model.NotifyToggleConversion, (*notes)[0].Type)
	assert.False(t, (*notes)[0].Enabled)
	assert.Equal(t, model.NotifyDisplayFormatUpdated, (*notes)[1].Type)
	assert.Equal(t, model.NotifyExclusionsUpdated, (*notes)[2].Type)
	assert.Equal(t, rules, (*notes)[2].Rules)
}

func TestExclusionEditing(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.AddExclusion(ctx, "a.com")
	require.NoError(t, err)
	rules, err := s.AddExclusion(ctx, "b.com/path")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com/path"}, rules)

	rules, found, err := s.RemoveExclusion(ctx, "a.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"b.com/path"}, rules)

	_, found, err = s.RemoveExclusion(ctx, "missing.com")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRejectsInvalidInput(t *testing.T) {
	s, notes := newStore(t)
	ctx := context.Background()

	_, err := s.AddExclusion(ctx, "regex:(")
	assert.ErrorIs(t, err, exclusion.ErrInvalidPattern)
	assert.ErrorIs(t, s.SetDisplayFormat(ctx, "carats"), ErrInvalidFormat)
	assert.Empty(t, *notes)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.ExcludedURLs)
}

func TestDecodeTolerantDocument(t *testing.T) {
	got := decode(`{"enabled":false,"excludedUrls":["x.com"," ",""],"displayFormat":"weird"}`)
	assert.False(t, got.State.Enabled)
	assert.Equal(t, model.DisplayMetric, got.State.DisplayFormat)
	assert.Equal(t, []string{"x.com"}, got.ExcludedURLs)
}

func TestConcurrentExclusionEditsAreNotLost(t *testing.T) {
	db, err := storage.Open(config.SqliteConfig{Dsn: filepath.Join(t.TempDir(), "c.sqlite3"), Prefix: "gl_"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	s, err := NewStore(db, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddExclusion(ctx, fmt.Sprintf("site%d.example", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.ExcludedURLs, 10)

	wg.Add(2)
	go func() { defer wg.Done(); _, _, _ = s.RemoveExclusion(ctx, "site0.example") }()
	go func() { defer wg.Done(); _, _ = s.AddExclusion(ctx, "extra.example") }()
	wg.Wait()

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.ExcludedURLs, 10)
	assert.Contains(t, got.ExcludedURLs, "extra.example")
	assert.NotContains(t, got.ExcludedURLs, "site0.example")
}

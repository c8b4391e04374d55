// Package rate 获取、缓存并持久化每克黄金的美元价格。
package rate

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"goldlens/internal/config"
	"goldlens/internal/logger"
	"goldlens/pkg/model"
)

var (
	ErrRateUnavailable = errors.New("rate: no usable gold price")
	ErrNoSource        = errors.New("rate: no source configured")
)

// Source 单次抓取金价
type Source interface {
	Fetch(ctx context.Context) (*model.ExchangeRate, error)
}

// Store 金价持久化
type Store interface {
	Save(ctx context.Context, r *model.ExchangeRate) error
	Latest(ctx context.Context) (*model.ExchangeRate, error)
}

// Publisher 通知发布方
type Publisher interface {
	Publish(model.Notification)
}

// Service 金价服务：内存缓存、持久化快照、远端抓取三级
type Service struct {
	src      Source
	store    Store
	pub      Publisher
	log      logger.Logger
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time

	refreshMu sync.Mutex
	mu        sync.RWMutex
	cached    *model.ExchangeRate
	cachedAt  time.Time
}

// NewService 创建服务，store 与 pub 可为 nil
func NewService(cfg config.RateConfig, src Source, store Store, pub Publisher, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{
		src:      src,
		store:    store,
		pub:      pub,
		log:      l,
		maxAge:   time.Duration(cfg.MaxAgeMS) * time.Millisecond,
		interval: time.Duration(cfg.RefreshIntervalMS) * time.Millisecond,
		now:      time.Now,
	}
}

// Cached 返回内存中的快照
func (s *Service) Cached() *model.ExchangeRate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached
}

// GetCurrentRate 优先返回未过期的缓存，其次是未过期的持久化快照，最后远端抓取。
// 抓取失败但有旧快照时返回旧快照。
func (s *Service) GetCurrentRate(ctx context.Context) (*model.ExchangeRate, error) {
	if r := s.fresh(); r != nil {
		return r, nil
	}

	var persisted *model.ExchangeRate
	if s.store != nil {
		r, err := s.store.Latest(ctx)
		if err != nil {
			s.log.Warn("读取金价快照失败", "error", err.Error())
		} else if r.Valid() {
			persisted = r
			if s.now().Sub(r.ObservedAt) < s.maxAge {
				s.setCached(r)
				return r, nil
			}
		}
	}

	r, err := s.RefreshRate(ctx)
	if err == nil {
		return r, nil
	}
	if stale := s.Cached(); stale != nil {
		s.log.Warn("使用过期的金价缓存", "source", stale.Source, "observedAt", stale.ObservedAt)
		return stale, nil
	}
	if persisted != nil {
		s.log.Warn("使用过期的金价快照", "source", persisted.Source, "observedAt", persisted.ObservedAt)
		return persisted, nil
	}
	return nil, err
}

// RefreshRate 总是从远端抓取，成功后持久化并发布 rate-updated
func (s *Service) RefreshRate(ctx context.Context) (*model.ExchangeRate, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	r, err := s.src.Fetch(ctx)
	if err != nil {
		if !errors.Is(err, ErrRateUnavailable) && !errors.Is(err, ErrNoSource) {
			err = errors.Wrap(ErrRateUnavailable, err.Error())
		}
		return nil, err
	}
	if !r.Valid() {
		return nil, errors.Wrap(ErrRateUnavailable, "source returned non-positive price")
	}

	prev := s.Cached()
	s.setCached(r)
	if s.store != nil {
		if err := s.store.Save(ctx, r); err != nil {
			s.log.Warn("保存金价快照失败", "error", err.Error())
		}
	}
	s.log.Info("金价已刷新", "source", r.Source, "perGram", r.RatePerUnit.StringFixed(4), "observedAt", r.ObservedAt)
	if s.pub != nil && !prev.Equal(r) {
		s.pub.Publish(model.Notification{Type: model.NotifyRateUpdated, Rate: r})
	}
	return r, nil
}

// Run 按刷新间隔定时抓取，直到 ctx 结束
func (s *Service) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	if _, err := s.RefreshRate(ctx); err != nil {
		s.log.Warn("首次刷新金价失败", "error", err.Error())
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RefreshRate(ctx); err != nil {
				s.log.Warn("定时刷新金价失败", "error", err.Error())
			}
		}
	}
}

func (s *Service) fresh() *model.ExchangeRate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached != nil && s.now().Sub(s.cachedAt) < s.maxAge {
		return s.cached
	}
	return nil
}

func (s *Service) setCached(r *model.ExchangeRate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = r
	s.cachedAt = s.now()
}

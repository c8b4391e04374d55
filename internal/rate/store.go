package rate

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"goldlens/internal/storage"
	"goldlens/pkg/model"
)

// RateRecord 一次成功刷新的金价快照
type RateRecord struct {
	ID          uint            `gorm:"primaryKey"`
	RatePerUnit decimal.Decimal `gorm:"type:text;not null"`
	Source      string          `gorm:"size:64;not null"`
	ObservedAt  time.Time       `gorm:"index;not null"`
	CreatedAt   time.Time
}

// GormStore 金价历史
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&RateRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate rate records")
	}
	return &GormStore{db: db}, nil
}

// Save 写入一条快照
func (s *GormStore) Save(ctx context.Context, r *model.ExchangeRate) error {
	rec := RateRecord{RatePerUnit: r.RatePerUnit, Source: r.Source, ObservedAt: r.ObservedAt.UTC()}
	if err := s.db.WithContext(storage.WithOp(ctx, "rate.save")).Create(&rec).Error; err != nil {
		return errors.Wrap(err, "save rate")
	}
	return nil
}

// Latest 返回观测时间最新的快照，没有时返回 nil
func (s *GormStore) Latest(ctx context.Context) (*model.ExchangeRate, error) {
	list, err := s.History(ctx, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// History 按观测时间倒序返回最多 limit 条
func (s *GormStore) History(ctx context.Context, limit int) ([]model.ExchangeRate, error) {
	var recs []RateRecord
	err := s.db.WithContext(storage.WithOp(ctx, "rate.history")).
		Order("observed_at desc").Order("id desc").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "load rate history")
	}
	out := make([]model.ExchangeRate, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.ExchangeRate{RatePerUnit: rec.RatePerUnit, Source: rec.Source, ObservedAt: rec.ObservedAt.UTC()})
	}
	return out, nil
}

package persistence

import (
	"context"
	"fmt"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/pkg/xerr"
)

func (r *Repo) GetPrice(ctx context.Context) (*domain.PriceCacheEntry, error) {
	e := domain.PriceCacheEntry{ID: domain.PriceCacheID}
	if err := r.getDb(ctx).FirstOrCreate(&e, domain.PriceCacheEntry{ID: domain.PriceCacheID}).Error; err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("load price cache failed: %v", err))
	}
	return &e, nil
}

// SavePrice 四个数字和时间戳一次写入
func (r *Repo) SavePrice(ctx context.Context, e *domain.PriceCacheEntry) error {
	e.ID = domain.PriceCacheID
	err := r.Transaction(ctx, func(ctx context.Context) error {
		return r.getDb(ctx).Save(e).Error
	})
	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("save price cache failed: %v", err))
	}
	return nil
}

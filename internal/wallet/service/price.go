package service

import (
	"context"
	"time"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/pkg/logger"
	"btcwatch.com/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PriceCache 懒刷新的单行价格缓存。过期时同步调用一次行情源，没有后台刷新
type PriceCache struct {
	repo     domain.PriceRepo
	provider domain.PriceProvider
	currency string
	timeout  time.Duration

	sf  singleflight.Group
	now func() time.Time
}

func NewPriceCache(repo domain.PriceRepo, provider domain.PriceProvider, currency string, timeout time.Duration) *PriceCache {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PriceCache{
		repo:     repo,
		provider: provider,
		currency: currency,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Current 返回缓存价格，必要时先刷新。从未拿到过价格时 Price 为 domain.PriceUnavailable
func (c *PriceCache) Current(ctx context.Context) (domain.Quote, error) {
	e, err := c.repo.GetPrice(ctx)
	if err != nil {
		return domain.Quote{Price: domain.PriceUnavailable}, err
	}

	if !e.Fresh(c.now()) {
		// 同进程并发刷新合并成一次；跨进程最后写入者胜
		v, err, _ := c.sf.Do("price:"+c.currency, func() (interface{}, error) {
			return c.refresh(context.WithoutCancel(ctx))
		})
		if err != nil {
			return domain.Quote{Price: domain.PriceUnavailable}, err
		}
		e = v.(*domain.PriceCacheEntry)
	}

	if e.Price.IsZero() {
		return domain.Quote{Price: domain.PriceUnavailable}, nil
	}
	return quoteOf(e), nil
}

// refresh 行情源失败或返回零价格时保留原值，只有读库出错才返回 error
func (c *PriceCache) refresh(ctx context.Context) (*domain.PriceCacheEntry, error) {
	e, err := c.repo.GetPrice(ctx)
	if err != nil {
		return nil, err
	}
	if e.Fresh(c.now()) {
		return e, nil
	}

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	q, err := c.provider.Current(pctx, c.currency)
	if err != nil {
		metrics.PriceRefreshTotal.WithLabelValues("failed").Inc()
		logger.Warn(ctx, "price refresh failed, keep cached value",
			zap.String("currency", c.currency), zap.Error(err))
		return e, nil
	}
	if q.Price.IsZero() {
		metrics.PriceRefreshTotal.WithLabelValues("zero_price").Inc()
		logger.Warn(ctx, "provider returned zero price, keep cached value", zap.String("currency", c.currency))
		return e, nil
	}

	now := c.now().UTC()
	updated := &domain.PriceCacheEntry{
		ID:          domain.PriceCacheID,
		Price:       q.Price,
		Change24h:   q.Change24h,
		Low24h:      q.Low24h,
		High24h:     q.High24h,
		LastUpdated: &now,
	}
	if err := c.repo.SavePrice(ctx, updated); err != nil {
		// 新价格照常返回，下次请求再写
		metrics.PriceRefreshTotal.WithLabelValues("save_failed").Inc()
		logger.Warn(ctx, "save refreshed price failed",
			zap.String("currency", c.currency), zap.Error(err))
		return updated, nil
	}
	metrics.PriceRefreshTotal.WithLabelValues("updated").Inc()
	logger.Info(ctx, "price refreshed", zap.String("currency", c.currency), zap.String("price", q.Price.String()))
	return updated, nil
}

func quoteOf(e *domain.PriceCacheEntry) domain.Quote {
	return domain.Quote{
		Price:     e.Price,
		Change24h: e.Change24h,
		Low24h:    e.Low24h,
		High24h:   e.High24h,
	}
}

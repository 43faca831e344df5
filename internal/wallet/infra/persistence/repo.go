package persistence

import (
	"context"

	"btcwatch.com/internal/wallet/domain"
	"gorm.io/gorm"
)

type txKey struct{}

type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// 确保 Repo 实现了所有接口
var (
	_ domain.Repository      = (*Repo)(nil)
	_ domain.WalletRepo      = (*Repo)(nil)
	_ domain.AddressRepo     = (*Repo)(nil)
	_ domain.TransactionRepo = (*Repo)(nil)
	_ domain.PriceRepo       = (*Repo)(nil)
)

// Models 需要建表的模型
func Models() []interface{} {
	return []interface{}{
		&domain.Wallet{},
		&domain.Address{},
		&domain.Transaction{},
		&domain.PriceCacheEntry{},
	}
}

func (r *Repo) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(Models()...)
}

// Transaction 把 tx 注入 ctx，fn 里的 repo 调用自动走同一事务
func (r *Repo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		// 已在事务中，直接复用
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

package persistence

import (
	"context"
	"errors"
	"fmt"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/pkg/orm"
	"btcwatch.com/pkg/xerr"
	"gorm.io/gorm"
)

func (r *Repo) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	if err := r.getDb(ctx).Omit("Addresses").Create(w).Error; err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("create wallet failed: %v", err))
	}
	return nil
}

func (r *Repo) GetWallet(ctx context.Context, userID, id int64) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.getDb(ctx).
		Preload("Addresses", func(db *gorm.DB) *gorm.DB {
			return db.Order("is_change, derivation_index")
		}).
		Where("id = ? AND user_id = ?", id, userID).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.New(xerr.RecordNotFound, fmt.Sprintf("wallet %d not found", id))
		}
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query wallet failed: %v", err))
	}
	return &w, nil
}

func (r *Repo) ListWallets(ctx context.Context, userID int64, page, limit int) ([]*domain.Wallet, error) {
	var ws []*domain.Wallet
	q := r.getDb(ctx).
		Preload("Addresses", func(db *gorm.DB) *gorm.DB {
			return db.Order("is_change, derivation_index")
		}).
		Where("user_id = ?", userID).
		Order("id")
	if err := q.Scopes(orm.Paginate(page, limit)).Find(&ws).Error; err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("list wallets failed: %v", err))
	}
	return ws, nil
}

func (r *Repo) RenameWallet(ctx context.Context, userID, id int64, name string) error {
	res := r.getDb(ctx).Model(&domain.Wallet{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("name", name)
	if res.Error != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("rename wallet failed: %v", res.Error))
	}
	if res.RowsAffected == 0 {
		return xerr.New(xerr.RecordNotFound, fmt.Sprintf("wallet %d not found", id))
	}
	return nil
}

// DeleteWallet 显式级联，不依赖外键 ON DELETE
func (r *Repo) DeleteWallet(ctx context.Context, id int64) error {
	return r.Transaction(ctx, func(ctx context.Context) error {
		db := r.getDb(ctx)
		if err := db.Where("wallet_id = ?", id).Delete(&domain.Address{}).Error; err != nil {
			return xerr.New(xerr.DbError, fmt.Sprintf("delete addresses failed: %v", err))
		}
		if err := db.Where("wallet_id = ?", id).Delete(&domain.Transaction{}).Error; err != nil {
			return xerr.New(xerr.DbError, fmt.Sprintf("delete transactions failed: %v", err))
		}
		res := db.Delete(&domain.Wallet{}, id)
		if res.Error != nil {
			return xerr.New(xerr.DbError, fmt.Sprintf("delete wallet failed: %v", res.Error))
		}
		if res.RowsAffected == 0 {
			return xerr.New(xerr.RecordNotFound, fmt.Sprintf("wallet %d not found", id))
		}
		return nil
	})
}

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/pkg/xerr"
	"gorm.io/gorm"
)

func (r *Repo) HighestIndex(ctx context.Context, walletID int64, isChange bool) (int64, error) {
	var highest sql.NullInt64
	err := r.getDb(ctx).Model(&domain.Address{}).
		Select("MAX(derivation_index)").
		Where("wallet_id = ? AND is_change = ?", walletID, isChange).
		Row().Scan(&highest)
	if err != nil {
		return 0, xerr.New(xerr.DbError, fmt.Sprintf("query highest index failed: %v", err))
	}
	if !highest.Valid {
		return -1, nil
	}
	return highest.Int64, nil
}

// CreateAddresses 唯一索引冲突返回 Conflict，交给分配器重试
func (r *Repo) CreateAddresses(ctx context.Context, addrs []*domain.Address) error {
	if len(addrs) == 0 {
		return nil
	}
	if err := r.getDb(ctx).Create(addrs).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return xerr.Wrap(err, xerr.Conflict, "address index already allocated")
		}
		return xerr.New(xerr.DbError, fmt.Sprintf("insert addresses failed: %v", err))
	}
	return nil
}

func (r *Repo) ListAddresses(ctx context.Context, walletID int64) ([]*domain.Address, error) {
	var addrs []*domain.Address
	err := r.getDb(ctx).
		Where("wallet_id = ?", walletID).
		Order("is_change, derivation_index").
		Find(&addrs).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("list addresses failed: %v", err))
	}
	return addrs, nil
}

func (r *Repo) PrimaryAddresses(ctx context.Context, walletIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(walletIDs))
	if len(walletIDs) == 0 {
		return out, nil
	}

	var rows []*domain.Address
	err := r.getDb(ctx).
		Where("wallet_id IN ? AND is_change = ?", walletIDs, false).
		Where("derivation_index = (SELECT MIN(a2.derivation_index) FROM addresses a2 WHERE a2.wallet_id = addresses.wallet_id AND a2.is_change = ?)", false).
		Find(&rows).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query primary addresses failed: %v", err))
	}
	for _, a := range rows {
		out[a.WalletID] = a.Address
	}
	return out, nil
}

package persistence

import (
	"context"
	"errors"
	"fmt"

	"btcwatch.com/internal/wallet/domain"
	"btcwatch.com/pkg/xerr"
	"gorm.io/gorm"
)

func (r *Repo) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.Status == "" {
		tx.Status = domain.TxStatusPending
	}
	if err := r.getDb(ctx).Create(tx).Error; err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("create transaction failed: %v", err))
	}
	return nil
}

func (r *Repo) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := r.getDb(ctx).First(&tx, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.New(xerr.RecordNotFound, fmt.Sprintf("transaction %d not found", id))
		}
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query transaction failed: %v", err))
	}
	return &tx, nil
}

func (r *Repo) UpdateTransactionStatus(ctx context.Context, id int64, from, to domain.TxStatus) error {
	res := r.getDb(ctx).Model(&domain.Transaction{}).
		Where("id = ? AND status = ?", id, from). // 乐观锁：确保之前是 from
		Update("status", to)
	if res.Error != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("update status failed: %v", res.Error))
	}
	if res.RowsAffected == 0 {
		// 被别的请求先改了
		return xerr.New(xerr.Conflict, fmt.Sprintf("transaction %d is no longer %s", id, from))
	}
	return nil
}

func (r *Repo) ListWalletTransactions(ctx context.Context, walletID int64) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	if err := r.getDb(ctx).Where("wallet_id = ?", walletID).Order("id").Find(&txs).Error; err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("list transactions failed: %v", err))
	}
	return txs, nil
}

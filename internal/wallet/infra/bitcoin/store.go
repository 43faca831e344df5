package bitcoin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"btcwatch.com/pkg/xerr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// walletRow 后端登记的只读钱包，name 全局唯一
type walletRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Name       string    `gorm:"size:64;not null;uniqueIndex:uniq_backend_wallet_name"`
	Xpub       string    `gorm:"size:128;not null"`
	Network    string    `gorm:"size:16;not null"`
	ScriptType string    `gorm:"size:16;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (walletRow) TableName() string { return "backend_wallets" }

// keyRow 派生过的 key，查余额/UTXO 时按它们的地址去问 Esplora
type keyRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	HandleID  int64     `gorm:"not null;uniqueIndex:uniq_backend_key,priority:1"`
	Branch    uint32    `gorm:"not null;uniqueIndex:uniq_backend_key,priority:2"`
	Index     uint32    `gorm:"column:key_index;not null;uniqueIndex:uniq_backend_key,priority:3"`
	Address   string    `gorm:"size:100;not null;index"`
	Path      string    `gorm:"size:64;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (keyRow) TableName() string { return "backend_keys" }

// Models 给 AutoMigrate 用
func Models() []interface{} {
	return []interface{}{&walletRow{}, &keyRow{}}
}

type store struct {
	db *gorm.DB
}

func (s *store) createWallet(ctx context.Context, row *walletRow) error {
	err := s.db.WithContext(ctx).Create(row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return xerr.New(xerr.Conflict, fmt.Sprintf("wallet %q already exists in backend", row.Name))
	}
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "create backend wallet failed")
	}
	return nil
}

func (s *store) walletByName(ctx context.Context, name string) (*walletRow, error) {
	var row walletRow
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerr.New(xerr.RecordNotFound, fmt.Sprintf("backend wallet %q not found", name))
	}
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "load backend wallet failed")
	}
	return &row, nil
}

func (s *store) walletByID(ctx context.Context, id int64) (*walletRow, error) {
	var row walletRow
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerr.New(xerr.RecordNotFound, fmt.Sprintf("backend wallet %d not found", id))
	}
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "load backend wallet failed")
	}
	return &row, nil
}

func (s *store) exists(ctx context.Context, name string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&walletRow{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return false, xerr.Wrap(err, xerr.DbError, "count backend wallet failed")
	}
	return n > 0, nil
}

// deleteWallet 连 key 一起删
func (s *store) deleteWallet(ctx context.Context, name string) (*walletRow, error) {
	var row walletRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", name).First(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("handle_id = ?", row.ID).Delete(&keyRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&walletRow{}, row.ID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerr.New(xerr.RecordNotFound, fmt.Sprintf("backend wallet %q not found", name))
	}
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "delete backend wallet failed")
	}
	return &row, nil
}

// saveKey 同一个位置重复派生不报错
func (s *store) saveKey(ctx context.Context, k *keyRow) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(k).Error
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "save backend key failed")
	}
	return nil
}

func (s *store) keys(ctx context.Context, handleID int64) ([]keyRow, error) {
	var rows []keyRow
	err := s.db.WithContext(ctx).
		Where("handle_id = ?", handleID).
		Order("branch ASC, key_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "list backend keys failed")
	}
	return rows, nil
}

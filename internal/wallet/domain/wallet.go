package domain

import (
	"fmt"
	"strings"
	"time"

	"btcwatch.com/pkg/xerr"
)

type WalletType string

const (
	// WalletTypeStandard 预留类型，目前所有操作都拒绝
	WalletTypeStandard  WalletType = "standard"
	WalletTypeWatchOnly WalletType = "watch-only"
)

// InitialReceiveAddresses 新建只读钱包时预先分配的收款地址数
const InitialReceiveAddresses = 5

// DustLimit 低于该聪数的输出不可花费
const DustLimit int64 = 546

// HandleName 钱包在链后端的句柄名
func HandleName(walletID int64) string {
	return fmt.Sprintf("watch_only_%d", walletID)
}

func ParseWalletType(s string) (WalletType, error) {
	switch WalletType(strings.ToLower(strings.TrimSpace(s))) {
	case WalletTypeWatchOnly, "watch_only", "watchonly":
		return WalletTypeWatchOnly, nil
	case WalletTypeStandard:
		return WalletTypeStandard, nil
	default:
		return "", xerr.New(xerr.RequestParamsError, fmt.Sprintf("unknown wallet type %q", s))
	}
}

type Wallet struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64      `gorm:"index;not null" json:"userId"`
	Name      string     `gorm:"size:128;not null" json:"name"`
	Type      WalletType `gorm:"column:wallet_type;size:16;not null" json:"type"`
	Xpub      string     `gorm:"size:256" json:"-"` // 永远不回给前端
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	Addresses []Address `gorm:"foreignKey:WalletID" json:"addresses,omitempty"`
}

func (w *Wallet) HandleName() string { return HandleName(w.ID) }

// CheckSupported standard 类型统一在这里拒绝
func (w *Wallet) CheckSupported() error {
	switch w.Type {
	case WalletTypeWatchOnly:
		if w.Xpub == "" {
			return xerr.New(xerr.RequestParamsError, "watch-only wallet requires xpub")
		}
		return nil
	case WalletTypeStandard:
		return xerr.New(xerr.RequestParamsError, "unsupported wallet type: standard")
	default:
		return xerr.New(xerr.RequestParamsError, fmt.Sprintf("unsupported wallet type: %s", w.Type))
	}
}

// Address 派生出来的地址，插入后不再修改
type Address struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID int64  `gorm:"not null;uniqueIndex:uniq_wallet_branch_index,priority:1" json:"walletId"`
	IsChange bool   `gorm:"not null;uniqueIndex:uniq_wallet_branch_index,priority:2" json:"isChange"`
	Index    uint32 `gorm:"column:derivation_index;not null;uniqueIndex:uniq_wallet_branch_index,priority:3" json:"index"`
	Path     string `gorm:"size:64;not null" json:"path"`
	Address  string `gorm:"size:128;not null;index" json:"address"`

	CreatedAt time.Time `json:"createdAt"`
}

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// CanTransition 只允许 pending -> confirmed | failed
func (s TxStatus) CanTransition(to TxStatus) bool {
	return s == TxStatusPending && (to == TxStatusConfirmed || to == TxStatusFailed)
}

func ParseTxStatus(s string) (TxStatus, error) {
	switch st := TxStatus(strings.ToLower(s)); st {
	case TxStatusPending, TxStatusConfirmed, TxStatusFailed:
		return st, nil
	default:
		return "", xerr.New(xerr.RequestParamsError, fmt.Sprintf("unknown transaction status %q", s))
	}
}

// Transaction 本地记录的广播交易，金额单位聪
type Transaction struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID  int64     `gorm:"index;not null" json:"walletId"`
	TxID      string    `gorm:"column:txid;size:64;not null;index" json:"txid"`
	Amount    int64     `gorm:"not null" json:"amount"`
	Fee       int64     `gorm:"not null;default:0" json:"fee"`
	Status    TxStatus  `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Transaction) TableName() string { return "wallet_transactions" }

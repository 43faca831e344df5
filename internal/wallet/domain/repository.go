package domain

import "context"

type Repository interface {
	// Transaction fn 内的所有读写走同一个事务
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type WalletRepo interface {
	CreateWallet(ctx context.Context, w *Wallet) error
	// GetWallet 不属于该用户时同样返回 RecordNotFound
	GetWallet(ctx context.Context, userID, id int64) (*Wallet, error)
	ListWallets(ctx context.Context, userID int64, page, limit int) ([]*Wallet, error)
	RenameWallet(ctx context.Context, userID, id int64, name string) error
	// DeleteWallet 连同地址和交易一起删除
	DeleteWallet(ctx context.Context, id int64) error
}

type AddressRepo interface {
	// HighestIndex 没有地址时返回 -1
	HighestIndex(ctx context.Context, walletID int64, isChange bool) (int64, error)
	CreateAddresses(ctx context.Context, addrs []*Address) error
	ListAddresses(ctx context.Context, walletID int64) ([]*Address, error)
	// PrimaryAddresses walletID -> 最小序号的收款地址
	PrimaryAddresses(ctx context.Context, walletIDs []int64) (map[int64]string, error)
}

type TransactionRepo interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
	// UpdateTransactionStatus 只在当前状态为 from 时更新，否则 Conflict
	UpdateTransactionStatus(ctx context.Context, id int64, from, to TxStatus) error
	ListWalletTransactions(ctx context.Context, walletID int64) ([]*Transaction, error)
}

type PriceRepo interface {
	// GetPrice 单行不存在时创建 id=1 的空行
	GetPrice(ctx context.Context) (*PriceCacheEntry, error)
	SavePrice(ctx context.Context, e *PriceCacheEntry) error
}
